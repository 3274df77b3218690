package worker

import "testing"

func TestRunMatchPayloadRoundTrip(t *testing.T) {
	original := &RunMatchPayload{RunID: 42, UserID: "u-123"}

	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := UnmarshalRunMatchPayload(data)
	if err != nil {
		t.Fatalf("UnmarshalRunMatchPayload: %v", err)
	}

	if decoded.RunID != original.RunID || decoded.UserID != original.UserID {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalRunMatchPayloadInvalidJSON(t *testing.T) {
	if _, err := UnmarshalRunMatchPayload([]byte("not json")); err == nil {
		t.Error("expected error decoding invalid payload")
	}
}

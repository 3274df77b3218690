package worker

import "encoding/json"

// Task type constants.
const (
	TypeRunMatch = "run:match"
)

// RunMatchPayload carries everything the matching worker needs to resume
// work against an already-created run (§4.8, §5 background execution).
type RunMatchPayload struct {
	RunID  int64  `json:"runId"`
	UserID string `json:"userId"`
}

func (p *RunMatchPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalRunMatchPayload(data []byte) (*RunMatchPayload, error) {
	var p RunMatchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

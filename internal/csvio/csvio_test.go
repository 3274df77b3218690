package csvio

import (
	"strings"
	"testing"
)

func TestDecodeHeaderAndRows(t *testing.T) {
	input := "Address1,City,State,Zip\n123 Main St,Springfield,IL,62704\n456 Oak Ave,Capital City,IL,62701\n"

	headers, rows, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(headers) != 4 {
		t.Fatalf("headers = %v, want 4 columns", headers)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["City"] != "Springfield" {
		t.Errorf("rows[0][City] = %q, want Springfield", rows[0]["City"])
	}
	if rows[1]["Zip"] != "62701" {
		t.Errorf("rows[1][Zip] = %q, want 62701", rows[1]["Zip"])
	}
}

func TestDecodeShortRowPaddedWithEmptyStrings(t *testing.T) {
	input := "A,B,C\n1,2\n"

	headers, rows, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rows[0]["C"] != "" {
		t.Errorf("rows[0][C] = %q, want empty", rows[0]["C"])
	}
	_ = headers
}

func TestDecodeEmptyInputReturnsNoRows(t *testing.T) {
	headers, rows, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if headers != nil || rows != nil {
		t.Errorf("expected nil headers/rows for empty input, got %v %v", headers, rows)
	}
}

func TestDecodeInvalidUTF8ReplacedNotRejected(t *testing.T) {
	input := "Name\n" + string([]byte{0xff, 0xfe, 'X'}) + "\n"

	_, rows, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode returned error for invalid UTF-8, want replacement: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if !strings.Contains(rows[0]["Name"], "X") {
		t.Errorf("rows[0][Name] = %q, want to contain X", rows[0]["Name"])
	}
}

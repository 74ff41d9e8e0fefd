package section

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodePayload accepts the two shapes the legacy server answers with, a
// bare JSON array or an object wrapping the array in "jsonData", and
// returns the records. An object without jsonData yields no records.
func DecodePayload(raw []byte) (Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Result{}, nil
	}
	switch raw[0] {
	case '[':
		var records []Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return Result{}, fmt.Errorf("invalid records array: %w", err)
		}
		return Result{Records: records}, nil
	case '{':
		var wrapped struct {
			JSONData []Record `json:"jsonData"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return Result{}, fmt.Errorf("invalid jsonData payload: %w", err)
		}
		return Result{Records: wrapped.JSONData}, nil
	}
	return Result{}, fmt.Errorf("invalid payload: expected array or object, got %q", raw[0])
}

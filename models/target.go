package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// TargetID identifies a target. Target lists carry either integers or
// strings; both are kept in canonical string form.
type TargetID string

// UnmarshalJSON accepts a JSON number or string.
func (id *TargetID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TargetID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("target id must be a number or string: %w", err)
	}
	*id = TargetID(n.String())
	return nil
}

// MarshalJSON writes integer ids back as numbers.
func (id TargetID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id TargetID) String() string { return string(id) }

// Target is one unit of work: an identifier plus a navigable locator.
type Target struct {
	ID      TargetID `json:"id"`
	Locator string   `json:"url"`
	Label   string   `json:"name,omitempty"`
}

package models

import "time"

// Record maps field names to extracted values. A value is a string,
// []string, Record, []Record, Grid, or nil for an optional field that could
// not be located. Map fields produce map[string]any whose values are strings,
// or nil for a label with no value.
type Record map[string]any

// Grid is a heading/value table parsed from flat header and cell lists.
type Grid struct {
	Headings []string   `json:"headings"`
	Rows     [][]string `json:"rows"`
}

// Status of a target's output entry.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry is one line of the output stream.
type Entry struct {
	Target    Target       `json:"target"`
	Kind      string       `json:"kind,omitempty"`
	Key       string       `json:"key"`
	Status    Status       `json:"status"`
	Record    Record       `json:"record,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	ScrapedAt time.Time    `json:"scraped_at"`
}

// Summary counts the outcomes of one run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Succeeded  int           `json:"succeeded"`
	Skipped    int           `json:"skipped_duplicate"`
	Failed     int           `json:"failed"`
	Requeued   int           `json:"requeued"`
	ResumedAt  TargetID      `json:"resumed_after,omitempty"`
	Aborted    bool          `json:"aborted"`
	AbortCause *ErrorDetail  `json:"abort_cause,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

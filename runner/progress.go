package runner

import (
	"sync/atomic"
	"time"
)

// State of the orchestrator.
type State int32

const (
	Idle State = iota
	Authenticating
	Iterating
	Extracting
	Writing
	Done
	Aborted
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authenticating:
		return "authenticating"
	case Iterating:
		return "iterating"
	case Extracting:
		return "extracting"
	case Writing:
		return "writing"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Progress is the live view of a run. The runner writes it; the status
// server reads it from another goroutine.
type Progress struct {
	runID     atomic.Value // string
	current   atomic.Value // string
	state     atomic.Int32
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	remaining atomic.Int64
	started   atomic.Int64 // unix nanos
}

// Snapshot is a point-in-time copy of Progress.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Current   string    `json:"current,omitempty"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	Skipped   int64     `json:"skipped"`
	Remaining int64     `json:"remaining"`
	StartedAt time.Time `json:"started_at"`
}

func (p *Progress) start(runID string) {
	p.runID.Store(runID)
	p.current.Store("")
	p.started.Store(time.Now().UnixNano())
}

func (p *Progress) setState(s State) { p.state.Store(int32(s)) }

// State returns the current orchestrator state.
func (p *Progress) State() State { return State(p.state.Load()) }

func (p *Progress) Snapshot() Snapshot {
	s := Snapshot{
		State:     p.State().String(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		Remaining: p.remaining.Load(),
	}
	if v, ok := p.runID.Load().(string); ok {
		s.RunID = v
	}
	if v, ok := p.current.Load().(string); ok {
		s.Current = v
	}
	if ns := p.started.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns).UTC()
	}
	return s
}

package syncer

import "time"

// State is where the coordinator is in its lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateOffline State = "offline"
	StateError   State = "error"
)

// Outcome is the terminal status of one sync pass.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeOffline Outcome = "offline"
	OutcomeError   Outcome = "error"
)

// Result describes one pass. Shared is set when the caller joined a pass
// that was already running instead of starting its own.
type Result struct {
	Status    Outcome
	Error     string
	Retryable bool

	Pushed  int
	Parked  int
	Pulled  int
	Applied int

	Shared     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Result) OK() bool { return r.Status == OutcomeSuccess }

// Status is a snapshot of the coordinator for display.
type Status struct {
	State        State
	Online       bool
	LastSyncedAt *time.Time
	LastError    string
	Retryable    bool
	Pending      int
	Parked       int
}

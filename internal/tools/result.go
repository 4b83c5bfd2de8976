package tools

import "time"

// State is the tool lifecycle position.
type State string

const (
	StateNotStarted    State = "not_started"
	StateRunning       State = "running"
	StateSucceeded     State = "succeeded"
	StateTimedOut      State = "timed_out"
	StateProcessError  State = "process_error"
	StateTerminated    State = "terminated"
	StateMisconfigured State = "misconfigured"
)

// Terminal reports whether s is one of the finished states.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateTimedOut, StateProcessError, StateTerminated, StateMisconfigured:
		return true
	default:
		return false
	}
}

const (
	ReasonTimeout    = "timeout expired"
	ReasonTerminated = "terminated"
)

// Result is the outcome of one tool run. It is immutable once Finished is true.
type Result struct {
	State      State
	Finished   bool
	Failed     bool
	Reason     string
	ExitCode   int
	Stdout     string
	Stderr     string
	RawOutput  string
	Fields     map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time between start and finish, zero while unfinished.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

package model

import "time"

// Status is an Execution's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further transitions except
// resume/restart.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Execution is a single run of a workflow, identified by a stable thread id
// so checkpoints survive resume.
type Execution struct {
	ID           string
	WorkflowID   string
	ThreadID     string
	Status       Status
	InputData    map[string]any
	OutputData   map[string]any
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Steps []ExecutionStep
}

// ExecutionStep is the audit record for a single node dispatch.
type ExecutionStep struct {
	ID           string
	ExecutionID  string
	NodeID       string
	Status       Status
	InputData    map[string]any
	OutputData   map[string]any
	ErrorMessage string
	Metadata     map[string]any // the node's metadata delta, e.g. LLM token usage

	StartedAt   time.Time
	CompletedAt *time.Time
}

// Transition validates and applies a status change, returning a
// ConflictError if the transition is not legal per the FSM.
func (e *Execution) Transition(next Status, now time.Time) error {
	switch {
	case next == StatusRunning && e.Status == StatusPending:
		e.StartedAt = &now
	case next == StatusRunning && (e.Status == StatusFailed || e.Status == StatusCancelled):
		// resume
	case (next == StatusCompleted || next == StatusFailed || next == StatusCancelled) && e.Status == StatusRunning:
		e.CompletedAt = &now
	case next == StatusCancelled && e.Status == StatusCancelled:
		// idempotent no-op
	default:
		return &TransitionError{From: e.Status, To: next}
	}
	e.Status = next
	return nil
}

// TransitionError reports an illegal execution status transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "illegal execution transition: " + string(e.From) + " -> " + string(e.To)
}

// Package emit carries observability events out of a running execution to
// whatever backend is watching: a log, a buffer an HTTP handler drains, an
// OpenTelemetry collector, or nowhere at all.
package emit

// Msg names the five event kinds a scheduler emits.
const (
	MsgExecutionStarted  = "execution_started"
	MsgNodeStart         = "node_start"
	MsgNodeComplete      = "node_complete"
	MsgExecutionComplete = "execution_complete"
	MsgError             = "error"
)

// Event is one observability record emitted during a workflow execution.
type Event struct {
	// ExecutionID identifies the execution that emitted this event.
	ExecutionID string

	// ThreadID is the execution's stable thread id, carried on
	// execution_started so a subscriber can correlate without a lookup.
	ThreadID string

	// Step is the sequential execution-step number (1-indexed). Zero for
	// execution-level events (started, complete, error).
	Step int

	// NodeID identifies which node emitted this event, empty for
	// execution-level events.
	NodeID string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries the payload fields specific to Msg: "output" for
	// node_complete/execution_complete, "error" for error.
	Meta map[string]any
}

// Package agferrors defines the typed error taxonomy the core raises: one
// Go type per error kind, each exposing its own HTTP status, so callers
// can errors.As against exactly the kind they expect to recover from.
package agferrors

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed workflow or request, surfaced as
// HTTP 400.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return "validation error: " + e.Message
}
func (e *ValidationError) Unwrap() error { return e.Cause }
func (e *ValidationError) HTTPStatus() int { return 400 }

// NotFoundError reports a missing entity, surfaced as HTTP 404.
type NotFoundError struct {
	Kind string // "Workflow" | "Agent" | "Tool" | "Execution" | ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}
func (e *NotFoundError) HTTPStatus() int { return 404 }

// AuthenticationError reports a missing or invalid credential. Missing
// maps to 401, mismatched maps to 403.
type AuthenticationError struct {
	Reason   string
	Mismatch bool
}

func (e *AuthenticationError) Error() string { return "authentication error: " + e.Reason }
func (e *AuthenticationError) HTTPStatus() int {
	if e.Mismatch {
		return 403
	}
	return 401
}

// ProviderError reports an LLM provider adapter failure, surfaced as
// HTTP 502. Retryable marks transient failures (rate limits, 5xx, network)
// that an engine RetryPolicy's Retryable predicate may act on.
type ProviderError struct {
	Provider  string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Provider, e.Cause)
}
func (e *ProviderError) Unwrap() error   { return e.Cause }
func (e *ProviderError) HTTPStatus() int { return 502 }

// ToolExecutionError reports a tool that raised or returned non-success.
// During a live agent turn this is recovered locally as a tool-turn
// message and never surfaced as an HTTP error. Workflow validation
// reports a missing tool ref as WorkflowCompilationError, not as this
// type; HTTPStatus maps this type to 400.
type ToolExecutionError struct {
	ToolName string
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.ToolName, e.Cause)
}
func (e *ToolExecutionError) Unwrap() error   { return e.Cause }
func (e *ToolExecutionError) HTTPStatus() int { return 400 }

// WorkflowCompilationError reports a structural failure found at compile
// time: an unsupported node type, a dangling edge, a missing agent, or a
// subgraph inclusion cycle. Surfaced as HTTP 400.
type WorkflowCompilationError struct {
	WorkflowID string
	Message    string
}

func (e *WorkflowCompilationError) Error() string {
	return fmt.Sprintf("workflow %s failed to compile: %s", e.WorkflowID, e.Message)
}
func (e *WorkflowCompilationError) HTTPStatus() int { return 400 }

// ExecutionError reports a runtime failure within a specific node,
// surfaced as HTTP 500.
type ExecutionError struct {
	NodeID string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Cause)
}
func (e *ExecutionError) Unwrap() error   { return e.Cause }
func (e *ExecutionError) HTTPStatus() int { return 500 }

// NodeTimeoutError reports a node that exceeded its configured timeout
// (node.config.timeout_seconds, or the engine default). Surfaced as HTTP
// 504; the node is recorded failed, and is retried only when the engine's
// RetryPolicy accepts the error.
type NodeTimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *NodeTimeoutError) Error() string {
	return fmt.Sprintf("node %q exceeded timeout of %s", e.NodeID, e.Timeout)
}
func (e *NodeTimeoutError) HTTPStatus() int { return 504 }

// SchemaValidationError describes a structured-output parse failure. No
// code in this module constructs it: on a parse failure the agent loop
// keeps the raw string as output and records nothing on the execution
// step's error_message.
type SchemaValidationError struct {
	AgentID string
	Cause   error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("agent %q output failed schema validation: %v", e.AgentID, e.Cause)
}
func (e *SchemaValidationError) Unwrap() error { return e.Cause }

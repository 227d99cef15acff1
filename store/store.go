// Package store persists the entities a workflow compiles against and the
// executions/checkpoints a run produces. Store is implemented by an
// in-memory map (tests), SQLite, and MySQL; engine and compiler depend only
// on this interface.
package store

import (
	"context"
	"errors"

	"github.com/agentflow-run/agentflow/model"
)

// ErrNotFound is returned by any lookup that finds nothing, distinct from
// agferrors.NotFoundError (the API layer's HTTP-facing wrapper) so callers
// that don't care about HTTP status can errors.Is against one sentinel.
var ErrNotFound = errors.New("store: not found")

// Store is the full persistence surface the core needs: entity reads for
// the compiler, and execution/step/checkpoint read-writes for the
// scheduler. A single concrete type backs both concerns because the
// checkpoint-with-step-write atomicity requirement spans what would
// otherwise be two separate stores sharing one transaction.
type Store interface {
	// Agent, Tool, and Workflow satisfy compiler.EntityLookup structurally.
	Agent(ctx context.Context, id string) (*model.Agent, bool, error)
	Tool(ctx context.Context, id string) (*model.Tool, bool, error)
	Workflow(ctx context.Context, id string) (*model.Workflow, bool, error)

	CreateExecution(ctx context.Context, exec *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, bool, error)
	UpdateExecution(ctx context.Context, exec *model.Execution) error
	// DeleteExecution removes an execution record and its steps. It does
	// not touch the thread's checkpoint: a deleted execution's thread id
	// is never reused, so the orphaned checkpoint is harmless and is left
	// in place.
	DeleteExecution(ctx context.Context, id string) error
	ListSteps(ctx context.Context, executionID string) ([]model.ExecutionStep, error)

	// OpenStep inserts a step in the running state, assigning its ID if
	// empty. Not required to be atomic with anything else: no state fold
	// has happened yet.
	OpenStep(ctx context.Context, step *model.ExecutionStep) error

	// CommitStep closes a step (status/output/error, completed_at) and
	// saves the checkpoint snapshot for threadID at stepIndex in a single
	// transaction, satisfying the checkpointer's atomicity requirement.
	// Repeat calls for the same (threadID, stepIndex) must not error.
	CommitStep(ctx context.Context, step *model.ExecutionStep, threadID string, stepIndex int, snapshot map[string]any) error

	// LoadLatestCheckpoint returns the most recent snapshot saved for
	// threadID, or found=false if none exists.
	LoadLatestCheckpoint(ctx context.Context, threadID string) (stepIndex int, snapshot map[string]any, found bool, err error)
}

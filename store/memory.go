package store

import (
	"context"
	"maps"
	"strconv"
	"sync"

	"github.com/agentflow-run/agentflow/model"
)

// Memory is an in-process Store backed by plain maps, guarded by a single
// mutex. It satisfies the full Store interface and is used by engine and
// api tests, and as the default store for a process with no DATABASE_URL
// configured.
type Memory struct {
	mu sync.Mutex

	agents    map[string]*model.Agent
	tools     map[string]*model.Tool
	workflows map[string]*model.Workflow

	executions map[string]*model.Execution
	steps      map[string][]model.ExecutionStep // keyed by execution id

	checkpoints map[string]checkpointEntry // keyed by thread id: latest snapshot only
}

type checkpointEntry struct {
	stepIndex int
	snapshot  map[string]any
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:      map[string]*model.Agent{},
		tools:       map[string]*model.Tool{},
		workflows:   map[string]*model.Workflow{},
		executions:  map[string]*model.Execution{},
		steps:       map[string][]model.ExecutionStep{},
		checkpoints: map[string]checkpointEntry{},
	}
}

// PutAgent, PutTool, and PutWorkflow seed the entity maps; there is no
// CRUD surface here (out of scope), just enough to let the compiler
// resolve references in tests and in the minimal read-only API handlers.
func (m *Memory) PutAgent(a *model.Agent)       { m.mu.Lock(); defer m.mu.Unlock(); m.agents[a.ID] = a }
func (m *Memory) PutTool(t *model.Tool)         { m.mu.Lock(); defer m.mu.Unlock(); m.tools[t.ID] = t }
func (m *Memory) PutWorkflow(w *model.Workflow) { m.mu.Lock(); defer m.mu.Unlock(); m.workflows[w.ID] = w }

func (m *Memory) Agent(_ context.Context, id string) (*model.Agent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	return a, ok, nil
}

func (m *Memory) Tool(_ context.Context, id string) (*model.Tool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[id]
	return t, ok, nil
}

func (m *Memory) Workflow(_ context.Context, id string) (*model.Workflow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	return w, ok, nil
}

func (m *Memory) CreateExecution(_ context.Context, exec *model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = exec
	return nil
}

func (m *Memory) GetExecution(_ context.Context, id string) (*model.Execution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	return e, ok, nil
}

func (m *Memory) UpdateExecution(_ context.Context, exec *model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = exec
	return nil
}

func (m *Memory) DeleteExecution(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.executions, id)
	delete(m.steps, id)
	return nil
}

func (m *Memory) ListSteps(_ context.Context, executionID string) ([]model.ExecutionStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ExecutionStep, len(m.steps[executionID]))
	copy(out, m.steps[executionID])
	return out, nil
}

func (m *Memory) OpenStep(_ context.Context, step *model.ExecutionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step.ID == "" {
		step.ID = newStepID(m.steps[step.ExecutionID])
	}
	m.steps[step.ExecutionID] = append(m.steps[step.ExecutionID], *step)
	return nil
}

// CommitStep updates the step already opened for this execution and
// saves the checkpoint snapshot in the same critical section, standing
// in for the single-transaction guarantee a SQL-backed Store gives via a
// real database/sql.Tx.
func (m *Memory) CommitStep(_ context.Context, step *model.ExecutionStep, threadID string, stepIndex int, snapshot map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.steps[step.ExecutionID]
	for i := range list {
		if list[i].ID == step.ID {
			list[i] = *step
			break
		}
	}
	m.steps[step.ExecutionID] = list

	m.checkpoints[threadID] = checkpointEntry{stepIndex: stepIndex, snapshot: maps.Clone(snapshot)}
	return nil
}

func (m *Memory) LoadLatestCheckpoint(_ context.Context, threadID string) (int, map[string]any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.checkpoints[threadID]
	if !ok {
		return 0, nil, false, nil
	}
	return entry.stepIndex, maps.Clone(entry.snapshot), true, nil
}

func newStepID(existing []model.ExecutionStep) string {
	return "step-" + strconv.Itoa(len(existing)+1)
}

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/emit"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/store"
	"github.com/agentflow-run/agentflow/toolkit"
)

type fakeEntities struct {
	agents map[string]*model.Agent
}

func (f *fakeEntities) Agent(_ context.Context, id string) (*model.Agent, bool, error) {
	a, ok := f.agents[id]
	return a, ok, nil
}
func (f *fakeEntities) Tool(_ context.Context, _ string) (*model.Tool, bool, error) {
	return nil, false, nil
}
func (f *fakeEntities) Workflow(_ context.Context, _ string) (*model.Workflow, bool, error) {
	return nil, false, nil
}

func noopPlanRunner(_ context.Context, _ *compiler.Plan, _ string, _ state.Delta) (state.Delta, error) {
	return state.Delta{}, nil
}

// stubRunner returns outputs[agentID] as the node's delta, or an error if
// agentID is in failing.
func stubRunner(outputs map[string]string, failing map[string]error) compiler.AgentRunner {
	return func(_ context.Context, ag *model.Agent, _ []model.Tool, _ llm.Provider, _ *toolkit.Registry, _ *state.State, _ state.Delta) (state.Delta, error) {
		if err, ok := failing[ag.ID]; ok {
			return nil, err
		}
		out := outputs[ag.ID]
		return state.Delta{
			state.KeyCurrentNode:   ag.ID,
			state.KeyIntermediate: map[string]any{ag.ID: out},
			state.KeyOutput:        out,
		}, nil
	}
}

func compileWorkflow(t *testing.T, wf *model.Workflow, entities *fakeEntities, runner compiler.AgentRunner) *compiler.Plan {
	t.Helper()
	deps := compiler.CompileDeps{
		Entities:  entities,
		Providers: map[string]llm.Provider{"openai": &llm.MockProvider{}},
		Tools:     toolkit.NewRegistry(),
		RunAgent:  runner,
		RunPlan:   noopPlanRunner,
	}
	plan, warnings, err := compiler.Compile(context.Background(), wf, deps)
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected compile warnings: %v", warnings)
	}
	return plan
}

func newExecution(workflowID string) *model.Execution {
	return &model.Execution{ID: "exec-1", WorkflowID: workflowID, ThreadID: "thread-1", Status: model.StatusPending}
}

func TestExecute_LinearWorkflowCompletes(t *testing.T) {
	entities := &fakeEntities{agents: map[string]*model.Agent{
		"writer": {ID: "writer", LLM: model.LLMConfig{Provider: "openai", Model: "gpt-4o"}},
	}}
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "draft", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "writer"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "draft"},
			{SourceNode: "draft", TargetNode: model.EndNode},
		},
	}
	plan := compileWorkflow(t, wf, entities, stubRunner(map[string]string{"writer": "hello"}, nil))

	st := store.NewMemory()
	eng := New(st, emit.NewNullEmitter())
	exec := newExecution("wf1")
	if err := st.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := eng.Execute(context.Background(), plan, exec, state.Delta{state.KeyInput: map[string]any{"topic": "go"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != model.StatusCompleted {
		t.Errorf("expected status completed, got %v", exec.Status)
	}
	if exec.OutputData["output"] != "hello" {
		t.Errorf("expected output %q, got %v", "hello", exec.OutputData["output"])
	}

	steps, err := st.ListSteps(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != model.StatusCompleted {
		t.Fatalf("expected one completed step, got %+v", steps)
	}
}

func TestExecute_NodeFailureTransitionsExecutionFailed(t *testing.T) {
	entities := &fakeEntities{agents: map[string]*model.Agent{
		"writer": {ID: "writer", LLM: model.LLMConfig{Provider: "openai"}},
	}}
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "draft", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "writer"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "draft"},
			{SourceNode: "draft", TargetNode: model.EndNode},
		},
	}
	boom := errors.New("boom")
	plan := compileWorkflow(t, wf, entities, stubRunner(nil, map[string]error{"writer": boom}))

	st := store.NewMemory()
	eng := New(st, emit.NewNullEmitter())
	exec := newExecution("wf1")
	_ = st.CreateExecution(context.Background(), exec)

	err := eng.Execute(context.Background(), plan, exec, state.Delta{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if exec.Status != model.StatusFailed {
		t.Errorf("expected status failed, got %v", exec.Status)
	}
	if exec.ErrorMessage == "" {
		t.Error("expected an error message recorded on the execution")
	}
}

// TestExecute_ParallelJoinRejectsRacingOutputWrites: "left" and "right"
// are both agent nodes, and an agent unconditionally writes
// state.KeyOutput/state.KeyCurrentNode (both non-commutative), so
// whichever branch folds second would silently overwrite the other's
// contribution. Compile must reject this, not run it to a clean finish.
func TestExecute_ParallelJoinRejectsRacingOutputWrites(t *testing.T) {
	entities := &fakeEntities{agents: map[string]*model.Agent{
		"left":  {ID: "left", LLM: model.LLMConfig{Provider: "openai"}},
		"right": {ID: "right", LLM: model.LLMConfig{Provider: "openai"}},
	}}
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "fanout", Type: model.NodeParallel, Parallel: &model.ParallelConfig{ParallelNodes: []string{"left", "right"}}},
			{NodeID: "left", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "left"}},
			{NodeID: "right", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "right"}},
			{NodeID: "merge", Type: model.NodeJoin, Join: &model.JoinConfig{Strategy: model.JoinMerge, OutputKey: "merged"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "fanout"},
			{SourceNode: "left", TargetNode: "merge"},
			{SourceNode: "right", TargetNode: "merge"},
			{SourceNode: "merge", TargetNode: model.EndNode},
		},
	}
	deps := compiler.CompileDeps{
		Entities:  entities,
		Providers: map[string]llm.Provider{"openai": &llm.MockProvider{}},
		Tools:     toolkit.NewRegistry(),
		RunAgent:  stubRunner(map[string]string{"left": "L", "right": "R"}, nil),
		RunPlan:   noopPlanRunner,
	}
	if _, _, err := compiler.Compile(context.Background(), wf, deps); err == nil {
		t.Error("expected a compilation error for two agent branches racing on state.KeyOutput")
	}
}

func TestExecute_PreCancelledExecutionStopsBeforeAnyNodeRuns(t *testing.T) {
	entities := &fakeEntities{agents: map[string]*model.Agent{
		"writer": {ID: "writer", LLM: model.LLMConfig{Provider: "openai"}},
	}}
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "draft", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "writer"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "draft"},
			{SourceNode: "draft", TargetNode: model.EndNode},
		},
	}
	ran := false
	runner := func(ctx context.Context, ag *model.Agent, toolDefs []model.Tool, p llm.Provider, tk *toolkit.Registry, s *state.State, payload state.Delta) (state.Delta, error) {
		ran = true
		return state.Delta{state.KeyOutput: "should not happen"}, nil
	}
	plan := compileWorkflow(t, wf, entities, runner)

	st := store.NewMemory()
	eng := New(st, emit.NewNullEmitter())
	exec := newExecution("wf1")
	_ = st.CreateExecution(context.Background(), exec)

	eng.Cancel(exec.ID)
	if err := eng.Execute(context.Background(), plan, exec, state.Delta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != model.StatusCancelled {
		t.Errorf("expected status cancelled, got %v", exec.Status)
	}
	if ran {
		t.Error("expected the node to never run once cancellation was requested")
	}
}

// TestExecute_CancelMidFlightClosesOpenStep cancels from inside the node's
// own operator, after OpenStep has already put the step at status=running
// but before the run loop has had a chance to commit it as completed.
// finishCancelled must still close that step out to a terminal status.
func TestExecute_CancelMidFlightClosesOpenStep(t *testing.T) {
	entities := &fakeEntities{agents: map[string]*model.Agent{
		"writer": {ID: "writer", LLM: model.LLMConfig{Provider: "openai"}},
	}}
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "draft", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "writer"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "draft"},
			{SourceNode: "draft", TargetNode: model.EndNode},
		},
	}

	st := store.NewMemory()
	eng := New(st, emit.NewNullEmitter())
	exec := newExecution("wf1")
	_ = st.CreateExecution(context.Background(), exec)

	runner := func(_ context.Context, ag *model.Agent, _ []model.Tool, _ llm.Provider, _ *toolkit.Registry, _ *state.State, _ state.Delta) (state.Delta, error) {
		eng.Cancel(exec.ID)
		return state.Delta{state.KeyOutput: "hello"}, nil
	}
	plan := compileWorkflow(t, wf, entities, runner)

	if err := eng.Execute(context.Background(), plan, exec, state.Delta{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != model.StatusCancelled {
		t.Errorf("expected status cancelled, got %v", exec.Status)
	}

	steps, err := st.ListSteps(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected the in-flight step to be recorded, got %d", len(steps))
	}
	if steps[0].Status != model.StatusCancelled {
		t.Errorf("expected the in-flight step to resolve to cancelled, got %v", steps[0].Status)
	}
	if steps[0].CompletedAt == nil {
		t.Error("expected the in-flight step to have a completed_at timestamp")
	}
}

func TestResume_RestoresStateFromLatestCheckpoint(t *testing.T) {
	entities := &fakeEntities{agents: map[string]*model.Agent{
		"writer": {ID: "writer", LLM: model.LLMConfig{Provider: "openai"}},
		"editor": {ID: "editor", LLM: model.LLMConfig{Provider: "openai"}},
	}}
	wf := &model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "draft", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "writer"}},
			{NodeID: "edit", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "editor"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "draft"},
			{SourceNode: "draft", TargetNode: "edit"},
			{SourceNode: "edit", TargetNode: model.EndNode},
		},
	}
	plan := compileWorkflow(t, wf, entities, stubRunner(map[string]string{"writer": "draft text", "editor": "edited text"}, nil))

	st := store.NewMemory()
	eng := New(st, emit.NewNullEmitter())
	exec := newExecution("wf1")
	_ = st.CreateExecution(context.Background(), exec)

	// Simulate a failed run that got as far as "draft" committing its
	// checkpoint, then crashed before "edit" ran.
	exec.Status = model.StatusFailed
	snapshot := map[string]any{
		state.KeyCurrentNode:  "draft",
		state.KeyIntermediate: map[string]any{"draft": "draft text"},
		state.KeyOutput:       "draft text",
		state.KeyInput:        map[string]any{},
		state.KeyMessages:     []state.Message{},
		state.KeyMetadata:     map[string]any{},
	}
	step := &model.ExecutionStep{ExecutionID: exec.ID, NodeID: "draft", Status: model.StatusCompleted}
	_ = st.OpenStep(context.Background(), step)
	_ = st.CommitStep(context.Background(), step, exec.ThreadID, 1, snapshot)

	if err := eng.Resume(context.Background(), plan, exec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != model.StatusCompleted {
		t.Fatalf("expected status completed, got %v", exec.Status)
	}
	if exec.OutputData["output"] != "edited text" {
		t.Errorf("expected resumed run to only run \"edit\" and finish with its output, got %v", exec.OutputData["output"])
	}

	steps, _ := st.ListSteps(context.Background(), exec.ID)
	for _, s := range steps {
		if s.NodeID == "draft" && s.Status == model.StatusRunning {
			t.Error("resume must not re-run the already-completed node")
		}
	}
}

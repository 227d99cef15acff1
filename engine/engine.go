package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/cost"
	"github.com/agentflow-run/agentflow/emit"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/store"
)

// defaultFrontierCapacity bounds how many dispatches can be queued at
// once for a single execution before Enqueue starts applying
// backpressure.
const defaultFrontierCapacity = 256

// Engine drives compiled Plans to completion: one instance is shared by
// every execution in the process, Store and Emitter are its only
// per-execution-spanning state.
type Engine struct {
	Store   store.Store
	Emitter emit.Emitter

	// DefaultNodeTimeout is used for any node that doesn't declare its
	// own node.config.timeout_seconds. Zero means unlimited.
	DefaultNodeTimeout time.Duration

	// Retry governs automatic retry of a failed node's operator. Nil
	// disables retries entirely (the teacher's default posture: most
	// node failures are deterministic logic/schema errors, not
	// transient ones, so retrying by default would just waste calls).
	Retry *RetryPolicy

	// Metrics receives scheduler telemetry. Nil disables reporting.
	Metrics MetricsRecorder

	cancels sync.Map // execution id -> *atomic.Bool
}

// MetricsRecorder receives scheduler telemetry. metrics.Metrics implements
// this structurally so the engine package never imports prometheus.
type MetricsRecorder interface {
	ExecutionStarted()
	ExecutionFinished(status string)
	StepObserved(nodeID string, dur time.Duration, status string)
	RetryObserved(nodeID string)
}

// New returns an Engine ready to run executions against st, reporting
// progress through emitter.
func New(st store.Store, emitter emit.Emitter) *Engine {
	return &Engine{Store: st, Emitter: emitter}
}

// Cancel requests cooperative cancellation of an execution. A cancel
// issued before the execution starts on this process is remembered, and
// the run loop stops before dispatching its first node.
func (e *Engine) Cancel(executionID string) {
	e.cancelFlag(executionID).Store(true)
}

func (e *Engine) cancelFlag(executionID string) *atomic.Bool {
	flag, _ := e.cancels.LoadOrStore(executionID, new(atomic.Bool))
	return flag.(*atomic.Bool)
}

// Execute runs a freshly created Execution (status pending) to
// completion, cancellation, or failure, seeding state from input.
func (e *Engine) Execute(ctx context.Context, plan *compiler.Plan, exec *model.Execution, input state.Delta) error {
	s := state.New()
	plan.StateKeys.Fold(s, input)

	if err := exec.Transition(model.StatusRunning, now()); err != nil {
		return err
	}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, Msg: emit.MsgExecutionStarted})
	if e.Metrics != nil {
		e.Metrics.ExecutionStarted()
	}

	frontier := NewFrontier(defaultFrontierCapacity)
	if err := frontier.Enqueue(ctx, WorkItem{NodeID: plan.StartNode, OrderKey: ComputeOrderKey(model.StartNode, 0)}); err != nil {
		return err
	}

	return e.run(ctx, plan, exec, s, frontier, joinRemaining(plan), 0)
}

// Resume continues a failed or cancelled execution from its latest
// checkpoint: state is restored from the checkpoint snapshot and the
// frontier is reseeded at the node immediately after the last completed
// one, per the edges leaving it. Already-completed nodes are not re-run.
func (e *Engine) Resume(ctx context.Context, plan *compiler.Plan, exec *model.Execution) error {
	stepIndex, snapshot, found, err := e.Store.LoadLatestCheckpoint(ctx, exec.ThreadID)
	if err != nil {
		return err
	}
	s := state.New()
	if found {
		s = state.FromMap(snapshot)
	}

	if err := exec.Transition(model.StatusRunning, now()); err != nil {
		return err
	}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, Msg: emit.MsgExecutionStarted})
	if e.Metrics != nil {
		e.Metrics.ExecutionStarted()
	}

	lastNode := s.GetString(state.KeyCurrentNode)
	frontier := NewFrontier(defaultFrontierCapacity)
	next := plan.StartNode
	if lastNode != "" {
		if group, ok := plan.Edges[lastNode]; ok {
			target, evalErr := group.Resolve(s)
			if evalErr != nil {
				e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, NodeID: lastNode, Msg: emit.MsgError, Meta: map[string]any{"error": evalErr.Error()}})
			}
			if target != "" {
				next = target
			}
		}
	}
	if err := frontier.Enqueue(ctx, WorkItem{NodeID: next, ParentNodeID: lastNode, OrderKey: ComputeOrderKey(lastNode, 0)}); err != nil {
		return err
	}

	if stepIndex < 0 {
		stepIndex = 0
	}
	// Clear a flag left set by the cancel being resumed from.
	e.cancelFlag(exec.ID).Store(false)
	return e.run(ctx, plan, exec, s, frontier, joinRemaining(plan), stepIndex)
}

// RunPlan executes a sub-Plan to completion in-process and returns its
// final output delta, for a subgraphOperator's compiler.PlanRunner
// binding. Nested executions are not separately persisted — they have no
// execution id of their own, only the synthetic threadID the parent
// operator derives from its node id. Their node events are emitted with
// that threadID and an empty ExecutionID, so an SSEEmitter subscriber,
// keyed by execution id, does not receive them.
func (e *Engine) RunPlan(ctx context.Context, plan *compiler.Plan, threadID string, input state.Delta) (state.Delta, error) {
	s := state.New()
	plan.StateKeys.Fold(s, input)

	frontier := NewFrontier(defaultFrontierCapacity)
	if err := frontier.Enqueue(ctx, WorkItem{NodeID: plan.StartNode, OrderKey: ComputeOrderKey(model.StartNode, 0)}); err != nil {
		return nil, err
	}

	cancelFlag := new(atomic.Bool)
	joins := joinRemaining(plan)
	tracker := cost.NewTracker()

	for {
		if cancelFlag.Load() {
			return nil, context.Canceled
		}
		item, err := frontier.Dequeue(ctx)
		if err != nil {
			return nil, err
		}
		if item.NodeID == model.EndNode {
			return state.Delta{state.KeyOutput: s.Raw()[state.KeyOutput]}, nil
		}

		op, ok := plan.Nodes[item.NodeID]
		if !ok {
			return nil, &agferrors.ExecutionError{NodeID: item.NodeID, Cause: errUnknownNode}
		}
		e.Emitter.Emit(emit.Event{ThreadID: threadID, NodeID: item.NodeID, Msg: emit.MsgNodeStart})

		timeout := resolveTimeout(plan, item.NodeID, e.DefaultNodeTimeout)
		result, err := e.runOperator(ctx, op, s, item.Payload, timeout)
		if err != nil {
			e.Emitter.Emit(emit.Event{ThreadID: threadID, NodeID: item.NodeID, Msg: emit.MsgError, Meta: map[string]any{"error": err.Error()}})
			return nil, &agferrors.ExecutionError{NodeID: item.NodeID, Cause: err}
		}
		recordUsage(tracker, item.NodeID, result.Delta)
		plan.StateKeys.Fold(s, result.Delta)
		e.Emitter.Emit(emit.Event{ThreadID: threadID, NodeID: item.NodeID, Msg: emit.MsgNodeComplete})

		if len(result.Sends) > 0 {
			if err := e.dispatchFanOut(ctx, plan, s, item.NodeID, result.Sends, frontier, joins, threadID, tracker); err != nil {
				return nil, err
			}
			continue
		}
		if err := e.routeNext(ctx, plan, s, item.NodeID, 0, frontier, joins); err != nil {
			return nil, err
		}
	}
}

var errUnknownNode = &agferrors.ValidationError{Message: "dispatched node id not present in compiled plan"}

// joinRemaining seeds a fresh barrier-countdown map from the Plan's
// static fan-in widths.
func joinRemaining(plan *compiler.Plan) map[string]int {
	out := make(map[string]int, len(plan.JoinBarriers))
	for k, v := range plan.JoinBarriers {
		out[k] = v
	}
	return out
}

// run is the persisted main loop shared by Execute and Resume: it pops
// dispatches off frontier, runs each against the live shared state,
// checkpoints the fold, and emits progress, until the frontier drains at
// __end__, the execution is cancelled, or a node fails.
func (e *Engine) run(ctx context.Context, plan *compiler.Plan, exec *model.Execution, s *state.State, frontier *Frontier, joins map[string]int, stepIndex int) error {
	cancelFlag := e.cancelFlag(exec.ID)
	tracker := cost.NewTracker()

	for {
		if cancelFlag.Load() {
			return e.finishCancelled(ctx, exec, nil, stepIndex, s)
		}

		item, err := frontier.Dequeue(ctx)
		if err != nil {
			return e.finishCancelled(ctx, exec, nil, stepIndex, s)
		}

		if item.NodeID == model.EndNode {
			return e.finishCompleted(ctx, exec, s, tracker)
		}

		op, ok := plan.Nodes[item.NodeID]
		if !ok {
			return e.finishFailed(ctx, exec, item.NodeID, &agferrors.ExecutionError{NodeID: item.NodeID, Cause: errUnknownNode})
		}

		step := &model.ExecutionStep{
			ExecutionID: exec.ID,
			NodeID:      item.NodeID,
			Status:      model.StatusRunning,
			InputData:   map[string]any(item.Payload),
			StartedAt:   now(),
		}
		if err := e.Store.OpenStep(ctx, step); err != nil {
			return err
		}
		e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, Step: stepIndex + 1, NodeID: item.NodeID, Msg: emit.MsgNodeStart})

		if cancelFlag.Load() {
			return e.finishCancelled(ctx, exec, step, stepIndex, s)
		}

		timeout := resolveTimeout(plan, item.NodeID, e.DefaultNodeTimeout)
		result, runErr := e.runOperator(ctx, op, s, item.Payload, timeout)

		if cancelFlag.Load() {
			return e.finishCancelled(ctx, exec, step, stepIndex, s)
		}

		if runErr != nil {
			completed := now()
			step.Status = model.StatusFailed
			step.ErrorMessage = runErr.Error()
			step.CompletedAt = &completed
			_ = e.Store.CommitStep(ctx, step, exec.ThreadID, stepIndex, s.Raw())
			return e.finishFailed(ctx, exec, item.NodeID, runErr)
		}

		recordUsage(tracker, item.NodeID, result.Delta)
		plan.StateKeys.Fold(s, result.Delta)

		completed := now()
		step.Status = model.StatusCompleted
		step.OutputData = map[string]any(result.Delta)
		step.Metadata = usageFromDelta(result.Delta)
		step.CompletedAt = &completed
		if len(result.Sends) == 0 {
			if evalErr := peekRouteError(plan, s, item.NodeID); evalErr != nil {
				step.ErrorMessage = evalErr.Error()
			}
		}
		stepIndex++
		if err := e.Store.CommitStep(ctx, step, exec.ThreadID, stepIndex, s.Raw()); err != nil {
			return err
		}
		e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, Step: stepIndex, NodeID: item.NodeID, Msg: emit.MsgNodeComplete})

		if len(result.Sends) > 0 {
			if err := e.dispatchFanOut(ctx, plan, s, item.NodeID, result.Sends, frontier, joins, exec.ThreadID, tracker); err != nil {
				return e.finishFailed(ctx, exec, item.NodeID, err)
			}
			continue
		}
		if err := e.routeNext(ctx, plan, s, item.NodeID, 0, frontier, joins); err != nil {
			return e.finishFailed(ctx, exec, item.NodeID, err)
		}
	}
}

// runOperator applies Engine.Retry around a single timeout-bounded
// operator invocation, reporting its outcome and latency through Metrics
// when one is configured.
func (e *Engine) runOperator(ctx context.Context, op compiler.Operator, s *state.State, payload state.Delta, timeout time.Duration) (compiler.OperatorResult, error) {
	attempt := 0
	for {
		started := time.Now()
		result, err := runWithTimeout(ctx, op, s, payload, timeout)
		if e.Metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			e.Metrics.StepObserved(op.NodeID(), time.Since(started), status)
		}
		if err == nil {
			return result, nil
		}
		if !e.Retry.shouldRetry(attempt, err) {
			return result, err
		}
		if e.Metrics != nil {
			e.Metrics.RetryObserved(op.NodeID())
		}
		delay := computeBackoff(attempt, e.Retry.BaseDelay, e.Retry.MaxDelay)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

// dispatchFanOut runs every Send concurrently (isolated state clones),
// waits for all of them, then folds each result into the shared state in
// ComputeOrderKey order, so concurrent goroutine completion doesn't make
// the fold sequence nondeterministic, and routes each sibling onward
// (through the join-barrier countdown when it lands on one).
func (e *Engine) dispatchFanOut(ctx context.Context, plan *compiler.Plan, s *state.State, parentNodeID string, sends []compiler.Send, frontier *Frontier, joins map[string]int, threadID string, tracker *cost.Tracker) error {
	type branchResult struct {
		target string
		delta  state.Delta
		err    error
	}

	results := make([]branchResult, len(sends))
	var wg sync.WaitGroup
	for i, send := range sends {
		wg.Add(1)
		go func(i int, send compiler.Send) {
			defer wg.Done()
			branchState := s.Clone()
			op, ok := plan.Nodes[send.Target]
			if !ok {
				results[i] = branchResult{err: &agferrors.ExecutionError{NodeID: send.Target, Cause: errUnknownNode}}
				return
			}
			timeout := resolveTimeout(plan, send.Target, e.DefaultNodeTimeout)
			res, err := e.runOperator(ctx, op, branchState, send.Payload, timeout)
			results[i] = branchResult{target: send.Target, delta: res.Delta, err: err}
		}(i, send)
	}
	wg.Wait()

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return ComputeOrderKey(parentNodeID, order[a]) < ComputeOrderKey(parentNodeID, order[b])
	})

	for _, idx := range order {
		r := results[idx]
		if r.err != nil {
			return r.err
		}
		recordUsage(tracker, r.target, r.delta)
		plan.StateKeys.Fold(s, r.delta)
		e.Emitter.Emit(emit.Event{ThreadID: threadID, NodeID: r.target, Msg: emit.MsgNodeComplete})
		if err := e.routeNext(ctx, plan, s, r.target, idx, frontier, joins); err != nil {
			return err
		}
	}
	return nil
}

// peekRouteError re-resolves nodeID's outgoing edge group purely to
// surface a conditional's evaluation error onto the step committing for
// that node; routeNext resolves the same group again when it actually
// routes. Resolution only reads s, so doing it twice is cheaper than
// threading the result across the commit in between.
func peekRouteError(plan *compiler.Plan, s *state.State, nodeID string) error {
	group, ok := plan.Edges[nodeID]
	if !ok {
		return nil
	}
	_, evalErr := group.Resolve(s)
	return evalErr
}

// routeNext resolves the edge leaving nodeID and enqueues its target,
// unless the target is a join node still waiting on other siblings — in
// which case the barrier is decremented and the join is enqueued only
// once every sibling has landed.
func (e *Engine) routeNext(ctx context.Context, plan *compiler.Plan, s *state.State, nodeID string, edgeIndex int, frontier *Frontier, joins map[string]int) error {
	group, ok := plan.Edges[nodeID]
	if !ok {
		return nil // no outgoing edge declared: this branch simply ends here
	}
	target, _ := group.Resolve(s)
	if target == "" {
		return nil
	}

	if remaining, isJoin := joins[target]; isJoin {
		remaining--
		joins[target] = remaining
		if remaining > 0 {
			return nil
		}
	}
	return frontier.Enqueue(ctx, WorkItem{NodeID: target, ParentNodeID: nodeID, OrderKey: ComputeOrderKey(nodeID, edgeIndex)})
}

func (e *Engine) finishCompleted(ctx context.Context, exec *model.Execution, s *state.State, tracker *cost.Tracker) error {
	if err := exec.Transition(model.StatusCompleted, now()); err != nil {
		return err
	}
	exec.OutputData = map[string]any{"output": s.Raw()[state.KeyOutput], "cost_usd": tracker.Total()}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, Msg: emit.MsgExecutionComplete})
	if e.Metrics != nil {
		e.Metrics.ExecutionFinished(string(exec.Status))
	}
	return nil
}

func (e *Engine) finishFailed(ctx context.Context, exec *model.Execution, nodeID string, cause error) error {
	if err := exec.Transition(model.StatusFailed, now()); err != nil {
		return err
	}
	exec.ErrorMessage = cause.Error()
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, NodeID: nodeID, Msg: emit.MsgError, Meta: map[string]any{"error": cause.Error()}})
	if e.Metrics != nil {
		e.Metrics.ExecutionFinished(string(exec.Status))
	}
	return cause
}

// finishCancelled is reached either because cancelFlag was observed set
// or because the context was cancelled out from under Dequeue; both are
// the cooperative-cancellation path, not a node failure. step is the
// execution step open for the node that was in flight when cancellation
// was observed, or nil if none was open (cancelled between dispatches).
func (e *Engine) finishCancelled(ctx context.Context, exec *model.Execution, step *model.ExecutionStep, stepIndex int, s *state.State) error {
	if step != nil && step.CompletedAt == nil {
		completed := now()
		step.Status = model.StatusCancelled
		step.CompletedAt = &completed
		// Background context for the same reason as the UpdateExecution
		// call below: ctx may already be the cancelled one, and an
		// in-flight step must still resolve to a terminal status.
		_ = e.Store.CommitStep(context.Background(), step, exec.ThreadID, stepIndex, s.Raw())
	}

	if err := exec.Transition(model.StatusCancelled, now()); err != nil {
		if exec.Status == model.StatusCancelled {
			return nil // already cancelled: idempotent no-op
		}
		return err
	}
	// UpdateExecution uses a background context deliberately: ctx here may
	// already be the cancelled one, and the status write must still land.
	if err := e.Store.UpdateExecution(context.Background(), exec); err != nil {
		return err
	}
	e.Emitter.Emit(emit.Event{ExecutionID: exec.ID, ThreadID: exec.ThreadID, Msg: emit.MsgError, Meta: map[string]any{"cancelled": true}})
	if e.Metrics != nil {
		e.Metrics.ExecutionFinished(string(exec.Status))
	}
	return nil
}

// recordUsage feeds a node's reported llm.Usage (state.metadata.usage, set
// by agent.Run) into tracker, a no-op for nodes that reported none.
func recordUsage(tracker *cost.Tracker, nodeID string, delta state.Delta) {
	meta, _ := delta[state.KeyMetadata].(map[string]any)
	usage, _ := meta["usage"].(map[string]any)
	if usage == nil {
		return
	}
	modelName, _ := usage["model"].(string)
	prompt, _ := usage["prompt_tokens"].(int)
	completion, _ := usage["completion_tokens"].(int)
	tracker.Record(nodeID, modelName, prompt, completion)
}

func usageFromDelta(delta state.Delta) map[string]any {
	meta, _ := delta[state.KeyMetadata].(map[string]any)
	return meta
}

func now() time.Time { return time.Now() }

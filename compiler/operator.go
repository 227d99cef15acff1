package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/toolkit"
)

// Send is one fan-out target a Parallel operator emits: Target runs
// against Payload, an isolated copy of the dispatching state plus the
// per-item keys folded in — siblings must observe an isolated snapshot
// at dispatch time.
type Send struct {
	Target  string
	Payload state.Delta
}

// OperatorResult is what running a node produces: a partial state update
// to fold through the reducer table, and optionally explicit fan-out
// targets (Parallel). The next node is chosen by the plan's edge groups,
// not by the result.
type OperatorResult struct {
	Delta state.Delta
	Sends []Send
}

// Operator is the compiled, runnable form of a Node.
type Operator interface {
	NodeID() string
	Run(ctx context.Context, s *state.State, payload state.Delta) (OperatorResult, error)
}

// PlanRunner executes a compiled sub-Plan to completion and returns its
// final output delta, closing the loop a SubGraph operator needs without
// giving this package a direct dependency on the scheduler package that
// implements it (engine.Engine provides this by binding one of its own
// methods when it calls Compile).
type PlanRunner func(ctx context.Context, plan *Plan, threadID string, input state.Delta) (state.Delta, error)

// --- Agent ---------------------------------------------------------------

// agentOperator runs the bounded tool-calling loop for one agent-typed
// node. The loop itself lives outside this package (injected as run) so
// compiler never depends on the llm/toolkit wiring beyond the types
// needed to describe the binding.
type agentOperator struct {
	nodeID   string
	agent    *model.Agent
	toolDefs []model.Tool
	provider llm.Provider
	tools    *toolkit.Registry
	run      AgentRunner
}

func (o *agentOperator) NodeID() string { return o.nodeID }

func (o *agentOperator) Run(ctx context.Context, s *state.State, payload state.Delta) (OperatorResult, error) {
	delta, err := o.run(ctx, o.agent, o.toolDefs, o.provider, o.tools, s, payload)
	if err != nil {
		return OperatorResult{}, err
	}
	return OperatorResult{Delta: delta}, nil
}

// --- Router -----------------------------------------------------------

// routerOperator returns only a current_node update; the actual routing
// decision lives in the node's EdgeGroup (built from RouterConfig), which
// the scheduler consults on the next step exactly as it would for any
// other node.
type routerOperator struct {
	nodeID string
}

func (o *routerOperator) NodeID() string { return o.nodeID }

func (o *routerOperator) Run(_ context.Context, _ *state.State, _ state.Delta) (OperatorResult, error) {
	return OperatorResult{Delta: state.Delta{state.KeyCurrentNode: o.nodeID}}, nil
}

// --- Parallel -----------------------------------------------------------

type parallelOperator struct {
	nodeID    string
	targets   []string
	fanOutKey string // empty means static fan-out to every target
}

func (o *parallelOperator) NodeID() string { return o.nodeID }

func (o *parallelOperator) Run(_ context.Context, s *state.State, _ state.Delta) (OperatorResult, error) {
	if o.fanOutKey == "" {
		sends := make([]Send, len(o.targets))
		for i, t := range o.targets {
			sends[i] = Send{Target: t}
		}
		return OperatorResult{Sends: sends}, nil
	}

	items := lookupFanOutItems(s, o.fanOutKey)
	var sends []Send
	for _, target := range o.targets {
		for idx, item := range items {
			sends = append(sends, Send{
				Target: target,
				Payload: state.Delta{
					state.KeyParallelItem:  item,
					state.KeyParallelIndex: float64(idx),
				},
			})
		}
	}
	return OperatorResult{Sends: sends}, nil
}

func lookupFanOutItems(s *state.State, key string) []any {
	if v, ok := s.Get(key); ok {
		if items, ok := v.([]any); ok {
			return items
		}
	}
	if input := s.GetMap(state.KeyInput); input != nil {
		if v, ok := input[key]; ok {
			if items, ok := v.([]any); ok {
				return items
			}
		}
	}
	return nil
}

// --- Join ---------------------------------------------------------------

type joinOperator struct {
	nodeID        string
	strategy      model.JoinStrategy
	outputKey     string
	upstreamOrder []string // sibling node ids in declaration order, for "list"/"concat"/"first"
}

func (o *joinOperator) NodeID() string { return o.nodeID }

func (o *joinOperator) Run(_ context.Context, s *state.State, _ state.Delta) (OperatorResult, error) {
	intermediate := s.GetMap(state.KeyIntermediate)

	values := make([]any, 0, len(o.upstreamOrder))
	for _, key := range o.upstreamOrder {
		if v, ok := intermediate[key]; ok {
			values = append(values, v)
		} else {
			values = append(values, nil)
		}
	}

	var aggregated any
	switch o.strategy {
	case model.JoinMerge:
		merged := map[string]any{}
		for i, v := range values {
			if m, ok := v.(map[string]any); ok {
				for k, mv := range m {
					merged[k] = mv
				}
			} else if v != nil {
				merged[o.upstreamOrder[i]] = v
			}
		}
		aggregated = merged
	case model.JoinList:
		aggregated = values
	case model.JoinConcat:
		var parts []string
		for _, v := range values {
			if v == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		aggregated = strings.Join(parts, "\n")
	case model.JoinFirst:
		for _, v := range values {
			if v != nil {
				aggregated = v
				break
			}
		}
	default:
		return OperatorResult{}, &agferrors.WorkflowCompilationError{Message: fmt.Sprintf("unknown join strategy %q", o.strategy)}
	}

	return OperatorResult{Delta: state.Delta{
		o.outputKey:    aggregated,
		state.KeyOutput: aggregated,
	}}, nil
}

// --- SubGraph -------------------------------------------------------------

type subgraphOperator struct {
	nodeID string
	sub    *Plan
	run    PlanRunner
}

func (o *subgraphOperator) NodeID() string { return o.nodeID }

func (o *subgraphOperator) Run(ctx context.Context, s *state.State, _ state.Delta) (OperatorResult, error) {
	threadID := "subgraph_" + o.nodeID
	input := state.Delta{state.KeyInput: s.GetMap(state.KeyInput)}

	out, err := o.run(ctx, o.sub, threadID, input)
	if err != nil {
		return OperatorResult{}, &agferrors.ExecutionError{NodeID: o.nodeID, Cause: err}
	}
	subOutput := out[state.KeyOutput]
	return OperatorResult{Delta: state.Delta{
		state.KeyIntermediate: map[string]any{o.nodeID: subOutput},
		state.KeyOutput:       subOutput,
	}}, nil
}

// sortedKeys is a small helper used by fanout.go for
// deterministic iteration over node maps (map iteration order is random
// in Go, and compile errors/warnings should be stable across runs).
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

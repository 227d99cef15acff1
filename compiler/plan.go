// Package compiler turns a validated model.Workflow into a Plan: a set of
// Operators keyed by node id plus the edge-routing table the scheduler
// consults between dispatches, generalizing the original's
// WorkflowCompiler (workflows/compiler.py) from a LangGraph StateGraph
// builder into this module's own Plan/Operator/EdgeGroup shapes.
package compiler

import (
	"time"

	"github.com/agentflow-run/agentflow/expr"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
)

// ConditionalEdge is one branch of a conditional EdgeGroup: Target fires
// when Tree evaluates true against the live state.
type ConditionalEdge struct {
	Condition string
	Tree      expr.Node
	Target    string
}

// EdgeGroup is the routing table for all edges sharing one source node: a
// single unconditional edge is Direct; otherwise each edge is a
// conditional branch evaluated in declaration order, falling back to
// Default (model.EndNode if the group declares no default).
type EdgeGroup struct {
	Direct      string // non-empty means "always go here", Conditional/Default unused
	Conditional []ConditionalEdge
	Default     string
}

// IsDirect reports whether the group resolves unconditionally.
func (g EdgeGroup) IsDirect() bool { return g.Direct != "" }

// Resolve evaluates the group against s, returning the target node id.
// Evaluation errors on a predicate coerce to false and are recorded by
// the caller on the step; they are returned here so the caller can do
// so, but they never prevent a route decision — the fallback to Default
// always applies.
func (g EdgeGroup) Resolve(s *state.State) (target string, evalErr error) {
	if g.IsDirect() {
		return g.Direct, nil
	}
	for _, c := range g.Conditional {
		ok, err := expr.EvalBool(c.Tree, s)
		if err != nil {
			evalErr = err
			continue
		}
		if ok {
			return c.Target, nil
		}
	}
	def := g.Default
	if def == "" {
		def = model.EndNode
	}
	return def, evalErr
}

// Plan is the compiled, executable form of a Workflow.
type Plan struct {
	WorkflowID string
	StartNode  string
	Nodes      map[string]Operator
	Edges      map[string]EdgeGroup // keyed by source node id (model.StartNode for the entry edge)
	StateKeys  state.ReducerTable

	// JoinBarriers gives, for every join-typed node, how many direct
	// upstream edges must resolve into it before it may run — the
	// scheduler decrements a live counter seeded from this and only
	// enqueues the join once it reaches zero, rather than running once
	// per incoming sibling.
	JoinBarriers map[string]int

	// Timeouts gives the per-node execution timeout parsed from
	// node.config.timeout_seconds, for nodes that declare one. Absent
	// means "use the engine default".
	Timeouts map[string]time.Duration
}

package compiler

import (
	"context"
	"time"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/expr"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/toolkit"
)

// AgentRunner executes an agent-typed node's full tool-calling loop and
// returns the state delta it produced. Injected rather than imported
// directly so this package never depends on the package that implements
// the loop (which in turn depends on llm and toolkit, not on compiler).
type AgentRunner func(ctx context.Context, ag *model.Agent, toolDefs []model.Tool, provider llm.Provider, tools *toolkit.Registry, s *state.State, payload state.Delta) (state.Delta, error)

// CompileDeps bundles everything Compile needs beyond the Workflow
// itself: entity lookups for validation, resolved LLM providers keyed by
// provider name, the tool registry, and the two callbacks that let a
// compiled Plan recurse into agent execution and nested sub-plans
// without this package importing either.
type CompileDeps struct {
	Entities  EntityLookup
	Providers map[string]llm.Provider
	Tools     *toolkit.Registry
	RunAgent  AgentRunner
	RunPlan   PlanRunner
}

// Compile validates wf and, if it passes, builds the Plan the scheduler
// runs: one Operator per node and one EdgeGroup per edge-bearing source.
// Validation warnings (currently just disconnected nodes) are returned
// alongside a successful Plan rather than failing compilation.
func Compile(ctx context.Context, wf *model.Workflow, deps CompileDeps) (*Plan, []string, error) {
	res, err := validate(ctx, wf, deps.Entities, map[string]bool{wf.ID: true})
	if err != nil {
		return nil, nil, err
	}
	if len(res.Errors) > 0 {
		return nil, nil, asCompilationError(wf.ID, res.Errors)
	}

	stateKeys := state.WithSchema(state.BaseTable(), wf.StateSchema)

	nodes := make(map[string]Operator, len(wf.Nodes))
	for _, n := range wf.Nodes {
		op, err := buildOperator(ctx, n, wf, deps)
		if err != nil {
			return nil, nil, err
		}
		nodes[n.NodeID] = op
	}

	edges, err := buildEdgeGroups(wf)
	if err != nil {
		return nil, nil, err
	}

	if err := checkFanOutCommutativity(wf, nodes, edges, stateKeys); err != nil {
		return nil, nil, err
	}

	start := model.StartNode
	if g, ok := edges[start]; ok && g.IsDirect() {
		start = g.Direct
	}

	return &Plan{
		WorkflowID:   wf.ID,
		StartNode:    start,
		Nodes:        nodes,
		Edges:        edges,
		StateKeys:    stateKeys,
		JoinBarriers: joinBarriers(wf),
		Timeouts:     nodeTimeouts(wf),
	}, res.Warnings, nil
}

// joinBarriers counts, for every join-typed node, how many direct edges
// feed into it — the fan-in width the scheduler's barrier counter is
// seeded from.
func joinBarriers(wf *model.Workflow) map[string]int {
	barriers := map[string]int{}
	for _, n := range wf.Nodes {
		if n.Type == model.NodeJoin {
			barriers[n.NodeID] = len(upstreamOf(wf, n.NodeID))
		}
	}
	return barriers
}

// nodeTimeouts extracts node.config.timeout_seconds for every node that
// declares one, tolerating both JSON-decoded float64 and plain int.
func nodeTimeouts(wf *model.Workflow) map[string]time.Duration {
	timeouts := map[string]time.Duration{}
	for _, n := range wf.Nodes {
		raw, ok := n.Config["timeout_seconds"]
		if !ok {
			continue
		}
		var seconds float64
		switch v := raw.(type) {
		case float64:
			seconds = v
		case int:
			seconds = float64(v)
		default:
			continue
		}
		if seconds > 0 {
			timeouts[n.NodeID] = time.Duration(seconds * float64(time.Second))
		}
	}
	return timeouts
}

// buildOperator constructs the runnable Operator for one node, per its
// type: agent nodes bind to a resolved provider and the shared tool
// registry, router nodes are pure routing markers (the routing table
// itself lives on the EdgeGroup), parallel/join nodes are built from
// their respective configs, and subgraph nodes recursively compile the
// workflow they reference.
func buildOperator(ctx context.Context, n model.Node, wf *model.Workflow, deps CompileDeps) (Operator, error) {
	switch n.Type {
	case model.NodeAgent:
		ag, ok, err := deps.Entities.Agent(ctx, n.Agent.AgentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "agent " + n.Agent.AgentID + " vanished between validation and compilation"}
		}
		provider, ok := deps.Providers[ag.LLM.Provider]
		if !ok {
			return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "no provider configured for " + ag.LLM.Provider}
		}
		toolDefs := make([]model.Tool, 0, len(ag.ToolIDs))
		for _, toolID := range ag.ToolIDs {
			def, ok, err := deps.Entities.Tool(ctx, toolID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "tool " + toolID + " vanished between validation and compilation"}
			}
			toolDefs = append(toolDefs, *def)
		}
		return &agentOperator{nodeID: n.NodeID, agent: ag, toolDefs: toolDefs, provider: provider, tools: deps.Tools, run: deps.RunAgent}, nil

	case model.NodeRouter:
		return &routerOperator{nodeID: n.NodeID}, nil

	case model.NodeParallel:
		return &parallelOperator{nodeID: n.NodeID, targets: n.Parallel.ParallelNodes, fanOutKey: n.Parallel.FanOutKey}, nil

	case model.NodeJoin:
		return &joinOperator{
			nodeID:        n.NodeID,
			strategy:      n.Join.Strategy,
			outputKey:     n.Join.OutputKey,
			upstreamOrder: upstreamOf(wf, n.NodeID),
		}, nil

	case model.NodeSubGraph:
		sub, ok, err := deps.Entities.Workflow(ctx, n.SubGraph.SubgraphWorkflowID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "subgraph workflow " + n.SubGraph.SubgraphWorkflowID + " vanished between validation and compilation"}
		}
		subPlan, _, err := Compile(ctx, sub, deps)
		if err != nil {
			return nil, err
		}
		return &subgraphOperator{nodeID: n.NodeID, sub: subPlan, run: deps.RunPlan}, nil

	default:
		return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "unreachable: unknown node type " + string(n.Type)}
	}
}

// upstreamOf returns the node ids of every edge whose target is nodeID,
// in the declaration order of wf.Edges — the order a join node's
// "list"/"concat"/"first" strategies fold sibling results in.
func upstreamOf(wf *model.Workflow, nodeID string) []string {
	var order []string
	for _, e := range wf.Edges {
		if e.TargetNode == nodeID {
			order = append(order, e.SourceNode)
		}
	}
	return order
}

// buildEdgeGroups groups wf.Edges by source node into the routing table
// Plan.Edges holds, parsing and attaching the condition tree for any
// conditional edge up front so a syntax error fails compilation rather
// than surfacing mid-execution. Router-typed nodes are special-cased:
// their group is built from RouterConfig instead of model.Edge entries,
// since a router's routing table is attached to the node, not the graph.
func buildEdgeGroups(wf *model.Workflow) (map[string]EdgeGroup, error) {
	groups := map[string]EdgeGroup{}

	bySource := map[string][]model.Edge{}
	for _, e := range wf.Edges {
		bySource[e.SourceNode] = append(bySource[e.SourceNode], e)
	}

	for _, n := range wf.Nodes {
		if n.Type != model.NodeRouter || n.Router == nil {
			continue
		}
		group := EdgeGroup{Default: n.Router.Default}
		for _, r := range n.Router.Routes {
			tree, err := expr.Parse(r.Condition)
			if err != nil {
				return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "router node " + n.NodeID + ": " + err.Error()}
			}
			group.Conditional = append(group.Conditional, ConditionalEdge{Condition: r.Condition, Tree: tree, Target: r.Target})
		}
		groups[n.NodeID] = group
	}

	for source, edges := range bySource {
		if _, isRouter := groups[source]; isRouter {
			continue
		}
		if len(edges) == 1 && edges[0].Condition == "" {
			groups[source] = EdgeGroup{Direct: edges[0].TargetNode}
			continue
		}
		group := EdgeGroup{}
		for _, e := range edges {
			if e.Condition == "" {
				group.Default = e.TargetNode
				continue
			}
			tree, err := expr.Parse(e.Condition)
			if err != nil {
				return nil, &agferrors.WorkflowCompilationError{WorkflowID: wf.ID, Message: "edge from " + source + ": " + err.Error()}
			}
			group.Conditional = append(group.Conditional, ConditionalEdge{Condition: e.Condition, Tree: tree, Target: e.TargetNode})
		}
		groups[source] = group
	}

	return groups, nil
}

package compiler

import (
	"context"
	"fmt"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/model"
)

// EntityLookup is the read-only slice of the entity store the compiler
// needs: existence checks for agent_id references and the nested
// workflow a subgraph node points at.
type EntityLookup interface {
	Agent(ctx context.Context, id string) (*model.Agent, bool, error)
	Tool(ctx context.Context, id string) (*model.Tool, bool, error)
	Workflow(ctx context.Context, id string) (*model.Workflow, bool, error)
}

// validationResult carries the errors (which fail compilation) and
// warnings (which don't) a validation pass accumulates.
type validationResult struct {
	Errors   []string
	Warnings []string
}

func (r *validationResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *validationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// validate runs every structural and semantic check a Workflow must pass
// before it can be compiled into a Plan: duplicate node ids, dangling
// edge endpoints, unknown agent references, subgraph inclusion cycles,
// the start/end reachability invariants every Workflow must satisfy, and
// (non-fatally) unreachable nodes.
func validate(ctx context.Context, wf *model.Workflow, entities EntityLookup, visiting map[string]bool) (*validationResult, error) {
	res := &validationResult{}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if nodeIDs[n.NodeID] {
			res.fail("duplicate node id %q", n.NodeID)
			continue
		}
		nodeIDs[n.NodeID] = true
	}

	for _, e := range wf.Edges {
		if e.SourceNode != model.StartNode && !nodeIDs[e.SourceNode] {
			res.fail("edge source %q is not a declared node", e.SourceNode)
		}
		if e.TargetNode != model.EndNode && !nodeIDs[e.TargetNode] {
			res.fail("edge target %q is not a declared node", e.TargetNode)
		}
	}

	hasStartEdge := false
	for _, e := range wf.Edges {
		if e.SourceNode == model.StartNode {
			hasStartEdge = true
			break
		}
	}
	if !hasStartEdge {
		res.fail("start node %q has no outgoing edge", model.StartNode)
	}

	reachable := reachableFrom(wf, model.StartNode)
	for id := range nodeIDs {
		if !reachable[id] {
			res.warn("node %q is not reachable from the start node", id)
		}
	}
	if !reachable[model.EndNode] {
		res.fail("end node %q is not reachable from the start node", model.EndNode)
	}

	for _, n := range wf.Nodes {
		switch n.Type {
		case model.NodeAgent:
			if n.Agent == nil || n.Agent.AgentID == "" {
				res.fail("agent node %q has no agent_id", n.NodeID)
				continue
			}
			ag, ok, err := entities.Agent(ctx, n.Agent.AgentID)
			if err != nil {
				return nil, err
			}
			if !ok {
				res.fail("agent node %q references unknown agent_id %q", n.NodeID, n.Agent.AgentID)
				continue
			}
			for _, toolID := range ag.ToolIDs {
				if _, ok, err := entities.Tool(ctx, toolID); err != nil {
					return nil, err
				} else if !ok {
					res.fail("agent %q binds unknown tool_id %q", ag.ID, toolID)
				}
			}
		case model.NodeRouter:
			if n.Router == nil || len(n.Router.Routes) == 0 {
				res.fail("router node %q declares no routes", n.NodeID)
			}
		case model.NodeParallel:
			if n.Parallel == nil || len(n.Parallel.ParallelNodes) == 0 {
				res.fail("parallel node %q declares no branch targets", n.NodeID)
				continue
			}
			for _, t := range n.Parallel.ParallelNodes {
				if !nodeIDs[t] {
					res.fail("parallel node %q targets unknown node %q", n.NodeID, t)
				}
			}
		case model.NodeJoin:
			if n.Join == nil || n.Join.OutputKey == "" {
				res.fail("join node %q has no output_key", n.NodeID)
			}
		case model.NodeSubGraph:
			if n.SubGraph == nil || n.SubGraph.SubgraphWorkflowID == "" {
				res.fail("subgraph node %q has no subgraph_workflow_id", n.NodeID)
				continue
			}
			if err := checkSubgraphCycle(ctx, n.SubGraph.SubgraphWorkflowID, entities, visiting, res); err != nil {
				return nil, err
			}
		default:
			res.fail("node %q has unknown type %q", n.NodeID, n.Type)
		}
	}

	return res, nil
}

// checkSubgraphCycle walks the subgraph-inclusion relation starting from
// a referenced workflow id, failing if it ever revisits a workflow
// already on the current inclusion path (a cycle), and otherwise
// recursing into that workflow's own subgraph nodes. visiting is the set
// of workflow ids on the path from the root being compiled.
func checkSubgraphCycle(ctx context.Context, workflowID string, entities EntityLookup, visiting map[string]bool, res *validationResult) error {
	if visiting[workflowID] {
		res.fail("subgraph inclusion cycle detected at workflow %q", workflowID)
		return nil
	}
	sub, ok, err := entities.Workflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !ok {
		res.fail("subgraph references unknown workflow %q", workflowID)
		return nil
	}

	visiting[workflowID] = true
	defer delete(visiting, workflowID)

	for _, n := range sub.Nodes {
		if n.Type == model.NodeSubGraph && n.SubGraph != nil && n.SubGraph.SubgraphWorkflowID != "" {
			if err := checkSubgraphCycle(ctx, n.SubGraph.SubgraphWorkflowID, entities, visiting, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// reachableFrom computes every node id reachable from start by following
// edges and router/parallel fan-out targets, used to emit the
// disconnected-node warning and to fail when __end__ is unreachable.
func reachableFrom(wf *model.Workflow, start string) map[string]bool {
	adj := map[string][]string{}
	for _, e := range wf.Edges {
		adj[e.SourceNode] = append(adj[e.SourceNode], e.TargetNode)
	}
	for _, n := range wf.Nodes {
		if n.Type == model.NodeRouter && n.Router != nil {
			for _, r := range n.Router.Routes {
				adj[n.NodeID] = append(adj[n.NodeID], r.Target)
			}
			if n.Router.Default != "" {
				adj[n.NodeID] = append(adj[n.NodeID], n.Router.Default)
			}
		}
		if n.Type == model.NodeParallel && n.Parallel != nil {
			adj[n.NodeID] = append(adj[n.NodeID], n.Parallel.ParallelNodes...)
		}
	}

	seen := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		queue = append(queue, adj[cur]...)
	}
	return seen
}

// asCompilationError turns an accumulated error list into a single typed
// error the caller can surface over HTTP as a 400.
func asCompilationError(workflowID string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0]
	for _, e := range errs[1:] {
		msg += "; " + e
	}
	return &agferrors.WorkflowCompilationError{WorkflowID: workflowID, Message: msg}
}

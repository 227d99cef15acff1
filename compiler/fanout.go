package compiler

import (
	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
)

// checkFanOutCommutativity rejects a plan where two branches of the same
// parallel node can both reach a node that writes the same
// non-commutative-reducer state key before converging at a join. Left
// unchecked, two siblings racing to write e.g. state.KeyOutput resolve by
// whichever branch the engine folds last, an order derived from a hash of
// the dispatch position rather than anything a workflow author declares.
func checkFanOutCommutativity(wf *model.Workflow, nodes map[string]Operator, edges map[string]EdgeGroup, stateKeys state.ReducerTable) error {
	for _, n := range wf.Nodes {
		if n.Type != model.NodeParallel || n.Parallel == nil {
			continue
		}

		branchKeys := make([]map[string]bool, len(n.Parallel.ParallelNodes))
		for i, target := range n.Parallel.ParallelNodes {
			branchKeys[i] = reachableWrites(target, nodes, edges)
		}

		for i := range branchKeys {
			for j := i + 1; j < len(branchKeys); j++ {
				for _, key := range sortedKeys(branchKeys[i]) {
					if !branchKeys[j][key] || stateKeys.Commutative(key) {
						continue
					}
					return &agferrors.WorkflowCompilationError{
						WorkflowID: wf.ID,
						Message: "parallel node " + n.NodeID + ": branches " + n.Parallel.ParallelNodes[i] +
							" and " + n.Parallel.ParallelNodes[j] + " both write non-commutative state key " + key,
					}
				}
			}
		}
	}
	return nil
}

// reachableWrites walks forward from start along the compiled edge table,
// collecting the state keys every node on the path may write before a
// join absorbs it. The join node itself is excluded: it only runs once
// every sibling has landed, so its own write isn't racing with anything.
func reachableWrites(start string, nodes map[string]Operator, edges map[string]EdgeGroup) map[string]bool {
	keys := map[string]bool{}
	visited := map[string]bool{}

	var walk func(id string)
	walk = func(id string) {
		if visited[id] || id == model.EndNode {
			return
		}
		visited[id] = true

		op, ok := nodes[id]
		if !ok {
			return
		}
		if _, isJoin := op.(*joinOperator); isJoin {
			return // join only runs once the barrier clears: its own write isn't part of the race
		}
		for _, k := range writtenKeys(op) {
			keys[k] = true
		}
		if p, isParallel := op.(*parallelOperator); isParallel {
			for _, t := range p.targets {
				walk(t)
			}
			return
		}

		group, ok := edges[id]
		if !ok {
			return
		}
		if group.IsDirect() {
			walk(group.Direct)
			return
		}
		for _, c := range group.Conditional {
			walk(c.Target)
		}
		def := group.Default
		if def == "" {
			def = model.EndNode
		}
		walk(def)
	}
	walk(start)
	return keys
}

// writtenKeys gives the state keys op.Run may set, known statically from
// the operator's concrete type: every Operator produces a fixed key shape
// regardless of the data flowing through it at runtime. joinOperator has
// no case here: reachableWrites returns before calling this for a join,
// since a join's own write isn't part of the race being checked.
func writtenKeys(op Operator) []string {
	switch op.(type) {
	case *agentOperator:
		return []string{state.KeyCurrentNode, state.KeyOutput, state.KeyIntermediate, state.KeyMetadata}
	case *routerOperator:
		return []string{state.KeyCurrentNode}
	case *subgraphOperator:
		return []string{state.KeyIntermediate, state.KeyOutput}
	default:
		return nil
	}
}

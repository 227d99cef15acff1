package engine

import (
	"context"
	"time"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/state"
)

// resolveTimeout applies the precedence node.config.timeout_seconds (per
// the compiled Plan) > engine default > unlimited.
func resolveTimeout(plan *compiler.Plan, nodeID string, defaultTimeout time.Duration) time.Duration {
	if d, ok := plan.Timeouts[nodeID]; ok && d > 0 {
		return d
	}
	return defaultTimeout
}

// runWithTimeout runs op against s/payload, bounding it to timeout if
// non-zero. A deadline exceeded surfaces as *agferrors.NodeTimeoutError
// rather than the bare context error, so callers can recognize it.
func runWithTimeout(ctx context.Context, op compiler.Operator, s *state.State, payload state.Delta, timeout time.Duration) (compiler.OperatorResult, error) {
	if timeout <= 0 {
		return op.Run(ctx, s, payload)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op.Run(timeoutCtx, s, payload)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &agferrors.NodeTimeoutError{NodeID: op.NodeID(), Timeout: timeout}
	}
	return result, err
}

// Package toolkit provides a registry that distinguishes builtin tool
// classes — constructed on demand from a node's config — from custom
// instances an operator registers once at startup.
package toolkit

import "context"

// Tool is the uniform capability surface the agent loop invokes. Input and
// output are both JSON-object-shaped maps, matching the LLM tool-calling
// wire format (arguments in, structured result out).
type Tool interface {
	Name() string
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

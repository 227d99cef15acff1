package toolkit

import (
	"fmt"
	"strings"
)

// BuiltinConstructor builds a builtin tool instance from a node/tool
// record's config, e.g. the sandboxed root directory for a file-writer.
type BuiltinConstructor func(cfg map[string]any) (Tool, error)

// Registry resolves a model.Tool's ImplementationRef ("builtin:name" or
// "custom:name") to a live Tool instance. Callers only ever see the
// uniform Tool interface regardless of which branch resolved it.
type Registry struct {
	builtins map[string]BuiltinConstructor
	custom   map[string]Tool
}

// NewRegistry returns an empty registry with the standard builtin classes
// pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		builtins: make(map[string]BuiltinConstructor),
		custom:   make(map[string]Tool),
	}
	r.RegisterBuiltin("calculator", NewCalculator)
	r.RegisterBuiltin("file_writer", NewFileWriter)
	r.RegisterBuiltin("http_request", NewHTTPTool)
	return r
}

// RegisterBuiltin adds or replaces a builtin class constructor, keyed by
// the name following the "builtin:" prefix.
func (r *Registry) RegisterBuiltin(name string, ctor BuiltinConstructor) {
	r.builtins[name] = ctor
}

// RegisterCustom registers a single long-lived instance under "custom:name".
// Custom tools are registered once at process startup; they are not
// reconstructed per resolution the way builtins are.
func (r *Registry) RegisterCustom(name string, t Tool) {
	r.custom[name] = t
}

// ErrUnknownTool is returned by Resolve when ref's prefix is recognized
// but the named tool is not registered.
type ErrUnknownTool struct{ Ref string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("toolkit: unknown tool reference %q", e.Ref) }

// ErrBadRef is returned by Resolve when ref has neither the "builtin:" nor
// "custom:" prefix.
type ErrBadRef struct{ Ref string }

func (e *ErrBadRef) Error() string {
	return fmt.Sprintf("toolkit: tool reference %q must start with \"builtin:\" or \"custom:\"", e.Ref)
}

// Resolve returns the Tool named by ref, constructing a fresh builtin
// instance with cfg if ref has a "builtin:" prefix, or returning the
// already-registered instance if it has a "custom:" prefix.
func (r *Registry) Resolve(ref string, cfg map[string]any) (Tool, error) {
	switch {
	case strings.HasPrefix(ref, "builtin:"):
		name := strings.TrimPrefix(ref, "builtin:")
		ctor, ok := r.builtins[name]
		if !ok {
			return nil, &ErrUnknownTool{Ref: ref}
		}
		return ctor(cfg)
	case strings.HasPrefix(ref, "custom:"):
		name := strings.TrimPrefix(ref, "custom:")
		t, ok := r.custom[name]
		if !ok {
			return nil, &ErrUnknownTool{Ref: ref}
		}
		return t, nil
	default:
		return nil, &ErrBadRef{Ref: ref}
	}
}

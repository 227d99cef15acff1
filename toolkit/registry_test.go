package toolkit

import (
	"context"
	"strings"
	"testing"
)

func TestRegistry_ResolveBuiltin(t *testing.T) {
	r := NewRegistry()
	tool, err := r.Resolve("builtin:calculator", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.Name() != "calculator" {
		t.Errorf("expected tool name %q, got %q", "calculator", tool.Name())
	}
}

func TestRegistry_ResolveCustom(t *testing.T) {
	r := NewRegistry()
	mock := &MockTool{NameValue: "weather", Result: map[string]any{"temp": 72}}
	r.RegisterCustom("weather", mock)

	tool, err := r.Resolve("custom:weather", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := tool.Call(context.Background(), map[string]any{"city": "sf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["temp"] != 72 {
		t.Errorf("expected temp 72, got %v", out["temp"])
	}
	if len(mock.Calls) != 1 {
		t.Errorf("expected 1 recorded call, got %d", len(mock.Calls))
	}
}

func TestRegistry_UnknownReference(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Resolve("builtin:nonexistent", nil); err == nil {
		t.Error("expected an error for an unregistered builtin")
	}
	if _, err := r.Resolve("custom:nonexistent", nil); err == nil {
		t.Error("expected an error for an unregistered custom tool")
	}
	if _, err := r.Resolve("weird:thing", nil); err == nil {
		t.Error("expected an error for a reference without a recognized prefix")
	}
}

func TestCalculator_Call(t *testing.T) {
	tool, err := NewCalculator(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := tool.Call(context.Background(), map[string]any{"expression": "2 + 3 * 4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["result"] != 14.0 {
		t.Errorf("expected result 14, got %v", out["result"])
	}
}

func TestCalculator_RejectsMissingExpression(t *testing.T) {
	tool, _ := NewCalculator(nil)
	if _, err := tool.Call(context.Background(), map[string]any{}); err == nil {
		t.Error("expected an error when expression is missing")
	}
}

func TestFileWriter_ConfinesEscapingPath(t *testing.T) {
	root := t.TempDir()
	tool, err := NewFileWriter(map[string]any{"root": root})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := tool.Call(context.Background(), map[string]any{"path": "../../etc/passwd", "content": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	written, _ := out["path"].(string)
	if !strings.HasPrefix(written, root) {
		t.Errorf("expected write to stay within root %q, got %q", root, written)
	}
}

func TestFileWriter_WritesWithinRoot(t *testing.T) {
	dir := t.TempDir()
	tool, err := NewFileWriter(map[string]any{"root": dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := tool.Call(context.Background(), map[string]any{"path": "notes/a.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["bytes_written"] != 5 {
		t.Errorf("expected bytes_written 5, got %v", out["bytes_written"])
	}
}

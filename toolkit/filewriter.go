package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentflow-run/agentflow/agferrors"
)

// FileWriter is the builtin "file_writer" tool class. It writes "content"
// to "path", resolved relative to and confined within a sandboxed root
// directory set at construction — an agent-driven write is exactly the
// kind of side effect a workflow operator must be able to contain to one
// directory tree regardless of what an LLM is tricked into requesting.
type FileWriter struct {
	root string
}

// NewFileWriter builds the "file_writer" builtin, reading the sandboxed
// root directory out of cfg["root"].
func NewFileWriter(cfg map[string]any) (Tool, error) {
	root, _ := cfg["root"].(string)
	if root == "" {
		return nil, fmt.Errorf("toolkit: file_writer requires a non-empty \"root\" in its config")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("toolkit: file_writer root: %w", err)
	}
	return &FileWriter{root: abs}, nil
}

// Name implements Tool.
func (f *FileWriter) Name() string { return "file_writer" }

// Call implements Tool.
func (f *FileWriter) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	relPath, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if relPath == "" {
		return nil, &agferrors.ToolExecutionError{ToolName: f.Name(), Cause: fmt.Errorf("\"path\" argument is required")}
	}

	// Cleaning relPath as an absolute path before joining collapses any
	// ".." segments against a synthetic root, so the join can never land
	// outside f.root regardless of what relPath contains.
	target := filepath.Join(f.root, filepath.Clean("/"+relPath))

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: f.Name(), Cause: err}
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: f.Name(), Cause: err}
	}
	return map[string]any{"bytes_written": len(content), "path": target}, nil
}

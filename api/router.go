// Package api exposes the execution engine over HTTP: the
// /api/v1/executions* surface plus a minimal read-only window onto the
// entities the compiler resolves against.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/emit"
	"github.com/agentflow-run/agentflow/engine"
	"github.com/agentflow-run/agentflow/store"
)

// Server wires the engine and entity store to the wire API. One instance
// is shared by every request; Engine and Store are themselves safe for
// concurrent use.
type Server struct {
	Engine      *engine.Engine
	Store       store.Store
	SSE         *emit.SSEEmitter
	CompileDeps compiler.CompileDeps
	APIKey      string
	Logger      *slog.Logger

	mux http.Handler
}

// NewServer builds a Server and registers its routes. logger may be nil,
// in which case slog.Default() is used.
func NewServer(eng *engine.Engine, st store.Store, sse *emit.SSEEmitter, deps compiler.CompileDeps, apiKey string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Engine: eng, Store: st, SSE: sse, CompileDeps: deps, APIKey: apiKey, Logger: logger}
	s.routes()
	return s
}

// ServeHTTP satisfies http.Handler, logging every request's method, path,
// status, and latency after the wrapped middleware chain runs.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rw, r)
	s.Logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rw.status, "duration", time.Since(started))
}

// routes registers every endpoint on s.mux using Go's 1.22+ method-pattern
// mux, wrapped in the auth and recovery middleware.
func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/executions", s.withAuth(s.handleCreateExecution))
	mux.HandleFunc("POST /api/v1/executions/stream", s.withAuth(s.handleStreamExecution))
	mux.HandleFunc("GET /api/v1/executions/{id}", s.withAuth(s.handleGetExecution))
	mux.HandleFunc("GET /api/v1/executions/{id}/status", s.withAuth(s.handleExecutionStatus))
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.withAuth(s.handleCancelExecution))
	mux.HandleFunc("DELETE /api/v1/executions/{id}", s.withAuth(s.handleDeleteExecution))
	mux.HandleFunc("POST /api/v1/executions/{id}/resume", s.withAuth(s.handleResumeExecution))
	mux.HandleFunc("POST /api/v1/executions/{id}/restart", s.withAuth(s.handleRestartExecution))

	mux.HandleFunc("GET /api/v1/workflows/{id}", s.withAuth(s.handleGetWorkflow))
	mux.HandleFunc("GET /api/v1/agents/{id}", s.withAuth(s.handleGetAgent))
	mux.HandleFunc("GET /api/v1/tools/{id}", s.withAuth(s.handleGetTool))

	s.mux = recoveryMiddleware(s.Logger, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow-run/agentflow/agferrors"
	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/state"
	"github.com/agentflow-run/agentflow/store"
)

// createExecutionRequest is the shared body shape for both the
// fire-and-poll create endpoint and the streaming one.
type createExecutionRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

type executionStepResponse struct {
	ID           string         `json:"id"`
	NodeID       string         `json:"node_id"`
	Status       string         `json:"status"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

type executionResponse struct {
	ID           string                  `json:"id"`
	WorkflowID   string                  `json:"workflow_id"`
	ThreadID     string                  `json:"thread_id"`
	Status       string                  `json:"status"`
	InputData    map[string]any          `json:"input_data,omitempty"`
	OutputData   map[string]any          `json:"output_data,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	StartedAt    *time.Time              `json:"started_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
	Steps        []executionStepResponse `json:"steps,omitempty"`
}

func newExecutionResponse(exec *model.Execution) executionResponse {
	steps := make([]executionStepResponse, len(exec.Steps))
	for i, st := range exec.Steps {
		steps[i] = executionStepResponse{
			ID:           st.ID,
			NodeID:       st.NodeID,
			Status:       string(st.Status),
			InputData:    st.InputData,
			OutputData:   st.OutputData,
			ErrorMessage: st.ErrorMessage,
			Metadata:     st.Metadata,
			StartedAt:    st.StartedAt,
			CompletedAt:  st.CompletedAt,
		}
	}
	return executionResponse{
		ID:           exec.ID,
		WorkflowID:   exec.WorkflowID,
		ThreadID:     exec.ThreadID,
		Status:       string(exec.Status),
		InputData:    exec.InputData,
		OutputData:   exec.OutputData,
		ErrorMessage: exec.ErrorMessage,
		CreatedAt:    exec.CreatedAt,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.CompletedAt,
		Steps:        steps,
	}
}

type executionStatusResponse struct {
	ExecutionID    string `json:"execution_id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	CompletedSteps int    `json:"completed_steps"`
	TotalSteps     int    `json:"total_steps"`
	CurrentNode    string `json:"current_node,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// newExecutionRecord builds the pending Execution row a create/restart
// request seeds, with a fresh execution id and a thread id that's either
// request-supplied (to share history with a prior thread) or minted fresh.
func newExecutionRecord(workflowID string, req createExecutionRequest) *model.Execution {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return &model.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		ThreadID:   threadID,
		Status:     model.StatusPending,
		InputData:  map[string]any{"input": req.Input},
		CreatedAt:  time.Now(),
	}
}

// compilePlan loads and compiles the workflow workflowID resolves to,
// against the Server's shared CompileDeps.
func (s *Server) compilePlan(ctx context.Context, workflowID string) (*compiler.Plan, error) {
	wf, ok, err := s.Store.Workflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &agferrors.NotFoundError{Kind: "Workflow", ID: workflowID}
	}
	plan, _, err := compiler.Compile(ctx, wf, s.CompileDeps)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	plan, err := s.compilePlan(r.Context(), req.WorkflowID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	exec := newExecutionRecord(req.WorkflowID, req)
	if err := s.Store.CreateExecution(r.Context(), exec); err != nil {
		s.respondError(w, err)
		return
	}

	go func() {
		if err := s.Engine.Execute(context.Background(), plan, exec, state.Delta{state.KeyInput: req.Input}); err != nil {
			s.Logger.Error("execution failed", "execution_id", exec.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, newExecutionResponse(exec))
}

// handleStreamExecution creates an execution exactly like
// handleCreateExecution but subscribes to its event stream before starting
// the run, so the SSE response observes every event from
// execution_started onward, and holds the connection open until the
// terminal execution_complete or error event.
func (s *Server) handleStreamExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	plan, err := s.compilePlan(r.Context(), req.WorkflowID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	exec := newExecutionRecord(req.WorkflowID, req)
	if err := s.Store.CreateExecution(r.Context(), exec); err != nil {
		s.respondError(w, err)
		return
	}

	events, unsubscribe := s.SSE.Subscribe(exec.ID)
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		done <- s.Engine.Execute(context.Background(), plan, exec, state.Delta{state.KeyInput: req.Input})
	}()

	s.streamEvents(w, r, events, done)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok, err := s.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Execution", ID: r.PathValue("id")})
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(exec))
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, ok, err := s.Store.GetExecution(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Execution", ID: id})
		return
	}

	resp := executionStatusResponse{
		ExecutionID:  exec.ID,
		ThreadID:     exec.ThreadID,
		Status:       string(exec.Status),
		TotalSteps:   len(exec.Steps),
		ErrorMessage: exec.ErrorMessage,
	}
	for _, st := range exec.Steps {
		if st.Status == model.StatusCompleted {
			resp.CompletedSteps++
		}
		if st.Status == model.StatusRunning && resp.CurrentNode == "" {
			resp.CurrentNode = st.NodeID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, ok, err := s.Store.GetExecution(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Execution", ID: id})
		return
	}
	if !exec.Status.Terminal() {
		s.Engine.Cancel(id)
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(exec))
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, ok, err := s.Store.GetExecution(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Execution", ID: id})
		return
	}
	if err := s.Store.DeleteExecution(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeExecution continues a failed or cancelled execution from its
// last checkpoint. Per the no-op-on-completed invariant, a completed
// execution is returned unchanged rather than re-run.
func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, ok, err := s.Store.GetExecution(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Execution", ID: id})
		return
	}
	if exec.Status == model.StatusCompleted {
		writeJSON(w, http.StatusOK, newExecutionResponse(exec))
		return
	}

	plan, err := s.compilePlan(r.Context(), exec.WorkflowID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	go func() {
		if err := s.Engine.Resume(context.Background(), plan, exec); err != nil {
			s.Logger.Error("resume failed", "execution_id", exec.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, newExecutionResponse(exec))
}

// handleRestartExecution starts a brand new execution for the same
// workflow and input as an existing one, with a fresh id and thread id —
// unlike resume, it never reads the old execution's checkpoint.
func (s *Server) handleRestartExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prior, ok, err := s.Store.GetExecution(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Execution", ID: id})
		return
	}

	plan, err := s.compilePlan(r.Context(), prior.WorkflowID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	input, _ := prior.InputData["input"].(map[string]any)
	exec := newExecutionRecord(prior.WorkflowID, createExecutionRequest{Input: input})
	if err := s.Store.CreateExecution(r.Context(), exec); err != nil {
		s.respondError(w, err)
		return
	}

	go func() {
		if err := s.Engine.Execute(context.Background(), plan, exec, state.Delta{state.KeyInput: input}); err != nil {
			s.Logger.Error("restart execution failed", "execution_id", exec.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, newExecutionResponse(exec))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, ok, err := s.Store.Workflow(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Workflow", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ag, ok, err := s.Store.Agent(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Agent", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok, err := s.Store.Tool(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !ok {
		s.respondError(w, &agferrors.NotFoundError{Kind: "Tool", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// respondError maps a typed agferrors.* error to its declared HTTP status;
// anything else (a bare store or encoding error) falls back to 500.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		writeError(w, statusErr.HTTPStatus(), err.Error())
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.Logger.Error("unhandled handler error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

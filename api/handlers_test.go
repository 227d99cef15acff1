package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentflow-run/agentflow/agent"
	"github.com/agentflow-run/agentflow/compiler"
	"github.com/agentflow-run/agentflow/emit"
	"github.com/agentflow-run/agentflow/engine"
	"github.com/agentflow-run/agentflow/llm"
	"github.com/agentflow-run/agentflow/model"
	"github.com/agentflow-run/agentflow/store"
	"github.com/agentflow-run/agentflow/toolkit"
)

const testAPIKey = "test-secret"

// newTestServer wires a one-node linear workflow (__start__ -> writer ->
// __end__) whose agent always answers "42", backing every handler test
// below with a real compile + execute path instead of stubbed responses.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	mem := store.NewMemory()
	mem.PutAgent(&model.Agent{ID: "writer", Instructions: "reply", LLM: model.LLMConfig{Provider: "mock", Model: "m"}})
	mem.PutWorkflow(&model.Workflow{
		ID: "wf1",
		Nodes: []model.Node{
			{NodeID: "writer", Type: model.NodeAgent, Agent: &model.AgentNodeConfig{AgentID: "writer"}},
		},
		Edges: []model.Edge{
			{SourceNode: model.StartNode, TargetNode: "writer"},
			{SourceNode: "writer", TargetNode: model.EndNode},
		},
	})

	provider := &llm.MockProvider{Responses: []llm.CompleteOut{{Content: "42", FinishReason: llm.FinishStop}}}
	deps := compiler.CompileDeps{
		Entities:  mem,
		Providers: map[string]llm.Provider{"mock": provider},
		Tools:     toolkit.NewRegistry(),
		RunAgent:  agent.Run,
	}
	eng := engine.New(mem, emit.NewSSEEmitter())
	deps.RunPlan = eng.RunPlan

	return NewServer(eng, mem, eng.Emitter.(*emit.SSEEmitter), deps, testAPIKey, nil)
}

func doRequest(s *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingKeyIs401_WrongKeyIs403(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/workflows/wf1", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for missing key, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/workflows/wf1", "wrong", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong key, got %d", rec.Code)
	}
}

func TestHealth_ExemptFromAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected /health to bypass auth, got %d", rec.Code)
	}
}

func TestCreateExecution_RunsToCompletion(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/executions", testAPIKey, createExecutionRequest{WorkflowID: "wf1", Input: map[string]any{}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created executionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	exec := waitForTerminal(t, s, created.ID)
	if exec.Status != string(model.StatusCompleted) {
		t.Fatalf("expected completed, got %+v", exec)
	}
	if exec.OutputData["output"] != "42" {
		t.Errorf("expected output 42, got %v", exec.OutputData["output"])
	}
}

func TestGetExecution_NotFoundIs404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/executions/missing", testAPIKey, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteExecution_RemovesRecord(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/executions", testAPIKey, createExecutionRequest{WorkflowID: "wf1", Input: map[string]any{}})
	var created executionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	waitForTerminal(t, s, created.ID)

	rec = doRequest(s, http.MethodDelete, "/api/v1/executions/"+created.ID, testAPIKey, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/executions/"+created.ID, testAPIKey, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestExecutionStatus_ReportsCompletedStepCount(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/executions", testAPIKey, createExecutionRequest{WorkflowID: "wf1", Input: map[string]any{}})
	var created executionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	waitForTerminal(t, s, created.ID)

	rec = doRequest(s, http.MethodGet, "/api/v1/executions/"+created.ID+"/status", testAPIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status executionStatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status.CompletedSteps != 1 || status.TotalSteps != 1 {
		t.Errorf("expected 1/1 completed steps, got %+v", status)
	}
}

// waitForTerminal polls GetExecution until the execution reaches a
// terminal status or the test times out, since execution runs
// asynchronously in a goroutine started by the handler.
func waitForTerminal(t *testing.T, s *Server, id string) executionResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doRequest(s, http.MethodGet, "/api/v1/executions/"+id, testAPIKey, nil)
		var exec executionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &exec); err == nil {
			if model.Status(exec.Status).Terminal() {
				return exec
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal state in time", id)
	return executionResponse{}
}

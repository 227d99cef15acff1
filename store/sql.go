package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentflow-run/agentflow/model"
)

// sqlStore is the database/sql-backed Store shared by SQLiteStore and
// MySQLStore: both dialects speak the same query text (placeholders,
// JSON-as-text columns) for reads and plain inserts/updates, and differ
// only in the DDL used to create that schema and in the upsert syntax
// (SQLite's ON CONFLICT vs MySQL's ON DUPLICATE KEY UPDATE), which
// dialect selects between.
type sqlStore struct {
	db      *sql.DB
	dialect string // "sqlite" | "mysql"
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the upsert
// helpers below run standalone or as part of CommitStep's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertJSON inserts or replaces a single-column JSON blob keyed by id,
// using the upsert syntax appropriate for the store's dialect.
func (s *sqlStore) upsertJSON(ctx context.Context, x execer, table, id, data string) error {
	var query string
	if s.dialect == "mysql" {
		query = fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data)`, table)
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`, table)
	}
	_, err := x.ExecContext(ctx, query, id, data)
	return err
}

// upsertCheckpoint inserts or replaces the single latest checkpoint row for
// threadID, using the upsert syntax appropriate for the store's dialect.
func (s *sqlStore) upsertCheckpoint(ctx context.Context, x execer, threadID string, stepIndex int, snapshot string) error {
	var query string
	if s.dialect == "mysql" {
		query = `INSERT INTO checkpoints (thread_id, step_index, snapshot) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE step_index = VALUES(step_index), snapshot = VALUES(snapshot)`
	} else {
		query = `INSERT INTO checkpoints (thread_id, step_index, snapshot) VALUES (?, ?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET step_index = excluded.step_index, snapshot = excluded.snapshot`
	}
	_, err := x.ExecContext(ctx, query, threadID, stepIndex, snapshot)
	return err
}

func (s *sqlStore) Agent(ctx context.Context, id string) (*model.Agent, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM agents WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load agent %s: %w", id, err)
	}
	var a model.Agent
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, false, fmt.Errorf("unmarshal agent %s: %w", id, err)
	}
	return &a, true, nil
}

func (s *sqlStore) Tool(ctx context.Context, id string) (*model.Tool, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tools WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load tool %s: %w", id, err)
	}
	var t model.Tool
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, false, fmt.Errorf("unmarshal tool %s: %w", id, err)
	}
	return &t, true, nil
}

func (s *sqlStore) Workflow(ctx context.Context, id string) (*model.Workflow, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflows WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load workflow %s: %w", id, err)
	}
	var w model.Workflow
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, false, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return &w, true, nil
}

// PutAgent, PutTool, and PutWorkflow upsert an entity's JSON-serialized
// definition. There is no broader entity CRUD surface here; a real
// deployment seeds these from whatever builds/validates workflow
// definitions, not through the execution API.
func (s *sqlStore) PutAgent(ctx context.Context, a *model.Agent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent %s: %w", a.ID, err)
	}
	return s.upsertJSON(ctx, s.db, "agents", a.ID, string(data))
}

func (s *sqlStore) PutTool(ctx context.Context, t *model.Tool) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tool %s: %w", t.ID, err)
	}
	return s.upsertJSON(ctx, s.db, "tools", t.ID, string(data))
}

func (s *sqlStore) PutWorkflow(ctx context.Context, w *model.Workflow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", w.ID, err)
	}
	return s.upsertJSON(ctx, s.db, "workflows", w.ID, string(data))
}

func (s *sqlStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	input, err := json.Marshal(exec.InputData)
	if err != nil {
		return fmt.Errorf("marshal execution input: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, thread_id, status, input_data, output_data, error_message, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, '{}', '', ?, NULL, NULL)
	`, exec.ID, exec.WorkflowID, exec.ThreadID, string(exec.Status), string(input), exec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create execution %s: %w", exec.ID, err)
	}
	return nil
}

func (s *sqlStore) GetExecution(ctx context.Context, id string) (*model.Execution, bool, error) {
	var (
		exec                  model.Execution
		inputData, outputData string
		createdAt             string
		startedAt, completedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, thread_id, status, input_data, output_data, error_message, created_at, started_at, completed_at
		FROM executions WHERE id = ?
	`, id).Scan(&exec.ID, &exec.WorkflowID, &exec.ThreadID, &exec.Status, &inputData, &outputData, &exec.ErrorMessage, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load execution %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(inputData), &exec.InputData); err != nil {
		return nil, false, fmt.Errorf("unmarshal execution input: %w", err)
	}
	if err := json.Unmarshal([]byte(outputData), &exec.OutputData); err != nil {
		return nil, false, fmt.Errorf("unmarshal execution output: %w", err)
	}
	if exec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, false, fmt.Errorf("parse created_at: %w", err)
	}
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return nil, false, fmt.Errorf("parse started_at: %w", err)
		}
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, false, fmt.Errorf("parse completed_at: %w", err)
		}
		exec.CompletedAt = &t
	}

	exec.Steps, err = s.ListSteps(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return &exec, true, nil
}

func (s *sqlStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	output, err := json.Marshal(exec.OutputData)
	if err != nil {
		return fmt.Errorf("marshal execution output: %w", err)
	}
	var started, completed any
	if exec.StartedAt != nil {
		started = exec.StartedAt.Format(time.RFC3339Nano)
	}
	if exec.CompletedAt != nil {
		completed = exec.CompletedAt.Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, output_data = ?, error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`, string(exec.Status), string(output), exec.ErrorMessage, started, completed, exec.ID)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	return nil
}

func (s *sqlStore) DeleteExecution(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete-execution transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_steps WHERE execution_id = ?`, id); err != nil {
		return fmt.Errorf("delete steps for execution %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *sqlStore) ListSteps(ctx context.Context, executionID string) ([]model.ExecutionStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, status, input_data, output_data, error_message, metadata, started_at, completed_at
		FROM execution_steps WHERE execution_id = ? ORDER BY started_at ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list steps for %s: %w", executionID, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []model.ExecutionStep
	for rows.Next() {
		var (
			step                               model.ExecutionStep
			inputData, outputData, metadata    string
			startedAt                          string
			completedAt                        sql.NullString
		)
		if err := rows.Scan(&step.ID, &step.ExecutionID, &step.NodeID, &step.Status, &inputData, &outputData, &step.ErrorMessage, &metadata, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		if err := json.Unmarshal([]byte(inputData), &step.InputData); err != nil {
			return nil, fmt.Errorf("unmarshal step input: %w", err)
		}
		if err := json.Unmarshal([]byte(outputData), &step.OutputData); err != nil {
			return nil, fmt.Errorf("unmarshal step output: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &step.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal step metadata: %w", err)
		}
		if step.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse step started_at: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse step completed_at: %w", err)
			}
			step.CompletedAt = &t
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step rows: %w", err)
	}
	return steps, nil
}

func (s *sqlStore) OpenStep(ctx context.Context, step *model.ExecutionStep) error {
	input, err := json.Marshal(step.InputData)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	if step.ID == "" {
		step.ID = newSQLStepID()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, status, input_data, output_data, error_message, metadata, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, '{}', '', '{}', ?, NULL)
	`, step.ID, step.ExecutionID, step.NodeID, string(step.Status), string(input), step.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("open step %s: %w", step.ID, err)
	}
	return nil
}

// CommitStep closes a step and saves its thread's checkpoint snapshot in a
// single database transaction, matching the atomicity the checkpointer
// requires: a reader must never observe a committed step without its
// corresponding checkpoint, or vice versa.
func (s *sqlStore) CommitStep(ctx context.Context, step *model.ExecutionStep, threadID string, stepIndex int, snapshot map[string]any) error {
	output, err := json.Marshal(step.OutputData)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	metadata, err := json.Marshal(step.Metadata)
	if err != nil {
		return fmt.Errorf("marshal step metadata: %w", err)
	}
	snap, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal checkpoint snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit-step transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completed any
	if step.CompletedAt != nil {
		completed = step.CompletedAt.Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE execution_steps
		SET status = ?, output_data = ?, error_message = ?, metadata = ?, completed_at = ?
		WHERE id = ?
	`, string(step.Status), string(output), step.ErrorMessage, string(metadata), completed, step.ID)
	if err != nil {
		return fmt.Errorf("commit step %s: %w", step.ID, err)
	}

	if err := s.upsertCheckpoint(ctx, tx, threadID, stepIndex, string(snap)); err != nil {
		return fmt.Errorf("save checkpoint for thread %s: %w", threadID, err)
	}

	return tx.Commit()
}

func (s *sqlStore) LoadLatestCheckpoint(ctx context.Context, threadID string) (int, map[string]any, bool, error) {
	var (
		stepIndex int
		snap      string
	)
	err := s.db.QueryRowContext(ctx, `SELECT step_index, snapshot FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&stepIndex, &snap)
	if err == sql.ErrNoRows {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("load checkpoint for thread %s: %w", threadID, err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal([]byte(snap), &snapshot); err != nil {
		return 0, nil, false, fmt.Errorf("unmarshal checkpoint snapshot: %w", err)
	}
	return stepIndex, snapshot, true, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

var sqlStepCounter atomic.Int64

// newSQLStepID mints a step id independent of any row count query, since
// concurrent OpenStep calls across connections can't safely count rows to
// derive the next id the way the in-memory store does under one mutex.
func newSQLStepID() string {
	return fmt.Sprintf("step-%d-%d", time.Now().UnixNano(), sqlStepCounter.Add(1))
}

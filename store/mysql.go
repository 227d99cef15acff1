package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, for production deployments
// where multiple processes need to share one execution/checkpoint history
// (a distributed worker pool, or just surviving a process restart without
// losing in-flight executions).
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore opens a connection pool against dsn (the standard
// go-sql-driver/mysql DSN: "user:pass@tcp(host:3306)/dbname?parseTime=true")
// and ensures its schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := &MySQLStore{sqlStore: sqlStore{db: db, dialect: "mysql"}}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return store, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(255) PRIMARY KEY,
			data JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS tools (
			id VARCHAR(255) PRIMARY KEY,
			data JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(255) PRIMARY KEY,
			data JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(255) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			thread_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			input_data JSON NOT NULL,
			output_data JSON NOT NULL,
			error_message TEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			started_at VARCHAR(64),
			completed_at VARCHAR(64),
			INDEX idx_executions_thread (thread_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS execution_steps (
			id VARCHAR(255) PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			input_data JSON NOT NULL,
			output_data JSON NOT NULL,
			error_message TEXT NOT NULL,
			metadata JSON NOT NULL,
			started_at VARCHAR(64) NOT NULL,
			completed_at VARCHAR(64),
			INDEX idx_steps_execution (execution_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) PRIMARY KEY,
			step_index INT NOT NULL,
			snapshot JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range statements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

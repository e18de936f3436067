// Package sqlitestore persists saved workflow configurations in SQLite.
//
// The caller opens the database and imports the driver:
//
//	import _ "modernc.org/sqlite"
//
//	db, err := sql.Open("sqlite", "stackflow.db")
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/session"
)

const DefaultTable = "workflows"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Record describes a stored workflow without its configuration.
type Record struct {
	WorkflowID string
	Version    int
	UpdatedAt  time.Time
}

// Store is a session.Repository backed by a SQLite table.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

var _ session.Repository = (*Store)(nil)

// New creates the table if needed and returns the store. An empty table
// name uses DefaultTable.
func New(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidRequest, "sqlite store requires a database", nil, nil)
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, stackflow.NewError(stackflow.ErrInvalidRequest,
			fmt.Sprintf("invalid table name %q", table), nil, nil)
	}
	s := &Store{db: db, table: table, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		workflow_id TEXT PRIMARY KEY,
		configuration TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return storeError("create schema", err)
	}
	return nil
}

// Save upserts the configuration and bumps its version.
func (s *Store) Save(ctx context.Context, workflowID string, cfg session.SavedConfig) error {
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "workflow id is required", nil, nil)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return stackflow.NewError(stackflow.ErrInvalidConfig, "encode workflow", err, nil)
	}

	q := fmt.Sprintf(`INSERT INTO %s (workflow_id, configuration, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			configuration = excluded.configuration,
			version = version + 1,
			updated_at = excluded.updated_at`, s.table)
	_, err = s.db.ExecContext(ctx, q, workflowID, string(raw), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeError("save workflow", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, workflowID string) (session.SavedConfig, error) {
	q := fmt.Sprintf(`SELECT configuration FROM %s WHERE workflow_id = ?`, s.table)
	var raw string
	err := s.db.QueryRowContext(ctx, q, strings.TrimSpace(workflowID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.SavedConfig{}, stackflow.NewError(stackflow.ErrWorkflowNotFound,
			fmt.Sprintf("workflow %s not found", workflowID), nil, map[string]any{"workflow_id": workflowID})
	}
	if err != nil {
		return session.SavedConfig{}, storeError("load workflow", err)
	}
	var cfg session.SavedConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return session.SavedConfig{}, stackflow.NewError(stackflow.ErrInvalidConfig, "decode workflow", err,
			map[string]any{"workflow_id": workflowID})
	}
	return cfg, nil
}

// List returns stored workflows, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	q := fmt.Sprintf(`SELECT workflow_id, version, updated_at FROM %s ORDER BY updated_at DESC, workflow_id`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var updated string
		if err := rows.Scan(&rec.WorkflowID, &rec.Version, &updated); err != nil {
			return nil, storeError("list workflows", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, updated); parseErr == nil {
			rec.UpdatedAt = ts
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list workflows", err)
	}
	return out, nil
}

// Delete removes a workflow. Deleting a missing workflow is an error.
func (s *Store) Delete(ctx context.Context, workflowID string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE workflow_id = ?`, s.table)
	res, err := s.db.ExecContext(ctx, q, strings.TrimSpace(workflowID))
	if err != nil {
		return storeError("delete workflow", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return stackflow.NewError(stackflow.ErrWorkflowNotFound,
			fmt.Sprintf("workflow %s not found", workflowID), nil, map[string]any{"workflow_id": workflowID})
	}
	return nil
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return stackflow.NewError(stackflow.ErrCollaborator, op, err, map[string]any{"store": "sqlite"})
}

// Package history persists ExecutionTask records in a sqlite database so
// finished and stopped tasks can be listed and resumed later.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// ErrNotFound is returned by Get for an unknown task id.
var ErrNotFound = errors.New("task not found in history")

// Store is the task history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; concurrent batch tasks queue on the pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		plugin_id TEXT NOT NULL,
		exec_type TEXT NOT NULL,
		run_type TEXT NOT NULL,
		state TEXT NOT NULL,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		message TEXT,
		backup_path TEXT,
		created_at TEXT NOT NULL,
		finished_at TEXT,
		record TEXT NOT NULL -- JSON ExecutionTask
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_plugin_id ON tasks(plugin_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Save inserts or replaces the record of t.
func (s *Store) Save(ctx context.Context, t *task.ExecutionTask) error {
	record, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}

	query := `
	INSERT OR REPLACE INTO tasks (
		id, plugin_id, exec_type, run_type, state, success, message,
		backup_path, created_at, finished_at, record
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.PluginID,
		t.ExecType.String(),
		t.RunType.String(),
		t.State.String(),
		t.Success,
		t.Message,
		t.BackupPath,
		formatTime(t.CreatedAt),
		formatTime(t.FinishedAt),
		string(record),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns the task with the given id.
func (s *Store) Get(ctx context.Context, id string) (*task.ExecutionTask, error) {
	var record string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM tasks WHERE id = ?", id).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return decode(record)
}

func decode(record string) (*task.ExecutionTask, error) {
	var t task.ExecutionTask
	if err := json.Unmarshal([]byte(record), &t); err != nil {
		return nil, fmt.Errorf("failed to decode task record: %w", err)
	}
	return &t, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	PluginID string
	State    task.State
	Limit    int
}

// List returns matching tasks, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*task.ExecutionTask, error) {
	var where []string
	var args []any
	if f.PluginID != "" {
		where = append(where, "plugin_id = ?")
		args = append(args, f.PluginID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State.String())
	}

	query := "SELECT record FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.ExecutionTask
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		t, err := decode(record)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a task record.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

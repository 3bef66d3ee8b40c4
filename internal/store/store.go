package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/task"
)

// Store persists agent state, submitted tasks, and bus events to SQLite.
// It is schema-defined bookkeeping: orchestration correctness never depends
// on it, and write errors are surfaced but non-fatal to callers.
type Store struct {
	db *sql.DB
}

// Open opens (creating parent directories) the database at path.
// ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			name TEXT PRIMARY KEY,
			manifest_path TEXT,
			status TEXT,
			pid INTEGER,
			last_seen DATETIME,
			restart_count INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			agent TEXT,
			action TEXT,
			params TEXT,
			priority INTEGER,
			status TEXT,
			created_at DATETIME,
			started_at DATETIME,
			completed_at DATETIME,
			result TEXT,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			type TEXT,
			source TEXT,
			data TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertAgent records the latest observed state for an agent.
func (s *Store) UpsertAgent(ctx context.Context, rec agent.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents(name, manifest_path, status, pid, last_seen, restart_count)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			last_seen = excluded.last_seen,
			restart_count = excluded.restart_count`,
		rec.Name, rec.ManifestPath, rec.Status.String(), rec.PID,
		time.Now().UTC(), rec.RestartCount)
	return err
}

// RecordTask inserts or updates a task row.
func (s *Store) RecordTask(ctx context.Context, t task.Task) error {
	params, _ := json.Marshal(t.Params)
	result, _ := json.Marshal(t.Result)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks(id, agent, action, params, priority, status, created_at, started_at, completed_at, result, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			result = excluded.result,
			error = excluded.error`,
		t.ID, t.AgentName, t.Action, string(params), t.Priority, t.Status.String(),
		t.CreatedAt.UTC(), nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
		string(result), t.Error)
	return err
}

// RecordEvent appends one bus event row.
func (s *Store) RecordEvent(ctx context.Context, eventType, source string, data map[string]any) error {
	payload, _ := json.Marshal(data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events(type, source, data) VALUES(?, ?, ?)`,
		eventType, source, string(payload))
	return err
}

// CountEvents reports the number of persisted events of the given type.
func (s *Store) CountEvents(ctx context.Context, eventType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE type = ?`, eventType).Scan(&n)
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

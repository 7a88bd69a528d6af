// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history keeps an audit log of tool invocations in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bjeremy23/jibberish/pkg/agent"
	"github.com/bjeremy23/jibberish/pkg/tools"
)

// Entry is one recorded tool invocation.
type Entry struct {
	ID         string
	Tool       string
	Server     string
	Syntax     string
	Arguments  map[string]any
	Status     string
	Output     string
	Error      string
	StartedAt  time.Time
	DurationMS int64
}

// Store is a SQLite-backed invocation log. It implements agent.Recorder.
type Store struct {
	db       *sql.DB
	redactor *tools.Redactor
}

var _ agent.Recorder = (*Store)(nil)

// maxStoredOutput bounds the output kept per entry.
const maxStoredOutput = 4096

// Open opens or creates the database at path. The special path ":memory:"
// creates an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// writer lock contention.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, redactor: tools.NewRedactor()}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			server TEXT,
			syntax TEXT,
			arguments TEXT,
			status TEXT NOT NULL,
			output TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_started_at ON invocations(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(tool)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Record stores an invocation. Sensitive argument values and secrets in the
// output are redacted.
func (s *Store) Record(ctx context.Context, inv agent.Invocation) error {
	args, err := json.Marshal(s.redactor.RedactArgs(inv.Arguments))
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}

	status := string(tools.StatusError)
	var output, detail string
	if inv.Result != nil {
		status = string(inv.Result.Status)
		output = truncate(s.redactor.Redact(inv.Result.Output), maxStoredOutput)
		detail = s.redactor.Redact(inv.Result.ErrorDetail)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, tool, server, syntax, arguments, status, output, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Tool, inv.Server, string(inv.Syntax), string(args),
		status, output, detail, inv.Started.UnixNano(), inv.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of entries (default 20)
	Limit int

	// Tool restricts entries to one tool name
	Tool string

	// Since drops entries started before this time
	Since time.Time

	// Status restricts entries to one status ("ok" or "error")
	Status string
}

// List returns entries, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, tool, server, syntax, arguments, status, output, error, started_at, duration_ms
		FROM invocations WHERE started_at >= ?`
	args := []any{opts.Since.UnixNano()}
	if opts.Since.IsZero() {
		args[0] = int64(0)
	}
	if opts.Tool != "" {
		query += ` AND tool = ?`
		args = append(args, opts.Tool)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			server    sql.NullString
			syntax    sql.NullString
			argsJSON  sql.NullString
			output    sql.NullString
			detail    sql.NullString
			startedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Tool, &server, &syntax, &argsJSON, &e.Status, &output, &detail, &startedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		e.Server = server.String
		e.Syntax = syntax.String
		e.Output = output.String
		e.Error = detail.String
		e.StartedAt = time.Unix(0, startedAt)
		if argsJSON.Valid && argsJSON.String != "" {
			if err := json.Unmarshal([]byte(argsJSON.String), &e.Arguments); err != nil {
				return nil, fmt.Errorf("failed to decode arguments of %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune invocations: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

// Package history records pipeline runs and their step events in SQLite so
// past builds can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// Step event types.
const (
	EventStepStarted   = "StepStarted"
	EventStepCompleted = "StepCompleted"
	EventStepFailed    = "StepFailed"
)

// Run is one orchestrator invocation.
type Run struct {
	ID         string
	BuildID    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
}

// StepEvent is one recorded step transition within a run.
type StepEvent struct {
	ID        int64
	RunID     string
	Step      string
	Type      string
	Timestamp time.Time
	Detail    string
}

// Store persists runs and step events.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a new SQLite-backed history store.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// Each pooled connection to ":memory:" gets its own database, and the
	// driver only supports a single writer anyway. One connection serves all.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		outcome TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_build_id ON runs(build_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StartRun records a new run in the running state.
func (s *Store) StartRun(ctx context.Context, runID, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, build_id, started_at, outcome) VALUES (?, ?, ?, ?)",
		runID, buildID, time.Now().Unix(), OutcomeRunning,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed or aborted.
func (s *Store) FinishRun(ctx context.Context, runID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?",
		time.Now().Unix(), outcome, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// SetRunBuildID records the build identity once it has been resolved.
func (s *Store) SetRunBuildID(ctx context.Context, runID, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET build_id = ? WHERE id = ?",
		buildID, runID,
	)
	if err != nil {
		return fmt.Errorf("update run build id: %w", err)
	}
	return nil
}

// AppendStep records one step event for a run.
func (s *Store) AppendStep(ctx context.Context, runID, step, eventType, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO run_events (run_id, step, event_type, timestamp, detail) VALUES (?, ?, ?, ?, ?)",
		runID, step, eventType, time.Now().Unix(), detail,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, started_at, finished_at, outcome FROM runs ORDER BY started_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.BuildID, &started, &finished, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			t := time.Unix(finished.Int64, 0)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// EventsForRun returns all step events of a run in recorded order.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]StepEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, step, event_type, timestamp, detail FROM run_events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []StepEvent
	for rows.Next() {
		var e StepEvent
		var ts int64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &e.Type, &ts, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

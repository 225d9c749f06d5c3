// Package journal records task state transitions and conflict resolutions
// in SQLite for after-the-fact auditing. It is a write-only trail from the
// scheduler's perspective: nothing here is ever read back into scheduling
// decisions, so the core keeps its no-persistent-state guarantee.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxbot/taskforge/internal/conflict"
)

// Transition is one recorded task lifecycle change.
type Transition struct {
	TaskID    string
	Event     string // event type, e.g. "task.started"
	Detail    string // failure reason, duration, etc.
	Timestamp time.Time
}

// ResolutionRecord is one recorded conflict arbitration outcome.
type ResolutionRecord struct {
	Kind      string
	TaskIDs   []string
	Mode      string
	Resolved  bool
	Action    string
	Message   string
	Timestamp time.Time
}

// Store is a SQLite-backed audit journal.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the journal at the given path. Parent
// directories are created as needed; WAL mode and a busy timeout are set
// through the connection string.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return store, nil
}

// OpenMemory creates an in-memory journal for tests. Uses a shared cache
// so multiple connections see the same database.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// A second connection would see a separate empty database once the
	// first closes; keep it to one.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransition appends one task lifecycle change.
func (s *Store) RecordTransition(ctx context.Context, taskID, event, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, event, detail)
		VALUES (?, ?, ?)
	`, taskID, event, detail)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// RecordResolution appends one conflict arbitration outcome.
func (s *Store) RecordResolution(ctx context.Context, res conflict.Resolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflict_resolutions (kind, task_ids, mode, resolved, action, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(res.Conflict.ConflictKind()),
		strings.Join(res.Conflict.ContendingTasks(), ","),
		string(res.Mode),
		boolToInt(res.Resolved),
		string(res.Action),
		res.Message)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}
	return nil
}

// ListTransitions returns all transitions for a task in recorded order.
// An empty taskID returns every transition.
func (s *Store) ListTransitions(ctx context.Context, taskID string) ([]Transition, error) {
	query := `
		SELECT task_id, event, detail, created_at
		FROM task_transitions
	`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.TaskID, &tr.Event, &tr.Detail, &tr.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return out, nil
}

// ListResolutions returns every recorded arbitration outcome in order.
func (s *Store) ListResolutions(ctx context.Context) ([]ResolutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, task_ids, mode, resolved, action, message, created_at
		FROM conflict_resolutions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolutions: %w", err)
	}
	defer rows.Close()

	var out []ResolutionRecord
	for rows.Next() {
		var rec ResolutionRecord
		var taskIDs string
		var resolved int
		if err := rows.Scan(&rec.Kind, &taskIDs, &rec.Mode, &resolved, &rec.Action, &rec.Message, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		if taskIDs != "" {
			rec.TaskIDs = strings.Split(taskIDs, ",")
		}
		rec.Resolved = resolved != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolutions: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/labels"
	_ "modernc.org/sqlite"

	v1 "github.com/prh-dash/dash-status/api/v1"
)

const defaultSQLitePath = "dash-status.db"

// SQLiteRunStore implements the RunStorage interface on a single SQLite file.
// The full run is kept as a JSON payload next to the indexed columns.
type SQLiteRunStore struct {
	db *sql.DB
}

var _ RunStorage = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore opens the database file at path and runs migrations.
func NewSQLiteRunStore(ctx context.Context, path string) (*SQLiteRunStore, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteRunStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Printf("Using sqlite run store %q", path)
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteRunStore) Close() error { return s.db.Close() }

func (s *SQLiteRunStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	"trigger"   TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	labels      TEXT NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at_id ON runs (started_at DESC, id DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ListRuns applies the selector to the decoded labels of every row.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, selector string) ([]v1.RunObject, error) {
	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to parse label selector: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, labels, payload FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []v1.RunObject{}
	for rows.Next() {
		var id, labelsJSON, payload string
		if err := rows.Scan(&id, &labelsJSON, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runLabels := labels.Set{}
		if err := json.Unmarshal([]byte(labelsJSON), &runLabels); err != nil {
			log.Printf("Warning: Error unmarshaling labels of run %s: %v", id, err)
			continue
		}
		if !sel.Matches(runLabels) {
			continue
		}

		var run v1.RunObject
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			log.Printf("Warning: Error unmarshaling run %s: %v", id, err)
			continue
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	sortNewestFirst(runs)
	return runs, nil
}

func (s *SQLiteRunStore) GetRun(ctx context.Context, runID uuid.UUID) (*v1.RunObject, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, runID.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newNotFound(runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run v1.RunObject
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteRunStore) CreateRun(ctx context.Context, run v1.RunObject) (*v1.RunObject, error) {
	if run.Id == (uuid.UUID{}) {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	run = withSystemLabels(run)
	labelsJSON, err := json.Marshal(run.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
INSERT INTO runs (id, "trigger", status, started_at, finished_at, labels, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		run.Id.String(),
		string(run.Trigger),
		string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(labelsJSON),
		string(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	if rowsAffected, _ := res.RowsAffected(); rowsAffected == 0 {
		return nil, newAlreadyExists(run.Id)
	}
	return &run, nil
}

func (s *SQLiteRunStore) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID.String())
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if rowsAffected == 0 {
		return newNotFound(runID)
	}
	return nil
}

// internal/journal/repository.go
package journal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one create or extract invocation.
type Run struct {
	ID           int64          `db:"id"`
	Operation    string         `db:"operation"`
	Source       string         `db:"source"`
	Target       string         `db:"target"`
	Status       Status         `db:"status"`
	Entries      int64          `db:"entries"`
	Bytes        int64          `db:"bytes"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	ErrorMessage sql.NullString `db:"error_message"`
}

const schema = `
CREATE TABLE IF NOT EXISTS archive_runs (
	id            BIGSERIAL PRIMARY KEY,
	operation     TEXT        NOT NULL,
	source        TEXT        NOT NULL,
	target        TEXT        NOT NULL,
	status        TEXT        NOT NULL,
	entries       BIGINT      NOT NULL DEFAULT 0,
	bytes         BIGINT      NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	error_message TEXT
)`

// Repository handles database operations for run tracking
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the archive_runs table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// CreateRun inserts run and sets its ID.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO archive_runs (
			operation, source, target, status, entries, bytes, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	return r.db.QueryRowContext(
		ctx, query,
		run.Operation, run.Source, run.Target, run.Status,
		run.Entries, run.Bytes, run.StartedAt,
	).Scan(&run.ID)
}

// FinishRun records the outcome of run.
func (r *Repository) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE archive_runs
		SET status = $1, entries = $2, bytes = $3,
		    completed_at = $4, error_message = $5
		WHERE id = $6
	`

	_, err := r.db.ExecContext(
		ctx, query,
		run.Status, run.Entries, run.Bytes,
		run.CompletedAt, run.ErrorMessage, run.ID,
	)
	return err
}

// GetRun returns the run with id, or nil when there is none.
func (r *Repository) GetRun(ctx context.Context, id int64) (*Run, error) {
	run := &Run{}
	err := r.db.GetContext(ctx, run, `SELECT * FROM archive_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// RecentRuns lists the latest runs, newest first.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := r.db.SelectContext(ctx, &runs,
		`SELECT * FROM archive_runs ORDER BY started_at DESC LIMIT $1`, limit)
	return runs, err
}

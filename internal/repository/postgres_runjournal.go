package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"csclub/backend/pkg/models"
)

// Schema creates the workflow_runs table.
const Schema = `CREATE TABLE IF NOT EXISTS workflow_runs (
	id UUID PRIMARY KEY,
	workflow TEXT NOT NULL,
	remote_run_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	elapsed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_tokens BIGINT NOT NULL DEFAULT 0,
	total_steps BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workflow_runs_recorded_at_idx ON workflow_runs (recorded_at DESC);`

// MaxRecent caps Recent.
const MaxRecent = 100

// PostgresRunJournal is a PostgreSQL implementation of the RunJournal interface.
type PostgresRunJournal struct {
	db *pgxpool.Pool
}

// NewPostgresRunJournal creates a new PostgresRunJournal.
func NewPostgresRunJournal(db *pgxpool.Pool) *PostgresRunJournal {
	return &PostgresRunJournal{db: db}
}

// Migrate creates the journal table if it does not exist.
func (s *PostgresRunJournal) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create workflow_runs: %w", err)
	}
	return nil
}

// Record stores one run. An empty ID is replaced with a new UUID.
func (s *PostgresRunJournal) Record(ctx context.Context, run *models.WorkflowRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.RecordedAt.IsZero() {
		run.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_runs (id, workflow, remote_run_id, status, error, elapsed_seconds, total_tokens, total_steps, created_at, finished_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Workflow, run.RemoteRunID, run.Status, run.Error, run.ElapsedSeconds,
		run.TotalTokens, run.TotalSteps, nullTime(run.CreatedAt), nullTime(run.FinishedAt), run.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record workflow run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *PostgresRunJournal) Recent(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, workflow, remote_run_id, status, error, elapsed_seconds, total_tokens, total_steps, created_at, finished_at, recorded_at
		 FROM workflow_runs ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.WorkflowRun{}
	for rows.Next() {
		var run models.WorkflowRun
		var createdAt, finishedAt *time.Time
		if err := rows.Scan(&run.ID, &run.Workflow, &run.RemoteRunID, &run.Status, &run.Error,
			&run.ElapsedSeconds, &run.TotalTokens, &run.TotalSteps, &createdAt, &finishedAt, &run.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}
		if createdAt != nil {
			run.CreatedAt = *createdAt
		}
		if finishedAt != nil {
			run.FinishedAt = *finishedAt
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read workflow runs: %w", err)
	}
	return runs, nil
}

// Ping checks the database connection.
func (s *PostgresRunJournal) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

package repository

import (
	"context"

	"csclub/backend/pkg/models"
)

// RunJournal records remote workflow runs for later inspection.
type RunJournal interface {
	// Record stores one run.
	Record(ctx context.Context, run *models.WorkflowRun) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]*models.WorkflowRun, error)
	// Ping checks that the journal is reachable.
	Ping(ctx context.Context) error
}

// NopJournal discards every run. It is used when no database is configured.
type NopJournal struct{}

func (NopJournal) Record(ctx context.Context, run *models.WorkflowRun) error { return nil }

func (NopJournal) Recent(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	return []*models.WorkflowRun{}, nil
}

func (NopJournal) Ping(ctx context.Context) error { return nil }

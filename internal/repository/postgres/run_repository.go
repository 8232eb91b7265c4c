package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type runRepository struct {
	db *sqlx.DB
}

// NewRunRepository stores refresh pass history in refresh_runs.
func NewRunRepository(db *sqlx.DB) repository.RunRecorder {
	return &runRepository{db: db}
}

// StartRun creates a running refresh_runs record
func (r *runRepository) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO refresh_runs (run_id, status, started_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.ExecContext(ctx, query, runID, domain.RefreshRunning, startedAt); err != nil {
		return fmt.Errorf("insert refresh run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a pass
func (r *runRepository) FinishRun(ctx context.Context, summary domain.PassSummary, state domain.RefreshState, errMsg string) error {
	query := `
		UPDATE refresh_runs
		SET status = $1, finished_at = $2, processed = $3, succeeded = $4,
		    skipped = $5, superseded = $6, cancelled = $7, error_message = $8
		WHERE run_id = $9
	`

	_, err := r.db.ExecContext(ctx, query,
		state, summary.FinishedAt, summary.Processed, summary.Succeeded,
		summary.Skipped, summary.Superseded, summary.Cancelled, errMsg, summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("update refresh run %s: %w", summary.RunID, err)
	}
	return nil
}

// RecentRuns lists the latest passes, newest first
func (r *runRepository) RecentRuns(ctx context.Context, limit int) ([]domain.RefreshRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT run_id, status, started_at, finished_at, processed, succeeded,
		       skipped, superseded, cancelled, COALESCE(error_message, '') AS error_message
		FROM refresh_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	var runs []domain.RefreshRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list refresh runs: %w", err)
	}
	return runs, nil
}

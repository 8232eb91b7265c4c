package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

type activityRepository struct {
	db         *sqlx.DB
	clock      clockwork.Clock
	windowDays int
}

// NewActivityRepository treats a product as active when it sold anywhere in the
// trailing window or currently has available stock in any warehouse.
func NewActivityRepository(db *sqlx.DB, clock clockwork.Clock, windowDays int) repository.ActivityPolicy {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if windowDays <= 0 {
		windowDays = 28
	}
	return &activityRepository{db: db, clock: clock, windowDays: windowDays}
}

func (r *activityRepository) ActiveProductIDs(ctx context.Context) (map[string]struct{}, error) {
	now := r.clock.Now()
	from := now.Add(-time.Duration(r.windowDays) * 24 * time.Hour)

	query := `
		SELECT product_id FROM order_lines
		WHERE ordered_at >= $1 AND ordered_at < $2 AND quantity > 0
		UNION
		SELECT product_id FROM (
			SELECT DISTINCT ON (product_id, warehouse_name, source) product_id, available
			FROM stock_snapshots
			ORDER BY product_id, warehouse_name, source, snapshot_at DESC
		) latest
		WHERE available > 0
	`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, from, now); err != nil {
		return nil, &domain.DataUnavailableError{Err: fmt.Errorf("active products: %w", err)}
	}

	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}
	return active, nil
}

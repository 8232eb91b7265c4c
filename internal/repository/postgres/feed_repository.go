package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/jmoiron/sqlx"
)

type feedRepository struct {
	db *sqlx.DB
}

// NewFeedRepository reads the marketplace feed from stock_snapshots and order_lines.
func NewFeedRepository(db *sqlx.DB) repository.InventoryFeed {
	return &feedRepository{db: db}
}

type snapshotRow struct {
	domain.StockSnapshot
	SubStatesJSON []byte `db:"sub_states"`
}

func (r snapshotRow) toDomain() (domain.StockSnapshot, error) {
	snap := r.StockSnapshot
	subStates, err := decodeSubStates(r.SubStatesJSON)
	if err != nil {
		return domain.StockSnapshot{}, fmt.Errorf("sub states for %s: %w", snap.Key, err)
	}
	snap.SubStates = subStates
	return snap, nil
}

func decodeSubStates(raw []byte) (map[string]int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStockedKeys returns the latest snapshot per key. A row whose sub states do not
// decode is rejected on its own.
func (r *feedRepository) ListStockedKeys(ctx context.Context) (domain.StockListing, error) {
	query := `
		SELECT DISTINCT ON (product_id, warehouse_name, source)
			product_id, warehouse_name, source, sku, product_name, cluster,
			available, reserved, in_transit, in_supply_request,
			COALESCE(sub_states, '{}'::jsonb) AS sub_states, snapshot_at
		FROM stock_snapshots
		ORDER BY product_id, warehouse_name, source, snapshot_at DESC
	`

	var rows []snapshotRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return domain.StockListing{}, &domain.DataUnavailableError{Err: fmt.Errorf("list stocked keys: %w", err)}
	}

	listing := domain.StockListing{Snapshots: make([]domain.StockSnapshot, 0, len(rows))}
	for _, row := range rows {
		snap, err := row.toDomain()
		if err != nil {
			listing.Rejected = append(listing.Rejected, &domain.DataIntegrityError{Key: row.Key, Reason: err.Error()})
			continue
		}
		listing.Snapshots = append(listing.Snapshots, snap)
	}
	return listing, nil
}

func (r *feedRepository) SalesInWindow(ctx context.Context, key domain.Key, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM order_lines
		WHERE product_id = $1 AND warehouse_name = $2 AND source = $3
		  AND ordered_at >= $4 AND ordered_at < $5
	`

	var total int64
	if err := r.db.GetContext(ctx, &total, query, key.ProductID, key.Warehouse, key.Source, from, to); err != nil {
		return 0, fmt.Errorf("sum sales: %w", err)
	}
	return total, nil
}

// DaysWithStock counts distinct UTC days in [from, to) with a snapshot showing available stock.
func (r *feedRepository) DaysWithStock(ctx context.Context, key domain.Key, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT (snapshot_at AT TIME ZONE 'UTC')::date)
		FROM stock_snapshots
		WHERE product_id = $1 AND warehouse_name = $2 AND source = $3
		  AND snapshot_at >= $4 AND snapshot_at < $5
		  AND available > 0
	`

	var days int
	if err := r.db.GetContext(ctx, &days, query, key.ProductID, key.Warehouse, key.Source, from, to); err != nil {
		return 0, fmt.Errorf("count stock days: %w", err)
	}
	return days, nil
}

func (r *feedRepository) LastSaleBefore(ctx context.Context, key domain.Key, notBefore, before time.Time) (*time.Time, error) {
	query := `
		SELECT MAX(ordered_at)
		FROM order_lines
		WHERE product_id = $1 AND warehouse_name = $2 AND source = $3
		  AND ordered_at >= $4 AND ordered_at < $5
		  AND quantity > 0
	`

	var last sql.NullTime
	if err := r.db.GetContext(ctx, &last, query, key.ProductID, key.Warehouse, key.Source, notBefore, before); err != nil {
		return nil, fmt.Errorf("last sale: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

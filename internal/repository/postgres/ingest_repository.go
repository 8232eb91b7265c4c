package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
)

type ingestRepository struct {
	db *DB
}

// NewIngestRepository writes raw feed rows in batched transactions.
func NewIngestRepository(db *DB) repository.IngestRepository {
	return &ingestRepository{db: db}
}

func (r *ingestRepository) InsertSnapshots(ctx context.Context, rows []domain.StockSnapshot) (int, error) {
	query := `
		INSERT INTO stock_snapshots (
			product_id, warehouse_name, source, sku, product_name, cluster,
			available, reserved, in_transit, in_supply_request, sub_states, snapshot_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (product_id, warehouse_name, source, snapshot_at)
		DO UPDATE SET
			sku = EXCLUDED.sku,
			product_name = EXCLUDED.product_name,
			cluster = EXCLUDED.cluster,
			available = EXCLUDED.available,
			reserved = EXCLUDED.reserved,
			in_transit = EXCLUDED.in_transit,
			in_supply_request = EXCLUDED.in_supply_request,
			sub_states = EXCLUDED.sub_states
	`

	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range rows {
			subStates, err := json.Marshal(s.SubStates)
			if err != nil {
				return fmt.Errorf("encode sub states for %s: %w", s.Key, err)
			}
			if _, err := stmt.ExecContext(ctx,
				s.ProductID, s.Warehouse, s.Source, s.SKU, s.ProductName, s.Cluster,
				s.Available, s.Reserved, s.InTransit, s.InSupplyRequest, subStates, s.SnapshotAt,
			); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", s.Key, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *ingestRepository) InsertOrderLines(ctx context.Context, rows []domain.OrderLine) (int, error) {
	query := `
		INSERT INTO order_lines (product_id, warehouse_name, source, ordered_at, quantity)
		VALUES ($1, $2, $3, $4, $5)
	`

	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare order line insert: %w", err)
		}
		defer stmt.Close()

		for _, o := range rows {
			if _, err := stmt.ExecContext(ctx, o.ProductID, o.Warehouse, o.Source, o.OrderedAt, o.Quantity); err != nil {
				return fmt.Errorf("insert order line %s: %w", o.Key, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/google/uuid"
)

// VelocityFeed exposes the sales and stock aggregates the velocity calculator reads.
// Windows are half-open: [from, to).
type VelocityFeed interface {
	SalesInWindow(ctx context.Context, key domain.Key, from, to time.Time) (int64, error)
	DaysWithStock(ctx context.Context, key domain.Key, from, to time.Time) (int, error)
	// LastSaleBefore returns nil when the key has no sale at or after notBefore.
	LastSaleBefore(ctx context.Context, key domain.Key, notBefore, before time.Time) (*time.Time, error)
}

// InventoryFeed is the marketplace inventory feed consumed by the refresh pass.
type InventoryFeed interface {
	VelocityFeed
	// ListStockedKeys returns the latest snapshot of every key with a stock record.
	// Malformed rows are reported per key in Rejected; the error is for feed-wide faults.
	ListStockedKeys(ctx context.Context) (domain.StockListing, error)
}

// ActivityPolicy decides which products count as active for the dashboard.
type ActivityPolicy interface {
	ActiveProductIDs(ctx context.Context) (map[string]struct{}, error)
}

// MetricsStore is the metrics cache read by the dashboard and written by refresh passes.
type MetricsStore interface {
	// Upsert replaces or inserts the row for m.Key. A zero CalculatedAt is stamped with
	// the store clock. The write is skipped (applied=false) when the stored row is newer.
	Upsert(ctx context.Context, m domain.CachedWarehouseMetric) (applied bool, err error)
	Query(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, error)
	QueryAll(ctx context.Context, filter domain.FilterSpec) ([]domain.CachedWarehouseMetric, error)
	Get(ctx context.Context, key domain.Key) (domain.CachedWarehouseMetric, error)
	Staleness(ctx context.Context, key domain.Key) (time.Duration, error)
	Freshness(ctx context.Context) (domain.Freshness, error)
}

// RunRecorder persists refresh pass history.
type RunRecorder interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, summary domain.PassSummary, state domain.RefreshState, errMsg string) error
	RecentRuns(ctx context.Context, limit int) ([]domain.RefreshRun, error)
}

// IngestRepository loads raw feed rows (used by the seed command).
type IngestRepository interface {
	InsertSnapshots(ctx context.Context, rows []domain.StockSnapshot) (int, error)
	InsertOrderLines(ctx context.Context, rows []domain.OrderLine) (int, error)
}

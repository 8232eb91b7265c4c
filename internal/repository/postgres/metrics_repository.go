package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// PgxIface is the subset of pgxpool.Pool used by the metrics store.
type PgxIface interface {
	querier
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// pageSnapshot lets the count and the page read the same committed state.
var pageSnapshot = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

const metricColumns = `
	product_id, warehouse_name, source, sku, product_name, cluster,
	available_stock, in_transit_stock, in_supply_request_stock,
	window_days, sales_count_window, days_with_stock, days_without_sales,
	daily_sales_average::text, target_stock, replenishment_need,
	COALESCE(days_of_stock, 0)::text, days_of_stock_infinite,
	liquidity_status, calculated_at`

const upsertMetricQuery = `
	INSERT INTO warehouse_metrics (
		product_id, warehouse_name, source, sku, product_name, cluster,
		available_stock, in_transit_stock, in_supply_request_stock,
		window_days, sales_count_window, days_with_stock, days_without_sales,
		daily_sales_average, target_stock, replenishment_need,
		days_of_stock, days_of_stock_infinite, liquidity_status, calculated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::numeric, $15, $16, $17::numeric, $18, $19, $20)
	ON CONFLICT (product_id, warehouse_name, source) DO UPDATE SET
		sku = EXCLUDED.sku,
		product_name = EXCLUDED.product_name,
		cluster = EXCLUDED.cluster,
		available_stock = EXCLUDED.available_stock,
		in_transit_stock = EXCLUDED.in_transit_stock,
		in_supply_request_stock = EXCLUDED.in_supply_request_stock,
		window_days = EXCLUDED.window_days,
		sales_count_window = EXCLUDED.sales_count_window,
		days_with_stock = EXCLUDED.days_with_stock,
		days_without_sales = EXCLUDED.days_without_sales,
		daily_sales_average = EXCLUDED.daily_sales_average,
		target_stock = EXCLUDED.target_stock,
		replenishment_need = EXCLUDED.replenishment_need,
		days_of_stock = EXCLUDED.days_of_stock,
		days_of_stock_infinite = EXCLUDED.days_of_stock_infinite,
		liquidity_status = EXCLUDED.liquidity_status,
		calculated_at = EXCLUDED.calculated_at
	WHERE warehouse_metrics.calculated_at <= EXCLUDED.calculated_at`

type metricsRepository struct {
	db    PgxIface
	clock clockwork.Clock
}

// NewMetricsRepository creates the Postgres-backed metrics cache.
func NewMetricsRepository(db PgxIface, clock clockwork.Clock) repository.MetricsStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &metricsRepository{db: db, clock: clock}
}

func (r *metricsRepository) Upsert(ctx context.Context, m domain.CachedWarehouseMetric) (bool, error) {
	if m.CalculatedAt.IsZero() {
		m.CalculatedAt = r.clock.Now()
	}

	tag, err := r.db.Exec(ctx, upsertMetricQuery, upsertArgs(m)...)
	if err != nil {
		return false, fmt.Errorf("upsert metric %s: %w", m.Key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func upsertArgs(m domain.CachedWarehouseMetric) []interface{} {
	var days interface{}
	if d, finite := m.DaysOfStock.Days(); finite {
		days = d.StringFixed(2)
	}
	return []interface{}{
		m.ProductID, m.Warehouse, m.Source, m.SKU, m.ProductName, m.Cluster,
		m.AvailableStock, m.InTransitStock, m.InSupplyRequestStock,
		m.WindowDays, m.SalesCountWindow, m.DaysWithStock, m.DaysWithoutSales,
		m.DailySalesAverage.StringFixed(2), m.TargetStock, m.ReplenishmentNeed,
		days, m.DaysOfStock.IsInfinite(), m.LiquidityStatus.String(), m.CalculatedAt.UTC(),
	}
}

// Query counts and pages inside one repeatable-read transaction, so Total always
// describes the same rows the page was cut from even while a pass is writing.
func (r *metricsRepository) Query(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, error) {
	tx, err := r.db.BeginTx(ctx, pageSnapshot)
	if err != nil {
		return domain.MetricsPage{}, fmt.Errorf("begin metrics snapshot: %w", err)
	}
	page, err := queryPage(ctx, tx, filter)
	if err != nil {
		_ = tx.Rollback(ctx)
		return domain.MetricsPage{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.MetricsPage{}, fmt.Errorf("end metrics snapshot: %w", err)
	}
	return page, nil
}

func queryPage(ctx context.Context, q querier, filter domain.FilterSpec) (domain.MetricsPage, error) {
	where, args, idx := buildMetricsFilterClause(filter, 1)

	countQuery := "SELECT COUNT(*) FROM warehouse_metrics WHERE 1=1" + where
	var total int
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return domain.MetricsPage{}, fmt.Errorf("count metrics: %w", err)
	}

	query := "SELECT" + metricColumns + " FROM warehouse_metrics WHERE 1=1" + where +
		buildMetricsOrderClause(filter) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)

	qArgs := append(args, filter.Limit, filter.Offset)
	metrics, err := selectMetrics(ctx, q, query, qArgs...)
	if err != nil {
		return domain.MetricsPage{}, err
	}

	page := domain.MetricsPage{
		Items:  make([]domain.MetricRow, 0, len(metrics)),
		Total:  total,
		Offset: filter.Offset,
		Limit:  filter.Limit,
	}
	for _, m := range metrics {
		page.Items = append(page.Items, domain.MetricRow{CachedWarehouseMetric: m, Urgent: m.Urgent()})
	}
	return page, nil
}

func (r *metricsRepository) QueryAll(ctx context.Context, filter domain.FilterSpec) ([]domain.CachedWarehouseMetric, error) {
	where, args, _ := buildMetricsFilterClause(filter, 1)
	query := "SELECT" + metricColumns + " FROM warehouse_metrics WHERE 1=1" + where + buildMetricsOrderClause(filter)
	return selectMetrics(ctx, r.db, query, args...)
}

func (r *metricsRepository) Get(ctx context.Context, key domain.Key) (domain.CachedWarehouseMetric, error) {
	query := "SELECT" + metricColumns + `
		FROM warehouse_metrics
		WHERE product_id = $1 AND warehouse_name = $2 AND source = $3`

	m, err := scanMetric(r.db.QueryRow(ctx, query, key.ProductID, key.Warehouse, key.Source))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CachedWarehouseMetric{}, domain.ErrMetricNotFound
	}
	if err != nil {
		return domain.CachedWarehouseMetric{}, fmt.Errorf("get metric %s: %w", key, err)
	}
	return m, nil
}

func (r *metricsRepository) Staleness(ctx context.Context, key domain.Key) (time.Duration, error) {
	m, err := r.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return r.clock.Since(m.CalculatedAt), nil
}

func (r *metricsRepository) Freshness(ctx context.Context) (domain.Freshness, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(MIN(calculated_at), to_timestamp(0)),
		       COALESCE(MAX(calculated_at), to_timestamp(0))
		FROM warehouse_metrics`

	var f domain.Freshness
	if err := r.db.QueryRow(ctx, query).Scan(&f.Rows, &f.OldestCalculated, &f.NewestCalculated); err != nil {
		return domain.Freshness{}, fmt.Errorf("metrics freshness: %w", err)
	}
	if f.Rows == 0 {
		return domain.Freshness{}, nil
	}
	return f, nil
}

func selectMetrics(ctx context.Context, q querier, query string, args ...interface{}) ([]domain.CachedWarehouseMetric, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.CachedWarehouseMetric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}

func scanMetric(row pgx.Row) (domain.CachedWarehouseMetric, error) {
	var (
		m        domain.CachedWarehouseMetric
		avg      string
		days     string
		infinite bool
		status   string
	)
	err := row.Scan(
		&m.ProductID, &m.Warehouse, &m.Source, &m.SKU, &m.ProductName, &m.Cluster,
		&m.AvailableStock, &m.InTransitStock, &m.InSupplyRequestStock,
		&m.WindowDays, &m.SalesCountWindow, &m.DaysWithStock, &m.DaysWithoutSales,
		&avg, &m.TargetStock, &m.ReplenishmentNeed,
		&days, &infinite,
		&status, &m.CalculatedAt,
	)
	if err != nil {
		return domain.CachedWarehouseMetric{}, err
	}

	if m.DailySalesAverage, err = decimal.NewFromString(avg); err != nil {
		return domain.CachedWarehouseMetric{}, fmt.Errorf("daily sales average %q: %w", avg, err)
	}
	if infinite {
		m.DaysOfStock = domain.InfiniteDays()
	} else {
		d, err := decimal.NewFromString(days)
		if err != nil {
			return domain.CachedWarehouseMetric{}, fmt.Errorf("days of stock %q: %w", days, err)
		}
		m.DaysOfStock = domain.FiniteDays(d)
	}
	if m.LiquidityStatus, err = domain.ParseLiquidityStatus(status); err != nil {
		return domain.CachedWarehouseMetric{}, err
	}
	return m, nil
}

// internal/domain/metrics.go
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies one cached metric row: a product at a warehouse on a marketplace source.
type Key struct {
	ProductID string `json:"product_id" db:"product_id"`
	Warehouse string `json:"warehouse" db:"warehouse_name"`
	Source    string `json:"source" db:"source"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s/%s", k.ProductID, k.Warehouse, k.Source)
}

// Less orders keys by product, then warehouse, then source.
func (k Key) Less(other Key) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	if k.Warehouse != other.Warehouse {
		return k.Warehouse < other.Warehouse
	}
	return k.Source < other.Source
}

// StockSnapshot is the current stock position of a key as reported by the marketplace feed.
type StockSnapshot struct {
	Key
	SKU             string           `json:"sku" db:"sku"`
	ProductName     string           `json:"product_name" db:"product_name"`
	Cluster         string           `json:"cluster" db:"cluster"`
	Available       int64            `json:"available" db:"available"`
	Reserved        int64            `json:"reserved" db:"reserved"`
	InTransit       int64            `json:"in_transit" db:"in_transit"`
	InSupplyRequest int64            `json:"in_supply_request" db:"in_supply_request"`
	SubStates       map[string]int64 `json:"sub_states,omitempty" db:"-"`
	SnapshotAt      time.Time        `json:"snapshot_at" db:"snapshot_at"`
}

// Levels returns the stock quantities the replenishment engine works with.
func (s StockSnapshot) Levels() StockLevels {
	return StockLevels{
		Available:       s.Available,
		InTransit:       s.InTransit,
		InSupplyRequest: s.InSupplyRequest,
	}
}

// StockListing is the latest snapshot of every stocked key. Rejected holds keys whose
// snapshot could not be decoded; a pass skips them and carries on with the rest.
type StockListing struct {
	Snapshots []StockSnapshot
	Rejected  []*DataIntegrityError
}

// StockLevels holds current and inbound quantities for a key.
type StockLevels struct {
	Available       int64
	InTransit       int64
	InSupplyRequest int64
}

// Inbound is the stock already on hand or on its way.
func (l StockLevels) Inbound() int64 {
	return l.Available + l.InTransit + l.InSupplyRequest
}

// OrderLine is a single marketplace order line. It is only ever aggregated.
type OrderLine struct {
	Key
	OrderedAt time.Time `json:"ordered_at" db:"ordered_at"`
	Quantity  int64     `json:"quantity" db:"quantity"`
}

// VelocityMetric describes how fast a key sells over the trailing window.
type VelocityMetric struct {
	Key
	WindowDays        int             `json:"window_days"`
	SalesCountWindow  int64           `json:"sales_count_window"`
	DaysWithStock     int             `json:"days_with_stock"`
	DaysWithoutSales  int             `json:"days_without_sales"`
	DailySalesAverage decimal.Decimal `json:"daily_sales_average"`
}

// ReplenishmentMetric is the engine output for a key.
type ReplenishmentMetric struct {
	Key
	TargetStock       int64           `json:"target_stock"`
	ReplenishmentNeed int64           `json:"replenishment_need"`
	DaysOfStock       DaysOfStock     `json:"days_of_stock"`
	LiquidityStatus   LiquidityStatus `json:"liquidity_status"`
}

// Urgent reports whether more than half of the target stock is missing.
func (m ReplenishmentMetric) Urgent() bool {
	return IsUrgent(m.TargetStock, m.ReplenishmentNeed)
}

// IsUrgent is true when need > 0.5 * target and target > 0.
func IsUrgent(target, need int64) bool {
	return target > 0 && need*2 > target
}

// CachedWarehouseMetric is the persisted row: velocity and replenishment output plus
// the snapshot fields the dashboard displays.
type CachedWarehouseMetric struct {
	Key
	SKU                  string          `json:"sku"`
	ProductName          string          `json:"product_name"`
	Cluster              string          `json:"cluster"`
	AvailableStock       int64           `json:"available_stock"`
	InTransitStock       int64           `json:"in_transit_stock"`
	InSupplyRequestStock int64           `json:"in_supply_request_stock"`
	WindowDays           int             `json:"window_days"`
	SalesCountWindow     int64           `json:"sales_count_window"`
	DaysWithStock        int             `json:"days_with_stock"`
	DaysWithoutSales     int             `json:"days_without_sales"`
	DailySalesAverage    decimal.Decimal `json:"daily_sales_average"`
	TargetStock          int64           `json:"target_stock"`
	ReplenishmentNeed    int64           `json:"replenishment_need"`
	DaysOfStock          DaysOfStock     `json:"days_of_stock"`
	LiquidityStatus      LiquidityStatus `json:"liquidity_status"`
	CalculatedAt         time.Time       `json:"calculated_at"`
}

// NewCachedWarehouseMetric assembles a cache row from one computation of a key.
func NewCachedWarehouseMetric(snap StockSnapshot, v VelocityMetric, r ReplenishmentMetric, at time.Time) CachedWarehouseMetric {
	return CachedWarehouseMetric{
		Key:                  snap.Key,
		SKU:                  snap.SKU,
		ProductName:          snap.ProductName,
		Cluster:              snap.Cluster,
		AvailableStock:       snap.Available,
		InTransitStock:       snap.InTransit,
		InSupplyRequestStock: snap.InSupplyRequest,
		WindowDays:           v.WindowDays,
		SalesCountWindow:     v.SalesCountWindow,
		DaysWithStock:        v.DaysWithStock,
		DaysWithoutSales:     v.DaysWithoutSales,
		DailySalesAverage:    v.DailySalesAverage,
		TargetStock:          r.TargetStock,
		ReplenishmentNeed:    r.ReplenishmentNeed,
		DaysOfStock:          r.DaysOfStock,
		LiquidityStatus:      r.LiquidityStatus,
		CalculatedAt:         at,
	}
}

// Urgent mirrors ReplenishmentMetric.Urgent for presentation.
func (m CachedWarehouseMetric) Urgent() bool {
	return IsUrgent(m.TargetStock, m.ReplenishmentNeed)
}

// SameBusinessFields compares everything except CalculatedAt.
func (m CachedWarehouseMetric) SameBusinessFields(other CachedWarehouseMetric) bool {
	a, b := m, other
	a.CalculatedAt, b.CalculatedAt = time.Time{}, time.Time{}
	return a.Key == b.Key &&
		a.SKU == b.SKU &&
		a.ProductName == b.ProductName &&
		a.Cluster == b.Cluster &&
		a.AvailableStock == b.AvailableStock &&
		a.InTransitStock == b.InTransitStock &&
		a.InSupplyRequestStock == b.InSupplyRequestStock &&
		a.WindowDays == b.WindowDays &&
		a.SalesCountWindow == b.SalesCountWindow &&
		a.DaysWithStock == b.DaysWithStock &&
		a.DaysWithoutSales == b.DaysWithoutSales &&
		a.DailySalesAverage.Equal(b.DailySalesAverage) &&
		a.TargetStock == b.TargetStock &&
		a.ReplenishmentNeed == b.ReplenishmentNeed &&
		a.DaysOfStock.Equal(b.DaysOfStock) &&
		a.LiquidityStatus == b.LiquidityStatus
}

// MetricRow is a cache row as served to dashboard readers.
type MetricRow struct {
	CachedWarehouseMetric
	Urgent bool `json:"urgent"`
	Stale  bool `json:"stale"`
}

// Freshness summarises how current the cache is.
type Freshness struct {
	Rows             int       `json:"rows"`
	OldestCalculated time.Time `json:"oldest_calculated_at"`
	NewestCalculated time.Time `json:"newest_calculated_at"`
}

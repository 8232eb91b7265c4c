package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// SortField is a column the dashboard can be ordered by.
type SortField string

const (
	SortProductName       SortField = "product_name"
	SortWarehouseName     SortField = "warehouse_name"
	SortAvailableStock    SortField = "available_stock"
	SortDailySalesAverage SortField = "daily_sales_average"
	SortDaysOfStock       SortField = "days_of_stock"
	SortReplenishmentNeed SortField = "replenishment_need"
)

var validSortFields = map[SortField]bool{
	SortProductName:       true,
	SortWarehouseName:     true,
	SortAvailableStock:    true,
	SortDailySalesAverage: true,
	SortDaysOfStock:       true,
	SortReplenishmentNeed: true,
}

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// FilterSpec describes one dashboard query. All filters combine with AND.
type FilterSpec struct {
	Warehouse          string            `json:"warehouse,omitempty"`
	Cluster            string            `json:"cluster,omitempty"`
	Source             string            `json:"source,omitempty"`
	Statuses           []LiquidityStatus `json:"statuses,omitempty"`
	ActiveOnly         bool              `json:"active_only,omitempty"`
	NeedsReplenishment bool              `json:"needs_replenishment,omitempty"`
	SortField          SortField         `json:"sort_field,omitempty"`
	SortDirection      SortDirection     `json:"sort_direction,omitempty"`
	Offset             int               `json:"offset"`
	Limit              int               `json:"limit"`

	// ActiveProductIDs is resolved from the activity policy when ActiveOnly is set.
	// Stores treat a nil set with ActiveOnly as "no product is active".
	ActiveProductIDs map[string]struct{} `json:"-"`
}

// Normalize fills in the default sort and page size and trims text filters.
func (f FilterSpec) Normalize() FilterSpec {
	f.Warehouse = strings.TrimSpace(f.Warehouse)
	f.Cluster = strings.TrimSpace(f.Cluster)
	f.Source = strings.TrimSpace(f.Source)
	f.SortField = SortField(strings.ToLower(strings.TrimSpace(string(f.SortField))))
	f.SortDirection = SortDirection(strings.ToLower(strings.TrimSpace(string(f.SortDirection))))

	if f.SortField == "" {
		f.SortField = SortReplenishmentNeed
		if f.SortDirection == "" {
			f.SortDirection = SortDesc
		}
	}
	if f.SortDirection == "" {
		f.SortDirection = SortAsc
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageSize
	}
	return f
}

// Validate rejects filters the query layer cannot serve.
func (f FilterSpec) Validate() error {
	if !validSortFields[f.SortField] {
		return &InvalidFilterError{Field: "sort_field", Reason: fmt.Sprintf("unknown sort field %q", f.SortField)}
	}
	if f.SortDirection != SortAsc && f.SortDirection != SortDesc {
		return &InvalidFilterError{Field: "sort_direction", Reason: fmt.Sprintf("unknown sort direction %q", f.SortDirection)}
	}
	if f.Offset < 0 {
		return &InvalidFilterError{Field: "offset", Reason: "must not be negative"}
	}
	if f.Limit < 0 {
		return &InvalidFilterError{Field: "page_size", Reason: "must not be negative"}
	}
	if f.Limit > MaxPageSize {
		return &InvalidFilterError{Field: "page_size", Reason: fmt.Sprintf("must not exceed %d", MaxPageSize)}
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return &InvalidFilterError{Field: "status", Reason: fmt.Sprintf("unknown liquidity status %d", uint8(s))}
		}
	}
	return nil
}

// Matches applies the row filters (not sorting or paging) to a cache row.
func (f FilterSpec) Matches(m CachedWarehouseMetric) bool {
	if f.Warehouse != "" && m.Warehouse != f.Warehouse {
		return false
	}
	if f.Cluster != "" && m.Cluster != f.Cluster {
		return false
	}
	if f.Source != "" && m.Source != f.Source {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if m.LiquidityStatus == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ActiveOnly {
		if _, ok := f.ActiveProductIDs[m.ProductID]; !ok {
			return false
		}
	}
	if f.NeedsReplenishment && m.ReplenishmentNeed == 0 {
		return false
	}
	return true
}

// StatusLabels returns the status filter as stored labels.
func (f FilterSpec) StatusLabels() []string {
	labels := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		labels = append(labels, s.String())
	}
	return labels
}

// Compare orders two rows by the filter's sort field and direction, breaking ties by
// product id, warehouse and source ascending regardless of direction.
func (f FilterSpec) Compare(a, b CachedWarehouseMetric) int {
	c := compareField(f.SortField, a, b)
	if f.SortDirection == SortDesc {
		c = -c
	}
	if c != 0 {
		return c
	}
	switch {
	case a.Key == b.Key:
		return 0
	case a.Key.Less(b.Key):
		return -1
	default:
		return 1
	}
}

func compareField(field SortField, a, b CachedWarehouseMetric) int {
	switch field {
	case SortProductName:
		return strings.Compare(a.ProductName, b.ProductName)
	case SortWarehouseName:
		return strings.Compare(a.Warehouse, b.Warehouse)
	case SortAvailableStock:
		return compareInt64(a.AvailableStock, b.AvailableStock)
	case SortDailySalesAverage:
		return a.DailySalesAverage.Cmp(b.DailySalesAverage)
	case SortDaysOfStock:
		return a.DaysOfStock.Compare(b.DaysOfStock)
	case SortReplenishmentNeed:
		return compareInt64(a.ReplenishmentNeed, b.ReplenishmentNeed)
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// MetricsPage is one page of dashboard rows.
type MetricsPage struct {
	Items      []MetricRow `json:"items"`
	Total      int         `json:"total"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
	StaleCount int         `json:"stale_count"`
}

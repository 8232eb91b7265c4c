package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/andresuchdata/replenish/internal/domain"
)

// Text sort columns use the C collation so the database orders exactly like the
// in-memory store (byte order).
var metricSortColumns = map[domain.SortField]string{
	domain.SortProductName:       `product_name COLLATE "C"`,
	domain.SortWarehouseName:     `warehouse_name COLLATE "C"`,
	domain.SortAvailableStock:    "available_stock",
	domain.SortDailySalesAverage: "daily_sales_average",
	domain.SortDaysOfStock:       "days_of_stock_infinite %[1]s, days_of_stock",
	domain.SortReplenishmentNeed: "replenishment_need",
}

const metricTieBreak = `product_id COLLATE "C" ASC, warehouse_name COLLATE "C" ASC, source COLLATE "C" ASC`

// buildMetricsFilterClause constructs the WHERE conditions for a metrics query,
// numbering placeholders from startIndex. It returns the next free index.
func buildMetricsFilterClause(filter domain.FilterSpec, startIndex int) (string, []interface{}, int) {
	var (
		clauses []string
		args    []interface{}
	)
	idx := startIndex

	if filter.Warehouse != "" {
		clauses = append(clauses, fmt.Sprintf("warehouse_name = $%d", idx))
		args = append(args, filter.Warehouse)
		idx++
	}

	if filter.Cluster != "" {
		clauses = append(clauses, fmt.Sprintf("cluster = $%d", idx))
		args = append(args, filter.Cluster)
		idx++
	}

	if filter.Source != "" {
		clauses = append(clauses, fmt.Sprintf("source = $%d", idx))
		args = append(args, filter.Source)
		idx++
	}

	if len(filter.Statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("liquidity_status = ANY($%d)", idx))
		args = append(args, filter.StatusLabels())
		idx++
	}

	if filter.ActiveOnly {
		if len(filter.ActiveProductIDs) == 0 {
			clauses = append(clauses, "FALSE")
		} else {
			ids := make([]string, 0, len(filter.ActiveProductIDs))
			for id := range filter.ActiveProductIDs {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			clauses = append(clauses, fmt.Sprintf("product_id = ANY($%d)", idx))
			args = append(args, ids)
			idx++
		}
	}

	if filter.NeedsReplenishment {
		clauses = append(clauses, "replenishment_need > 0")
	}

	if len(clauses) == 0 {
		return "", nil, idx
	}

	return " AND " + strings.Join(clauses, " AND "), args, idx
}

// buildMetricsOrderClause renders ORDER BY for a validated filter.
func buildMetricsOrderClause(filter domain.FilterSpec) string {
	col, ok := metricSortColumns[filter.SortField]
	if !ok {
		col = metricSortColumns[domain.SortReplenishmentNeed]
	}
	dir := "ASC"
	if filter.SortDirection == domain.SortDesc {
		dir = "DESC"
	}
	if strings.Contains(col, "%[1]s") {
		col = fmt.Sprintf(col, dir)
	}
	return fmt.Sprintf(" ORDER BY %s %s, %s", col, dir, metricTieBreak)
}

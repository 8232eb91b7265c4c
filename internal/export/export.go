// Package export renders metric rows in the dashboard export shape.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Replenishment"

// Header is the column order shared by every export format.
var Header = []string{
	"product_id",
	"sku",
	"product_name",
	"warehouse",
	"cluster",
	"available_stock",
	"daily_sales_average",
	"days_of_stock",
	"replenishment_need",
	"liquidity_status",
	"calculated_at",
}

// Record renders one row as text cells.
func Record(m domain.CachedWarehouseMetric) []string {
	return []string{
		m.ProductID,
		m.SKU,
		m.ProductName,
		m.Warehouse,
		m.Cluster,
		strconv.FormatInt(m.AvailableStock, 10),
		m.DailySalesAverage.StringFixed(2),
		m.DaysOfStock.String(),
		strconv.FormatInt(m.ReplenishmentNeed, 10),
		m.LiquidityStatus.String(),
		m.CalculatedAt.UTC().Format(time.RFC3339),
	}
}

// WriteCSV writes the header and one record per row.
func WriteCSV(w io.Writer, rows []domain.CachedWarehouseMetric) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, m := range rows {
		if err := cw.Write(Record(m)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", m.Key, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a single-sheet workbook. Numeric columns are stored as numbers;
// infinite days of stock stays the text literal.
func WriteXLSX(w io.Writer, rows []domain.CachedWarehouseMetric) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = excelize.Cell{Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}

	for i, m := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, xlsxRow(m)); err != nil {
			return fmt.Errorf("failed to write xlsx row for %s: %w", m.Key, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush xlsx: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func xlsxRow(m domain.CachedWarehouseMetric) []interface{} {
	var days interface{} = domain.InfiniteDaysLiteral
	if d, finite := m.DaysOfStock.Days(); finite {
		days = d.Round(2).InexactFloat64()
	}
	return []interface{}{
		m.ProductID,
		m.SKU,
		m.ProductName,
		m.Warehouse,
		m.Cluster,
		m.AvailableStock,
		m.DailySalesAverage.Round(2).InexactFloat64(),
		days,
		m.ReplenishmentNeed,
		m.LiquidityStatus.String(),
		m.CalculatedAt.UTC().Format(time.RFC3339),
	}
}

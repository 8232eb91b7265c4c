package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func exportRows() []domain.CachedWarehouseMetric {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []domain.CachedWarehouseMetric{
		{
			Key:               domain.Key{ProductID: "P1", Warehouse: "Moscow", Source: "ozon"},
			SKU:               "SKU-1",
			ProductName:       "Widget, large",
			Cluster:           "central",
			AvailableStock:    50,
			DailySalesAverage: decimal.RequireFromString("3"),
			DaysOfStock:       domain.FiniteDays(decimal.RequireFromString("16.67")),
			ReplenishmentNeed: 30,
			LiquidityStatus:   domain.LiquidityNormal,
			CalculatedAt:      at,
		},
		{
			Key:               domain.Key{ProductID: "P2", Warehouse: "Kazan", Source: "ozon"},
			SKU:               "SKU-2",
			ProductName:       "Gadget",
			Cluster:           "volga",
			AvailableStock:    200,
			DailySalesAverage: decimal.Zero,
			DaysOfStock:       domain.InfiniteDays(),
			LiquidityStatus:   domain.LiquidityExcess,
			CalculatedAt:      at,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, exportRows()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"P1", "SKU-1", "Widget, large", "Moscow", "central", "50", "3.00", "16.67", "30", "normal", "2024-03-01T12:00:00Z"}, records[1])
	assert.Equal(t, "∞", records[2][7])
	assert.Equal(t, "excess", records[2][9])
}

func TestWriteCSV_HeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "product_id,sku,product_name,warehouse,cluster,available_stock,daily_sales_average,days_of_stock,replenishment_need,liquidity_status,calculated_at\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, exportRows()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "P1", rows[1][0])
	assert.Equal(t, "16.67", rows[1][7])
	assert.Equal(t, "∞", rows[2][7])
	assert.Equal(t, "excess", rows[2][9])
}

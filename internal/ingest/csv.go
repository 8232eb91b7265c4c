// Package ingest loads raw marketplace feed exports (stock snapshots and order
// lines) from CSV so the refresh pipeline can run against local data.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
)

var columnNameSanitizer = strings.NewReplacer(" ", "", "_", "", ".", "", "-", "", "/", "")

func normalizeColumnName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return columnNameSanitizer.Replace(name)
}

// subStatePrefix marks marketplace sub-state counter columns, e.g. "sub_returning".
const subStatePrefix = "sub_"

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

type table struct {
	header []string
	reader *csv.Reader
	line   int
}

func newTable(r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// spreadsheet conversions drop trailing empty cells
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return &table{header: header, reader: reader, line: 1}, nil
}

func (t *table) colIndex(names ...string) int {
	targets := make(map[string]struct{}, len(names))
	for _, name := range names {
		targets[normalizeColumnName(name)] = struct{}{}
	}
	for i, h := range t.header {
		if _, ok := targets[normalizeColumnName(h)]; ok {
			return i
		}
	}
	return -1
}

func (t *table) requireCol(names ...string) (int, error) {
	idx := t.colIndex(names...)
	if idx < 0 {
		return -1, fmt.Errorf("missing required column %q", names[0])
	}
	return idx, nil
}

// next returns the next record, or io.EOF.
func (t *table) next() ([]string, error) {
	record, err := t.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	t.line++
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", t.line, err)
	}
	return record, nil
}

type row struct {
	record []string
	line   int
}

func (r row) get(idx int) string {
	if idx < 0 || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}

func (r row) int64(idx int) (int64, error) {
	v := strings.ReplaceAll(r.get(idx), ",", "")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// exports sometimes render whole numbers as "12.0"
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("line %d: invalid integer %q", r.line, v)
		}
		n = int64(f)
	}
	return n, nil
}

func (r row) time(idx int) (time.Time, error) {
	v := r.get(idx)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("line %d: invalid timestamp %q", r.line, v)
}

// ReadSnapshots parses a stock snapshot export. Columns are matched loosely
// (case, spaces and underscores are ignored). Negative quantities are kept as-is;
// the replenishment engine rejects them per key.
func ReadSnapshots(r io.Reader) ([]domain.StockSnapshot, error) {
	t, err := newTable(r)
	if err != nil {
		return nil, err
	}

	idxProduct, err := t.requireCol("product_id", "product id", "offer_id")
	if err != nil {
		return nil, err
	}
	idxWarehouse, err := t.requireCol("warehouse", "warehouse_name")
	if err != nil {
		return nil, err
	}
	idxSnapshotAt, err := t.requireCol("snapshot_at", "date", "snapshot_date")
	if err != nil {
		return nil, err
	}
	idxSource := t.colIndex("source", "marketplace")
	idxSKU := t.colIndex("sku")
	idxName := t.colIndex("product_name", "name")
	idxCluster := t.colIndex("cluster")
	idxAvailable := t.colIndex("available", "available_stock", "free_to_sell")
	idxReserved := t.colIndex("reserved")
	idxInTransit := t.colIndex("in_transit", "in transit")
	idxInSupply := t.colIndex("in_supply_request", "in supply request")

	subStateCols := map[int]string{}
	for i, h := range t.header {
		name := strings.ToLower(strings.TrimSpace(h))
		if strings.HasPrefix(name, subStatePrefix) {
			subStateCols[i] = strings.TrimPrefix(name, subStatePrefix)
		}
	}

	var snaps []domain.StockSnapshot
	for {
		record, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rw := row{record: record, line: t.line}

		snap := domain.StockSnapshot{
			Key: domain.Key{
				ProductID: rw.get(idxProduct),
				Warehouse: rw.get(idxWarehouse),
				Source:    rw.get(idxSource),
			},
			SKU:         rw.get(idxSKU),
			ProductName: rw.get(idxName),
			Cluster:     rw.get(idxCluster),
		}
		if snap.ProductID == "" || snap.Warehouse == "" {
			return nil, fmt.Errorf("line %d: product_id and warehouse are required", rw.line)
		}
		if snap.Source == "" {
			snap.Source = "default"
		}

		for _, f := range []struct {
			idx int
			dst *int64
		}{
			{idxAvailable, &snap.Available},
			{idxReserved, &snap.Reserved},
			{idxInTransit, &snap.InTransit},
			{idxInSupply, &snap.InSupplyRequest},
		} {
			if *f.dst, err = rw.int64(f.idx); err != nil {
				return nil, err
			}
		}

		if snap.SnapshotAt, err = rw.time(idxSnapshotAt); err != nil {
			return nil, err
		}

		for idx, name := range subStateCols {
			v, err := rw.int64(idx)
			if err != nil {
				return nil, err
			}
			if v == 0 {
				continue
			}
			if snap.SubStates == nil {
				snap.SubStates = make(map[string]int64)
			}
			snap.SubStates[name] = v
		}

		snaps = append(snaps, snap)
	}

	return snaps, nil
}

// ReadOrderLines parses an order history export.
func ReadOrderLines(r io.Reader) ([]domain.OrderLine, error) {
	t, err := newTable(r)
	if err != nil {
		return nil, err
	}

	idxProduct, err := t.requireCol("product_id", "product id", "offer_id")
	if err != nil {
		return nil, err
	}
	idxWarehouse, err := t.requireCol("warehouse", "warehouse_name")
	if err != nil {
		return nil, err
	}
	idxOrderedAt, err := t.requireCol("ordered_at", "date", "order_date")
	if err != nil {
		return nil, err
	}
	idxQuantity, err := t.requireCol("quantity", "qty")
	if err != nil {
		return nil, err
	}
	idxSource := t.colIndex("source", "marketplace")

	var lines []domain.OrderLine
	for {
		record, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rw := row{record: record, line: t.line}

		line := domain.OrderLine{
			Key: domain.Key{
				ProductID: rw.get(idxProduct),
				Warehouse: rw.get(idxWarehouse),
				Source:    rw.get(idxSource),
			},
		}
		if line.ProductID == "" || line.Warehouse == "" {
			return nil, fmt.Errorf("line %d: product_id and warehouse are required", rw.line)
		}
		if line.Source == "" {
			line.Source = "default"
		}
		if line.OrderedAt, err = rw.time(idxOrderedAt); err != nil {
			return nil, err
		}
		if line.Quantity, err = rw.int64(idxQuantity); err != nil {
			return nil, err
		}
		if line.Quantity < 0 {
			return nil, fmt.Errorf("line %d: negative quantity %d", rw.line, line.Quantity)
		}

		lines = append(lines, line)
	}

	return lines, nil
}

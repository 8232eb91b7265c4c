package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Feed is an in-process InventoryFeed and ActivityPolicy over loaded snapshot and
// order rows. It answers the same questions as the Postgres feed tables.
type Feed struct {
	mu         sync.RWMutex
	snapshots  map[domain.Key][]domain.StockSnapshot
	orders     map[domain.Key][]domain.OrderLine
	clock      clockwork.Clock
	windowDays int
}

func NewFeed(clock clockwork.Clock, windowDays int) *Feed {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if windowDays <= 0 {
		windowDays = 28
	}
	return &Feed{
		snapshots:  make(map[domain.Key][]domain.StockSnapshot),
		orders:     make(map[domain.Key][]domain.OrderLine),
		clock:      clock,
		windowDays: windowDays,
	}
}

// InsertSnapshots appends snapshot rows; it satisfies repository.IngestRepository.
func (f *Feed) InsertSnapshots(ctx context.Context, rows []domain.StockSnapshot) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range rows {
		f.snapshots[s.Key] = append(f.snapshots[s.Key], s)
	}
	return len(rows), nil
}

func (f *Feed) InsertOrderLines(ctx context.Context, rows []domain.OrderLine) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range rows {
		f.orders[o.Key] = append(f.orders[o.Key], o)
	}
	return len(rows), nil
}

func (f *Feed) latest(key domain.Key) (domain.StockSnapshot, bool) {
	var (
		out   domain.StockSnapshot
		found bool
	)
	for _, s := range f.snapshots[key] {
		if !found || s.SnapshotAt.After(out.SnapshotAt) {
			out, found = s, true
		}
	}
	return out, found
}

// ListStockedKeys returns the latest snapshot per key, ordered by key.
func (f *Feed) ListStockedKeys(ctx context.Context) (domain.StockListing, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockListing{}, &domain.DataUnavailableError{Err: err}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]domain.StockSnapshot, 0, len(f.snapshots))
	for key := range f.snapshots {
		if snap, ok := f.latest(key); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return domain.StockListing{Snapshots: out}, nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (f *Feed) SalesInWindow(ctx context.Context, key domain.Key, from, to time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var total int64
	for _, o := range f.orders[key] {
		if inWindow(o.OrderedAt, from, to) {
			total += o.Quantity
		}
	}
	return total, nil
}

// DaysWithStock counts distinct UTC days in [from, to) with a snapshot showing available stock.
func (f *Feed) DaysWithStock(ctx context.Context, key domain.Key, from, to time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	days := make(map[string]struct{})
	for _, s := range f.snapshots[key] {
		if s.Available > 0 && inWindow(s.SnapshotAt, from, to) {
			days[s.SnapshotAt.UTC().Format(time.DateOnly)] = struct{}{}
		}
	}
	return len(days), nil
}

func (f *Feed) LastSaleBefore(ctx context.Context, key domain.Key, notBefore, before time.Time) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var last *time.Time
	for _, o := range f.orders[key] {
		if o.Quantity <= 0 || !inWindow(o.OrderedAt, notBefore, before) {
			continue
		}
		if last == nil || o.OrderedAt.After(*last) {
			t := o.OrderedAt
			last = &t
		}
	}
	return last, nil
}

// ActiveProductIDs applies the same policy as the Postgres activity repository: a
// sale in the trailing window, or available stock in the latest snapshot of any key.
func (f *Feed) ActiveProductIDs(ctx context.Context) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.DataUnavailableError{Err: err}
	}
	now := f.clock.Now()
	from := now.Add(-time.Duration(f.windowDays) * 24 * time.Hour)

	f.mu.RLock()
	defer f.mu.RUnlock()

	active := make(map[string]struct{})
	for key, lines := range f.orders {
		for _, o := range lines {
			if o.Quantity > 0 && inWindow(o.OrderedAt, from, now) {
				active[key.ProductID] = struct{}{}
				break
			}
		}
	}
	for key := range f.snapshots {
		if snap, ok := f.latest(key); ok && snap.Available > 0 {
			active[key.ProductID] = struct{}{}
		}
	}
	return active, nil
}

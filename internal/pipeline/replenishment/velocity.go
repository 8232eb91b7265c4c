package replenishment

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// VelocityConfig holds the sales-window constants.
type VelocityConfig struct {
	WindowDays          int
	MaxDaysWithoutSales int
}

// DefaultVelocityConfig returns the standard 28-day window.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		WindowDays:          28,
		MaxDaysWithoutSales: 365,
	}
}

// VelocityCalculator derives per-key sales velocity from the feed aggregates.
type VelocityCalculator struct {
	feed  repository.VelocityFeed
	clock clockwork.Clock
	cfg   VelocityConfig
}

// NewVelocityCalculator creates a calculator. Zero config fields take the defaults.
func NewVelocityCalculator(feed repository.VelocityFeed, clock clockwork.Clock, cfg VelocityConfig) *VelocityCalculator {
	def := DefaultVelocityConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.MaxDaysWithoutSales <= 0 {
		cfg.MaxDaysWithoutSales = def.MaxDaysWithoutSales
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VelocityCalculator{feed: feed, clock: clock, cfg: cfg}
}

// Config returns the effective configuration.
func (c *VelocityCalculator) Config() VelocityConfig {
	return c.cfg
}

// Calculate computes the velocity of key over [now - window, now).
func (c *VelocityCalculator) Calculate(ctx context.Context, key domain.Key) (domain.VelocityMetric, error) {
	return c.CalculateAt(ctx, key, c.clock.Now())
}

// CalculateAt is Calculate with an explicit evaluation instant.
//
// A key with no stocked day in the window is averaged over the whole window, so
// sales recorded without stock still register (sales/window). The average is 0 only
// when there are also no sales.
func (c *VelocityCalculator) CalculateAt(ctx context.Context, key domain.Key, now time.Time) (domain.VelocityMetric, error) {
	windowDays := c.cfg.WindowDays
	from := now.Add(-time.Duration(windowDays) * day)

	sales, err := c.feed.SalesInWindow(ctx, key, from, now)
	if err != nil {
		return domain.VelocityMetric{}, &domain.DataUnavailableError{Key: key, Err: fmt.Errorf("sales in window: %w", err)}
	}
	if sales < 0 {
		return domain.VelocityMetric{}, &domain.DataIntegrityError{Key: key, Reason: fmt.Sprintf("negative sales count %d", sales)}
	}

	daysWithStock, err := c.feed.DaysWithStock(ctx, key, from, now)
	if err != nil {
		return domain.VelocityMetric{}, &domain.DataUnavailableError{Key: key, Err: fmt.Errorf("days with stock: %w", err)}
	}
	if daysWithStock < 0 {
		return domain.VelocityMetric{}, &domain.DataIntegrityError{Key: key, Reason: fmt.Sprintf("negative days with stock %d", daysWithStock)}
	}
	if daysWithStock > windowDays {
		daysWithStock = windowDays
	}
	// No stock history at all: average over the whole window.
	if daysWithStock == 0 {
		daysWithStock = windowDays
	}

	avg := decimal.NewFromInt(sales).
		Div(decimal.NewFromInt(int64(max(daysWithStock, 1)))).
		Round(2)

	daysWithoutSales, err := c.daysWithoutSales(ctx, key, now)
	if err != nil {
		return domain.VelocityMetric{}, err
	}

	return domain.VelocityMetric{
		Key:               key,
		WindowDays:        windowDays,
		SalesCountWindow:  sales,
		DaysWithStock:     daysWithStock,
		DaysWithoutSales:  daysWithoutSales,
		DailySalesAverage: avg,
	}, nil
}

func (c *VelocityCalculator) daysWithoutSales(ctx context.Context, key domain.Key, now time.Time) (int, error) {
	limit := c.cfg.MaxDaysWithoutSales
	notBefore := now.Add(-time.Duration(limit) * day)

	last, err := c.feed.LastSaleBefore(ctx, key, notBefore, now)
	if err != nil {
		return 0, &domain.DataUnavailableError{Key: key, Err: fmt.Errorf("last sale: %w", err)}
	}
	if last == nil {
		return limit, nil
	}
	if last.After(now) {
		return 0, &domain.DataIntegrityError{Key: key, Reason: fmt.Sprintf("last sale %s is after %s", last.Format(time.RFC3339), now.Format(time.RFC3339))}
	}

	days := int(now.Sub(*last) / day)
	if days > limit {
		days = limit
	}
	return days, nil
}

package replenishment

import (
	"fmt"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/shopspring/decimal"
)

// EngineConfig holds the supply horizon and liquidity thresholds (days of stock).
type EngineConfig struct {
	SupplyHorizonDays int
	CriticalBelow     decimal.Decimal
	LowBelow          decimal.Decimal
	NormalBelow       decimal.Decimal
}

// DefaultEngineConfig returns the 30-day horizon with 7/15/45 day thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SupplyHorizonDays: 30,
		CriticalBelow:     decimal.NewFromInt(7),
		LowBelow:          decimal.NewFromInt(15),
		NormalBelow:       decimal.NewFromInt(45),
	}
}

// Engine turns a velocity metric and current stock levels into a replenishment metric.
// It is pure: no I/O and no clock.
type Engine struct {
	cfg EngineConfig
}

// NewEngine validates the thresholds and creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.SupplyHorizonDays <= 0 {
		return nil, fmt.Errorf("supply horizon must be positive, got %d", cfg.SupplyHorizonDays)
	}
	if !(cfg.CriticalBelow.LessThan(cfg.LowBelow) && cfg.LowBelow.LessThan(cfg.NormalBelow)) {
		return nil, fmt.Errorf("liquidity thresholds must be increasing: %s < %s < %s",
			cfg.CriticalBelow, cfg.LowBelow, cfg.NormalBelow)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Evaluate computes target stock, replenishment need, days of stock and liquidity status.
func (e *Engine) Evaluate(v domain.VelocityMetric, s domain.StockLevels) (domain.ReplenishmentMetric, error) {
	switch {
	case s.Available < 0:
		return domain.ReplenishmentMetric{}, &domain.DataIntegrityError{Key: v.Key, Reason: fmt.Sprintf("negative available stock %d", s.Available)}
	case s.InTransit < 0:
		return domain.ReplenishmentMetric{}, &domain.DataIntegrityError{Key: v.Key, Reason: fmt.Sprintf("negative in-transit stock %d", s.InTransit)}
	case s.InSupplyRequest < 0:
		return domain.ReplenishmentMetric{}, &domain.DataIntegrityError{Key: v.Key, Reason: fmt.Sprintf("negative in-supply-request stock %d", s.InSupplyRequest)}
	case v.DailySalesAverage.IsNegative():
		return domain.ReplenishmentMetric{}, &domain.DataIntegrityError{Key: v.Key, Reason: fmt.Sprintf("negative daily sales average %s", v.DailySalesAverage)}
	}

	target := v.DailySalesAverage.Mul(decimal.NewFromInt(int64(e.cfg.SupplyHorizonDays))).Round(0).IntPart()
	need := target - s.Inbound()
	if need < 0 {
		need = 0
	}

	dos := e.DaysOfStock(s.Available, v.DailySalesAverage)

	return domain.ReplenishmentMetric{
		Key:               v.Key,
		TargetStock:       target,
		ReplenishmentNeed: need,
		DaysOfStock:       dos,
		LiquidityStatus:   e.Classify(dos),
	}, nil
}

// DaysOfStock is available/avg rounded to 2 dp, or infinite when nothing sells.
func (e *Engine) DaysOfStock(available int64, avg decimal.Decimal) domain.DaysOfStock {
	if avg.IsZero() {
		return domain.InfiniteDays()
	}
	return domain.FiniteDays(decimal.NewFromInt(available).Div(avg).Round(2))
}

// Classify maps days of stock to a liquidity status. Bands are lower-inclusive.
func (e *Engine) Classify(d domain.DaysOfStock) domain.LiquidityStatus {
	days, finite := d.Days()
	if !finite {
		return domain.LiquidityExcess
	}
	switch {
	case days.LessThan(e.cfg.CriticalBelow):
		return domain.LiquidityCritical
	case days.LessThan(e.cfg.LowBelow):
		return domain.LiquidityLow
	case days.LessThan(e.cfg.NormalBelow):
		return domain.LiquidityNormal
	default:
		return domain.LiquidityExcess
	}
}

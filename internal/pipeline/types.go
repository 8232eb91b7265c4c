package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
)

// ErrLockHeld is returned by a PassLock when another process owns the pass.
var ErrLockHeld = errors.New("refresh lock held by another process")

// VelocityCalculator computes a key's sales velocity as of a given instant.
type VelocityCalculator interface {
	CalculateAt(ctx context.Context, key domain.Key, now time.Time) (domain.VelocityMetric, error)
}

// ReplenishmentEngine turns velocity and stock levels into replenishment figures.
type ReplenishmentEngine interface {
	Evaluate(v domain.VelocityMetric, s domain.StockLevels) (domain.ReplenishmentMetric, error)
}

// PassLock guards a refresh pass across processes sharing one metrics cache.
type PassLock interface {
	// Obtain returns ErrLockHeld when another process is running a pass.
	Obtain(ctx context.Context) (release func(context.Context) error, err error)
}

// PassHook runs after every completed (not failed, not cancelled) pass.
type PassHook interface {
	Name() string
	AfterPass(ctx context.Context, summary domain.PassSummary) error
}

// SchedulerConfig holds configuration for the refresh scheduler
type SchedulerConfig struct {
	Interval            time.Duration // Time between scheduled passes
	WorkerCount         int           // Number of keys computed concurrently
	KeyTimeout          time.Duration // Budget for one key's computation and write
	MaxRecordedFailures int           // Failures kept in a pass summary
	RunOnStart          bool          // Run a pass as soon as the schedule starts
	HookTimeout         time.Duration // Budget for each post-pass hook
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:            time.Hour,
		WorkerCount:         4,
		KeyTimeout:          30 * time.Second,
		MaxRecordedFailures: 100,
		RunOnStart:          true,
		HookTimeout:         2 * time.Minute,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = def.WorkerCount
	}
	if c.KeyTimeout <= 0 {
		c.KeyTimeout = def.KeyTimeout
	}
	if c.MaxRecordedFailures <= 0 {
		c.MaxRecordedFailures = def.MaxRecordedFailures
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = def.HookTimeout
	}
	return c
}

// Failure kinds recorded in pass summaries.
const (
	FailureDataUnavailable = "data_unavailable"
	FailureDataIntegrity   = "data_integrity"
	FailureTimeout         = "timeout"
	FailureCancelled       = "cancelled"
	FailureStore           = "store"
)

// keyResult is the outcome of computing one key
type keyResult struct {
	key     domain.Key
	applied bool
	err     error
	kind    string
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/rs/zerolog/log"
)

// processKeys computes every snapshot using a bounded worker pool. It stops
// dispatching once ctx is cancelled; keys already handed to a worker finish or fail
// on their own context.
func (s *RefreshScheduler) processKeys(ctx context.Context, snaps []domain.StockSnapshot) []keyResult {
	workerCount := s.cfg.WorkerCount
	if workerCount > len(snaps) {
		workerCount = len(snaps)
	}
	if workerCount < 1 {
		return nil
	}

	jobChan := make(chan domain.StockSnapshot)
	resultChan := make(chan keyResult, len(snaps))
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for snap := range jobChan {
				res := s.processKey(ctx, snap)
				if res.err != nil {
					log.Warn().
						Err(res.err).
						Int("worker", workerID).
						Str("product_id", snap.ProductID).
						Str("warehouse", snap.Warehouse).
						Str("source", snap.Source).
						Str("kind", res.kind).
						Msg("skipping key")
				}
				resultChan <- res
			}
		}(i)
	}

	// Enqueue jobs
dispatch:
	for _, snap := range snaps {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobChan <- snap:
		}
	}
	close(jobChan)

	// Wait for all workers
	wg.Wait()
	close(resultChan)

	results := make([]keyResult, 0, len(snaps))
	for res := range resultChan {
		results = append(results, res)
	}
	return results
}

// processKey runs velocity, engine and upsert for a single key under its own time budget.
// CalculatedAt is the clock reading taken when the key starts.
func (s *RefreshScheduler) processKey(ctx context.Context, snap domain.StockSnapshot) keyResult {
	at := s.clock.Now()
	res := keyResult{key: snap.Key}

	keyCtx, cancel := context.WithTimeout(ctx, s.cfg.KeyTimeout)
	defer cancel()

	v, err := s.calc.CalculateAt(keyCtx, snap.Key, at)
	if err != nil {
		return s.failed(ctx, keyCtx, res, err, FailureDataUnavailable)
	}

	r, err := s.engine.Evaluate(v, snap.Levels())
	if err != nil {
		return s.failed(ctx, keyCtx, res, err, FailureDataIntegrity)
	}

	// A computation that overran its budget is not written even if it returned.
	if keyCtx.Err() != nil {
		return s.failed(ctx, keyCtx, res, keyCtx.Err(), FailureTimeout)
	}

	applied, err := s.store.Upsert(keyCtx, domain.NewCachedWarehouseMetric(snap, v, r, at))
	if err != nil {
		return s.failed(ctx, keyCtx, res, fmt.Errorf("upsert: %w", err), FailureStore)
	}
	res.applied = applied
	return res
}

// failed classifies a per-key error. fallback is used for errors outside the taxonomy.
func (s *RefreshScheduler) failed(passCtx, keyCtx context.Context, res keyResult, err error, fallback string) keyResult {
	res.err = err
	switch {
	case passCtx.Err() != nil:
		res.kind = FailureCancelled
	case errors.Is(keyCtx.Err(), context.DeadlineExceeded):
		res.kind = FailureTimeout
		res.err = fmt.Errorf("key exceeded %s budget: %w", s.cfg.KeyTimeout, err)
	case domain.IsDataIntegrity(err):
		res.kind = FailureDataIntegrity
	case domain.IsDataUnavailable(err):
		res.kind = FailureDataUnavailable
	default:
		res.kind = fallback
	}
	return res
}

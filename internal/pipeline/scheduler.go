package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SchedulerDeps are the collaborators of a RefreshScheduler. Lock, Runs and Hooks are optional.
type SchedulerDeps struct {
	Feed       repository.InventoryFeed
	Store      repository.MetricsStore
	Calculator VelocityCalculator
	Engine     ReplenishmentEngine
	Clock      clockwork.Clock
	Lock       PassLock
	Runs       repository.RunRecorder
	Hooks      []PassHook
}

// RefreshScheduler recomputes every stocked key and upserts the results into the
// metrics cache. At most one pass runs at a time.
type RefreshScheduler struct {
	feed   repository.InventoryFeed
	store  repository.MetricsStore
	calc   VelocityCalculator
	engine ReplenishmentEngine
	clock  clockwork.Clock
	lock   PassLock
	runs   repository.RunRecorder
	hooks  []PassHook
	cfg    SchedulerConfig

	mu       sync.Mutex
	state    domain.RefreshState
	lastPass *domain.PassSummary
	lastErr  string
	stopped  bool

	// base is cancelled by Stop; every pass context derives from it.
	base       context.Context
	cancelBase context.CancelFunc
	passes     sync.WaitGroup

	cron gocron.Scheduler
}

// NewRefreshScheduler wires a scheduler from explicit dependencies.
func NewRefreshScheduler(deps SchedulerDeps, cfg SchedulerConfig) (*RefreshScheduler, error) {
	switch {
	case deps.Feed == nil:
		return nil, errors.New("refresh scheduler: feed is required")
	case deps.Store == nil:
		return nil, errors.New("refresh scheduler: store is required")
	case deps.Calculator == nil:
		return nil, errors.New("refresh scheduler: calculator is required")
	case deps.Engine == nil:
		return nil, errors.New("refresh scheduler: engine is required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	base, cancel := context.WithCancel(context.Background())
	return &RefreshScheduler{
		feed:       deps.Feed,
		store:      deps.Store,
		calc:       deps.Calculator,
		engine:     deps.Engine,
		clock:      deps.Clock,
		lock:       deps.Lock,
		runs:       deps.Runs,
		hooks:      deps.Hooks,
		cfg:        cfg.withDefaults(),
		state:      domain.RefreshIdle,
		base:       base,
		cancelBase: cancel,
	}, nil
}

// Config returns the effective configuration.
func (s *RefreshScheduler) Config() SchedulerConfig {
	return s.cfg
}

// TryRun starts a pass unless one is already running, in which case it returns
// domain.ErrPassInProgress without queueing. A pass may start from Idle or Failed.
//
// The returned error is non-nil only for pass-level faults; per-key failures are
// reported in the summary. A cancelled pass returns its summary with Cancelled set.
// The pass is cancelled when ctx is done or Stop is called.
func (s *RefreshScheduler) TryRun(ctx context.Context) (domain.PassSummary, error) {
	prev, err := s.begin()
	if err != nil {
		return domain.PassSummary{}, err
	}
	defer s.passes.Done()

	passCtx, cancel := s.passContext(ctx)
	defer cancel()
	return s.execute(passCtx, prev)
}

// TryStart is the non-blocking form of TryRun: it claims the Running state and
// runs the pass in the background. Lock contention with another process is only
// detected once the background pass starts and is logged, not returned. Stop
// cancels the pass and waits for it.
func (s *RefreshScheduler) TryStart(ctx context.Context) error {
	prev, err := s.begin()
	if err != nil {
		return err
	}
	go func() {
		defer s.passes.Done()
		passCtx, cancel := s.passContext(ctx)
		defer cancel()
		if _, err := s.execute(passCtx, prev); errors.Is(err, domain.ErrPassInProgress) {
			log.Info().Msg("triggered refresh skipped: pass running in another process")
		}
	}()
	return nil
}

// begin moves the state machine to Running, registers the pass with the shutdown
// wait group and returns the state it left.
func (s *RefreshScheduler) begin() (domain.RefreshState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.state, domain.ErrSchedulerStopped
	}
	if s.state == domain.RefreshRunning {
		return s.state, domain.ErrPassInProgress
	}
	prev := s.state
	s.state = domain.RefreshRunning
	s.passes.Add(1)
	return prev, nil
}

// passContext derives a pass context that ends with ctx or with the scheduler.
func (s *RefreshScheduler) passContext(ctx context.Context) (context.Context, context.CancelFunc) {
	passCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.base, cancel)
	return passCtx, func() {
		stop()
		cancel()
	}
}

func (s *RefreshScheduler) execute(ctx context.Context, prev domain.RefreshState) (domain.PassSummary, error) {
	if s.lock != nil {
		release, err := s.lock.Obtain(ctx)
		if errors.Is(err, ErrLockHeld) {
			s.setState(prev)
			return domain.PassSummary{}, domain.ErrPassInProgress
		}
		if err != nil {
			err = fmt.Errorf("obtain refresh lock: %w", err)
			s.finish(domain.PassSummary{}, err)
			return domain.PassSummary{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("failed to release refresh lock")
			}
		}()
	}

	summary, err := s.runPass(ctx)
	s.finish(summary, err)
	return summary, err
}

func (s *RefreshScheduler) runPass(ctx context.Context) (domain.PassSummary, error) {
	summary := domain.PassSummary{
		RunID:     uuid.New(),
		StartedAt: s.clock.Now(),
	}
	logger := log.With().Str("run_id", summary.RunID.String()).Logger()
	logger.Info().Msg("refresh pass started")

	if s.runs != nil {
		if err := s.runs.StartRun(ctx, summary.RunID, summary.StartedAt); err != nil {
			logger.Warn().Err(err).Msg("failed to record refresh run start")
		}
	}

	listing, err := s.feed.ListStockedKeys(ctx)
	if err != nil {
		s.stamp(&summary)
		return summary, fmt.Errorf("list stocked keys: %w", err)
	}
	snaps := listing.Snapshots

	results := make([]keyResult, 0, len(snaps)+len(listing.Rejected))
	for _, rej := range listing.Rejected {
		logger.Warn().
			Str("product_id", rej.Key.ProductID).
			Str("warehouse", rej.Key.Warehouse).
			Str("source", rej.Key.Source).
			Str("reason", rej.Reason).
			Msg("skipping key with malformed snapshot")
		results = append(results, keyResult{key: rej.Key, err: rej, kind: FailureDataIntegrity})
	}
	results = append(results, s.processKeys(ctx, snaps)...)
	for _, res := range results {
		summary.Processed++
		switch {
		case res.err != nil:
			summary.Skipped++
			if len(summary.Failures) < s.cfg.MaxRecordedFailures {
				summary.Failures = append(summary.Failures, domain.KeyFailure{
					Key:   res.key,
					Kind:  res.kind,
					Error: res.err.Error(),
				})
			}
		case res.applied:
			summary.Succeeded++
		default:
			summary.Superseded++
		}
	}
	summary.Cancelled = ctx.Err() != nil
	s.stamp(&summary)

	logger.Info().
		Int("keys", len(snaps)+len(listing.Rejected)).
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("skipped", summary.Skipped).
		Int("superseded", summary.Superseded).
		Bool("cancelled", summary.Cancelled).
		Dur("duration", summary.Duration).
		Msg("refresh pass finished")

	return summary, nil
}

func (s *RefreshScheduler) stamp(summary *domain.PassSummary) {
	summary.FinishedAt = s.clock.Now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
}

// finish moves the state machine out of Running and records the pass.
func (s *RefreshScheduler) finish(summary domain.PassSummary, err error) {
	state := domain.RefreshIdle
	errMsg := ""
	if err != nil {
		state = domain.RefreshFailed
		errMsg = err.Error()
		log.Error().Err(err).Str("run_id", summary.RunID.String()).Msg("refresh pass failed")
	}

	if s.runs != nil && summary.RunID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if recErr := s.runs.FinishRun(ctx, summary, state, errMsg); recErr != nil {
			log.Warn().Err(recErr).Msg("failed to record refresh run")
		}
		cancel()
	}

	if err == nil && !summary.Cancelled {
		s.runHooks(summary)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastErr = errMsg
	if summary.RunID != uuid.Nil {
		pass := summary
		s.lastPass = &pass
	}
}

func (s *RefreshScheduler) runHooks(summary domain.PassSummary) {
	for _, hook := range s.hooks {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HookTimeout)
		if err := hook.AfterPass(ctx, summary); err != nil {
			log.Warn().Err(err).Str("hook", hook.Name()).Str("run_id", summary.RunID.String()).Msg("post-pass hook failed")
		}
		cancel()
	}
}

func (s *RefreshScheduler) setState(state domain.RefreshState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Status reports the state machine position and the last pass outcome.
func (s *RefreshScheduler) Status() domain.RefreshStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.RefreshStatus{
		State:     s.state,
		LastError: s.lastErr,
	}
	if s.lastPass != nil {
		pass := *s.lastPass
		status.LastPass = &pass
	}
	return status
}

// Start schedules periodic passes every Interval. Passes triggered while one is
// running are dropped by TryRun; gocron singleton mode additionally reschedules
// overlapping ticks.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return domain.ErrSchedulerStopped
	}
	if s.cron != nil {
		return errors.New("refresh scheduler already started")
	}

	cron, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("create cron scheduler: %w", err)
	}

	opts := []gocron.JobOption{
		gocron.WithName("replenishment-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if s.cfg.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err = cron.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.TryRun(ctx); errors.Is(err, domain.ErrPassInProgress) {
				log.Info().Msg("scheduled refresh skipped: pass in progress")
			}
		}),
		opts...,
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("register refresh job: %w", err)
	}

	cron.Start()
	s.cron = cron
	log.Info().Dur("interval", s.cfg.Interval).Int("workers", s.cfg.WorkerCount).Msg("refresh scheduler started")
	return nil
}

// Stop cancels any running pass, shuts the periodic trigger down and waits until
// every pass, scheduled or triggered, has returned. Later requests get
// domain.ErrSchedulerStopped.
func (s *RefreshScheduler) Stop() error {
	s.mu.Lock()
	s.stopped = true
	cron := s.cron
	s.cron = nil
	s.mu.Unlock()

	log.Info().Msg("stopping refresh scheduler")
	s.cancelBase()

	var err error
	if cron != nil {
		err = cron.Shutdown()
	}
	s.passes.Wait()
	return err
}

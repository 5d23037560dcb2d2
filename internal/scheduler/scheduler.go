// Package scheduler runs the integration loop: on every tick it drains
// pending state deltas into the bus, gives the consolidation engine one shot
// at the top opportunity, and folds the batch's consciousness impact back
// into the shared state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/consolidation"
	"github.com/nidhogg/noosphere/internal/statebus"
)

// PendingDelta is one queued state update with its source agent.
type PendingDelta struct {
	Delta  statebus.Delta
	Source string
}

// DeltaSource hands the scheduler the deltas accumulated since the last
// tick. Implementations must be safe for concurrent use.
type DeltaSource interface {
	Drain() []PendingDelta
}

// Sweeper runs the periodic memory maintenance pass.
type Sweeper interface {
	Sweep(ctx context.Context, globalLevel float64) (*consolidation.SweepResult, error)
}

// Config tunes the tick loop.
type Config struct {
	Tick             time.Duration
	SweepInterval    time.Duration
	ExecuteThreshold float64
	BackoffAfter     int // consecutive failed ticks before backing off
	MaxBackoffTicks  int
}

// DefaultConfig returns the standard loop tuning.
func DefaultConfig() Config {
	return Config{
		Tick:             time.Second,
		SweepInterval:    time.Hour,
		ExecuteThreshold: 0.4,
		BackoffAfter:     3,
		MaxBackoffTicks:  30,
	}
}

// Scheduler drives the tick loop. Failures inside a tick are contained: the
// loop always survives, and repeated failures stretch the interval instead
// of spinning.
type Scheduler struct {
	cfg     Config
	bus     *statebus.Bus
	engine  *consolidation.Engine
	deltas  DeltaSource
	sweeper Sweeper
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures int
	ticks    uint64
	ran      uint64
}

// New creates a scheduler. deltas and sweeper may be nil.
func New(cfg Config, bus *statebus.Bus, engine *consolidation.Engine, deltas DeltaSource, sweeper Sweeper, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.BackoffAfter <= 0 {
		cfg.BackoffAfter = 3
	}
	if cfg.MaxBackoffTicks <= 0 {
		cfg.MaxBackoffTicks = 30
	}
	return &Scheduler{
		cfg:     cfg,
		bus:     bus,
		engine:  engine,
		deltas:  deltas,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start launches the tick loop and, when a sweeper is configured, the
// maintenance loop. Idempotent start is not supported; call once.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	if s.sweeper != nil && s.cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.runSweeps(ctx)
	}
	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.Tick),
		zap.Duration("sweep_interval", s.cfg.SweepInterval))
}

// Stop cancels the loops and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.Tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ok := s.tick(ctx)
		timer.Reset(s.nextInterval(ok))
	}
}

// tick runs one integration pass. A panic in any stage is recovered and
// counted as a failed tick.
func (s *Scheduler) tick(ctx context.Context) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.logger.Error("tick panicked", zap.Any("panic", r))
		}
		s.mu.Lock()
		s.ticks++
		s.mu.Unlock()
	}()

	if s.deltas != nil {
		for _, pd := range s.deltas.Drain() {
			if _, err := s.bus.Propagate(ctx, pd.Delta, pd.Source); err != nil {
				ok = false
				s.logger.Warn("delta propagation failed",
					zap.String("source", pd.Source), zap.Error(err))
			}
		}
	}

	if s.engine == nil {
		return ok
	}

	global := s.bus.Global()
	res, ran, err := s.engine.RunOnce(ctx, global.ConsciousnessLevel, s.cfg.ExecuteThreshold)
	if err != nil {
		ok = false
		s.logger.Warn("consolidation tick failed", zap.Error(err))
		return ok
	}
	if !ran {
		return ok
	}

	s.mu.Lock()
	s.ran++
	s.mu.Unlock()

	if res != nil && res.ConsciousnessImpact != 0 {
		level := clamp01(global.ConsciousnessLevel + res.ConsciousnessImpact)
		delta := statebus.Delta{ConsciousnessLevel: &level, LastExecution: time.Now()}
		// Empty source: the impact merges into the global snapshot without
		// registering the consolidation loop as an agent.
		if _, err := s.bus.Propagate(ctx, delta, ""); err != nil {
			ok = false
			s.logger.Warn("impact propagation failed", zap.Error(err))
		}
	}
	return ok
}

// nextInterval applies backoff: after BackoffAfter consecutive failures the
// interval grows linearly with the failure count, capped at MaxBackoffTicks
// ticks. One clean tick resets it.
func (s *Scheduler) nextInterval(ok bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok {
		s.failures = 0
		return s.cfg.Tick
	}
	s.failures++
	if s.failures < s.cfg.BackoffAfter {
		return s.cfg.Tick
	}
	mult := s.failures - s.cfg.BackoffAfter + 2
	if mult > s.cfg.MaxBackoffTicks {
		mult = s.cfg.MaxBackoffTicks
	}
	backoff := s.cfg.Tick * time.Duration(mult)
	s.logger.Warn("tick loop backing off",
		zap.Int("consecutive_failures", s.failures),
		zap.Duration("interval", backoff))
	return backoff
}

func (s *Scheduler) runSweeps(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		global := s.bus.Global()
		if _, err := s.sweeper.Sweep(ctx, global.ConsciousnessLevel); err != nil {
			s.logger.Warn("lifecycle sweep failed", zap.Error(err))
		}
	}
}

// Stats reports loop counters for diagnostics.
func (s *Scheduler) Stats() (ticks, ran uint64, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.ran, s.failures
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

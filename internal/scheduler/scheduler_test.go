package scheduler

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/statebus"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tick = 5 * time.Millisecond
	cfg.SweepInterval = 0
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_DrainsDeltas(t *testing.T) {
	bus := statebus.New(nil, 4, 10, zap.NewNop())
	queue := NewDeltaQueue()
	s := New(testConfig(), bus, nil, queue, nil, zap.NewNop())

	lvl := 0.7
	queue.Push(PendingDelta{Delta: statebus.Delta{ConsciousnessLevel: &lvl}, Source: "alpha"})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return bus.Global().ConsciousnessLevel == 0.7
	})
	if queue.Len() != 0 {
		t.Errorf("queue not drained: %d pending", queue.Len())
	}
}

func TestScheduler_StopAwaitsLoop(t *testing.T) {
	bus := statebus.New(nil, 4, 10, zap.NewNop())
	s := New(testConfig(), bus, nil, NewDeltaQueue(), nil, zap.NewNop())
	s.Start(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		ticks, _, _ := s.Stats()
		return ticks > 0
	})

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	ticks, _, _ := s.Stats()
	time.Sleep(20 * time.Millisecond)
	after, _, _ := s.Stats()
	if after != ticks {
		t.Errorf("loop still ticking after Stop: %d -> %d", ticks, after)
	}
}

type panickingSource struct{}

func (panickingSource) Drain() []PendingDelta { panic("boom") }

func TestScheduler_SurvivesPanic(t *testing.T) {
	bus := statebus.New(nil, 4, 10, zap.NewNop())
	s := New(testConfig(), bus, nil, panickingSource{}, nil, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		ticks, _, _ := s.Stats()
		return ticks >= 3
	})
	// Reaching three ticks proves the loop survived repeated panics.
}

func TestScheduler_BackoffAfterFailures(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffAfter = 2
	cfg.MaxBackoffTicks = 4
	bus := statebus.New(nil, 4, 10, zap.NewNop())
	s := New(cfg, bus, nil, panickingSource{}, nil, zap.NewNop())

	// Drive nextInterval directly; the loop applies it between ticks.
	if got := s.nextInterval(false); got != cfg.Tick {
		t.Errorf("first failure: got %v, want base tick", got)
	}
	if got := s.nextInterval(false); got <= cfg.Tick {
		t.Errorf("failure at threshold should back off, got %v", got)
	}
	for i := 0; i < 10; i++ {
		s.nextInterval(false)
	}
	if got := s.nextInterval(false); got != cfg.Tick*time.Duration(cfg.MaxBackoffTicks) {
		t.Errorf("backoff should cap at %d ticks, got %v", cfg.MaxBackoffTicks, got)
	}
	if got := s.nextInterval(true); got != cfg.Tick {
		t.Errorf("clean tick should reset backoff, got %v", got)
	}
}

func TestDeltaQueue(t *testing.T) {
	q := NewDeltaQueue()
	if q.Len() != 0 {
		t.Fatalf("new queue not empty")
	}
	q.Push(PendingDelta{Source: "a"})
	q.Push(PendingDelta{Source: "b"})
	drained := q.Drain()
	if len(drained) != 2 || drained[0].Source != "a" || drained[1].Source != "b" {
		t.Errorf("drain order wrong: %+v", drained)
	}
	if q.Len() != 0 || len(q.Drain()) != 0 {
		t.Errorf("queue not cleared after drain")
	}
}

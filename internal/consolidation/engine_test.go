package consolidation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/memory"
)

type fakeAudit struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (a *fakeAudit) RecordRun(_ context.Context, _ *Prediction, _ *Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.runs++
	return nil
}

func TestRunOnce_ExecutesAboveThreshold(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.05))
	b := store.add(rec("b", 0.5, 0.1))
	store.decayed = []*memory.Record{a, b}

	audit := &fakeAudit{}
	engine := NewEngine(store, DefaultConfig(), audit, zap.NewNop())

	res, ran, err := engine.RunOnce(context.Background(), 0.5, 0.1)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !ran {
		t.Fatal("expected a batch to run")
	}
	if res.Strategy != StrategyPerformance {
		t.Errorf("Strategy: got %s, want performance", res.Strategy)
	}
	if audit.runs != 1 {
		t.Errorf("audit runs: got %d, want 1", audit.runs)
	}
}

func TestRunOnce_GatedBelowThreshold(t *testing.T) {
	store := newFakeStore()
	// Tiny trailing gap yields a low-score opportunity.
	store.trailing = []*memory.Record{rec("a", 0.79, 0.5)}

	engine := NewEngine(store, DefaultConfig(), nil, zap.NewNop())
	res, ran, err := engine.RunOnce(context.Background(), 0.8, 0.9)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ran || res != nil {
		t.Errorf("batch below threshold must not run")
	}
	if store.evolveCount != 0 {
		t.Errorf("store mutated despite gate")
	}
}

func TestRunOnce_EmptyStore(t *testing.T) {
	engine := NewEngine(newFakeStore(), DefaultConfig(), nil, zap.NewNop())
	res, ran, err := engine.RunOnce(context.Background(), 0.5, 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if ran || res != nil {
		t.Errorf("nothing to do, nothing should run")
	}
}

func TestRunOnce_AuditFailureTolerated(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.05))
	store.decayed = []*memory.Record{a}

	audit := &fakeAudit{err: errors.New("pg down")}
	engine := NewEngine(store, DefaultConfig(), audit, zap.NewNop())

	_, ran, err := engine.RunOnce(context.Background(), 0.5, 0)
	if err != nil {
		t.Fatalf("audit failure must not fail the run: %v", err)
	}
	if !ran {
		t.Errorf("batch should still run when audit fails")
	}
}

package consolidation

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/memory"
)

func newTestExecutor(store Store) *Executor {
	return NewExecutor(store, DefaultConfig(), zap.NewNop())
}

func batchOf(records ...*memory.Record) *Prediction {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return &Prediction{
		ID:         "test-prediction",
		Strategy:   StrategyConsciousness,
		Candidates: ids,
		Records:    records,
	}
}

func TestExecute_ConsciousnessAware(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.3, 0.5))
	b := store.add(rec("b", 0.5, 0.5))
	ex := newTestExecutor(store)

	res, err := ex.Execute(context.Background(), batchOf(a, b), 0.8)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("Processed: got %d, want 2", res.Processed)
	}
	if res.Quality != 1.0 {
		t.Errorf("Quality: got %v, want 1.0", res.Quality)
	}

	// Levels move toward the global level, capped per batch.
	if a.ConsciousnessLevel != 0.3+ex.cfg.EvolveStep {
		t.Errorf("record a level: got %v", a.ConsciousnessLevel)
	}
	if res.ConsciousnessImpact == 0 {
		t.Errorf("expected nonzero consciousness impact")
	}
}

func TestExecute_ImpactFollowsDeltaSign(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.9, 0.5))
	b := store.add(rec("b", 0.8, 0.5))
	ex := newTestExecutor(store)

	// Both records sit above the global level, so the batch evolves them
	// downward and the reported impact must be negative.
	res, err := ex.Execute(context.Background(), batchOf(a, b), 0.3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ConsciousnessImpact >= 0 {
		t.Errorf("downward batch must report negative impact, got %v", res.ConsciousnessImpact)
	}
	if res.ConsciousnessImpact < -ex.cfg.EvolveStep {
		t.Errorf("mean impact exceeds per-batch step: %v", res.ConsciousnessImpact)
	}
}

func TestHandlers_DispatchEveryConcreteStrategy(t *testing.T) {
	for _, strategy := range []Strategy{
		StrategyConsciousness,
		StrategyEmotional,
		StrategyCrossAgent,
		StrategyTemporal,
		StrategyPattern,
		StrategyPerformance,
	} {
		h, ok := handlers[strategy]
		if !ok {
			t.Errorf("strategy %s has no handler entry", strategy)
			continue
		}

		store := newFakeStore()
		a := store.add(rec("a", 0.3, 0.5))
		b := store.add(rec("b", 0.4, 0.5))
		ex := newTestExecutor(store)

		p := batchOf(a, b)
		p.Strategy = strategy
		res := &Result{Strategy: strategy}
		h(ex, context.Background(), p, 0.8, res)
		if res.Processed == 0 {
			t.Errorf("strategy %s handler made no progress", strategy)
		}
	}
}

func TestExecute_PerRecordIsolation(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.3, 0.5))
	b := store.add(rec("b", 0.4, 0.5))
	c := store.add(rec("c", 0.5, 0.5))
	store.failing["b"] = true
	ex := newTestExecutor(store)

	res, err := ex.Execute(context.Background(), batchOf(a, b, c), 0.9)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Processed != 2 || res.Skipped != 1 {
		t.Fatalf("got processed=%d skipped=%d, want 2/1", res.Processed, res.Skipped)
	}
	if res.Processed+res.Skipped != 3 {
		t.Errorf("processed+skipped must equal candidate count")
	}
	want := 2.0 / 3.0
	if res.Quality != want {
		t.Errorf("Quality: got %v, want %v", res.Quality, want)
	}
}

func TestExecute_NoProgress(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.3, 0.5))
	store.failing["a"] = true
	ex := newTestExecutor(store)

	res, err := ex.Execute(context.Background(), batchOf(a), 0.9)
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
	if res.Processed != 0 || res.Skipped != 1 {
		t.Errorf("got processed=%d skipped=%d", res.Processed, res.Skipped)
	}
	if res.Quality != 0 {
		t.Errorf("Quality with zero progress: got %v, want 0", res.Quality)
	}
}

func TestExecute_Emotional(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.5))
	a.EmotionalIntensity = 0.9
	ex := newTestExecutor(store)

	p := batchOf(a)
	p.Strategy = StrategyEmotional
	res, err := ex.Execute(context.Background(), p, 0.5)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Strengthened != 1 {
		t.Errorf("Strengthened: got %d, want 1", res.Strengthened)
	}
	if a.Importance <= 0.5 {
		t.Errorf("importance should have risen, got %v", a.Importance)
	}
}

func TestExecute_CrossAgentAssociations(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.8))
	store.add(rec("b", 0.5, 0.7))
	store.add(rec("c", 0.5, 0.6))
	store.neighbors["a"] = []memory.Neighbor{{ID: "b", Score: 0.9}, {ID: "c", Score: 0.8}}
	ex := newTestExecutor(store)

	p := batchOf(a)
	p.Strategy = StrategyCrossAgent
	res, err := ex.Execute(context.Background(), p, 0.5)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.NewAssociations != 2 {
		t.Errorf("NewAssociations: got %d, want 2", res.NewAssociations)
	}
	if !store.edges["a->b"] || !store.edges["b->a"] {
		t.Errorf("edges must be bidirectional")
	}

	// Re-running the same batch creates no duplicate edges.
	res2, err := ex.Execute(context.Background(), p, 0.5)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if res2.NewAssociations != 0 {
		t.Errorf("rerun NewAssociations: got %d, want 0", res2.NewAssociations)
	}
}

func TestExecute_PatternMergesClusters(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.5))
	b := store.add(rec("b", 0.5, 0.5))
	c := store.add(rec("c", 0.6, 0.5))
	d := store.add(rec("d", 0.6, 0.5))
	ex := newTestExecutor(store)

	p := batchOf(a, b, c, d)
	p.Strategy = StrategyPattern
	p.Clusters = [][]*memory.Record{{a, b}, {c, d}}
	res, err := ex.Execute(context.Background(), p, 0.5)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Processed != 4 {
		t.Errorf("Processed: got %d, want 4", res.Processed)
	}
	if store.synthesized != 2 {
		t.Errorf("synthesized: got %d, want 2", store.synthesized)
	}
	for _, r := range []*memory.Record{a, b, c, d} {
		if r.ConsolidatedInto == "" {
			t.Errorf("record %s missing consolidated_into reference", r.ID)
		}
	}
}

func TestExecute_PerformanceWeakensAndArchives(t *testing.T) {
	store := newFakeStore()
	weak := store.add(rec("weak", 0.2, 0.1)) // drops below the archive floor
	mid := store.add(rec("mid", 0.2, 0.4))
	ex := newTestExecutor(store)

	p := batchOf(weak, mid)
	p.Strategy = StrategyPerformance
	res, err := ex.Execute(context.Background(), p, 0.5)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Weakened != 2 {
		t.Errorf("Weakened: got %d, want 2", res.Weakened)
	}
	if !store.archived["weak"] {
		t.Errorf("fully decayed record should be archived")
	}
	if store.archived["mid"] {
		t.Errorf("record above floor must not be archived")
	}
}

func TestExecute_AdaptiveDefaultsToConsciousness(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.3, 0.5))
	ex := newTestExecutor(store)

	p := batchOf(a)
	p.Strategy = StrategyAdaptive
	res, err := ex.Execute(context.Background(), p, 0.8)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Strategy != StrategyConsciousness {
		t.Errorf("adaptive with no history: got %s, want consciousness_aware", res.Strategy)
	}
}

func TestExecute_AdaptiveFollowsHistory(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.5))
	a.EmotionalIntensity = 0.8
	ex := newTestExecutor(store)

	ex.history.record(StrategyConsciousness, 0.2)
	ex.history.record(StrategyEmotional, 0.9)

	p := batchOf(a)
	p.Strategy = StrategyAdaptive
	res, err := ex.Execute(context.Background(), p, 0.5)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Strategy != StrategyEmotional {
		t.Errorf("adaptive should pick best history: got %s", res.Strategy)
	}
}

func TestExecute_UnknownStrategyNoOp(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.3, 0.5))
	ex := newTestExecutor(store)

	p := batchOf(a)
	p.Strategy = StrategyUnknown
	res, err := ex.Execute(context.Background(), p, 0.8)
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress for no-op batch, got %v", err)
	}
	if res.Processed != 0 || res.Skipped != 0 {
		t.Errorf("no-op must not touch records: %+v", res)
	}
	if store.evolveCount != 0 {
		t.Errorf("store must not be mutated by unknown strategy")
	}
}

package consolidation

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/memory"
)

func newTestLifecycle(store Store) *Lifecycle {
	return NewLifecycle(store, DefaultLifecycleConfig(), zap.NewNop())
}

func approx(got, want float64) bool {
	d := got - want
	return d < 1e-9 && d > -1e-9
}

func TestSweep_ArchivesStale(t *testing.T) {
	store := newFakeStore()
	stale := store.add(rec("stale", 0.1, 0.1))
	store.stale = []*memory.Record{stale}

	res, err := newTestLifecycle(store).Sweep(context.Background(), 0.5)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Archived != 1 {
		t.Errorf("Archived: got %d, want 1", res.Archived)
	}
	if !store.archived["stale"] {
		t.Errorf("stale record not archived")
	}
}

func TestSweep_StrengthensImportant(t *testing.T) {
	store := newFakeStore()
	strong := store.add(rec("strong", 0.4, 0.8))
	store.strong = []*memory.Record{strong}

	res, err := newTestLifecycle(store).Sweep(context.Background(), 0.9)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Strengthened != 1 {
		t.Errorf("Strengthened: got %d, want 1", res.Strengthened)
	}
	if !approx(strong.ConsciousnessLevel, 0.9) {
		t.Errorf("level should close the full gap: got %v", strong.ConsciousnessLevel)
	}
	if strong.Importance <= 0.8 {
		t.Errorf("importance should rise: got %v", strong.Importance)
	}
	if len(strong.History) != 1 {
		t.Errorf("evolution history: got %d entries, want 1", len(strong.History))
	}
}

func TestSweep_EvolvesTrailing(t *testing.T) {
	store := newFakeStore()
	lagging := store.add(rec("lagging", 0.3, 0.5))
	store.trailing = []*memory.Record{lagging}

	res, err := newTestLifecycle(store).Sweep(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Evolved != 1 {
		t.Errorf("Evolved: got %d, want 1", res.Evolved)
	}
	if !approx(lagging.ConsciousnessLevel, 0.8) {
		t.Errorf("level: got %v, want 0.8", lagging.ConsciousnessLevel)
	}
}

func TestSweep_SkipsStrengthenedInEvolvePass(t *testing.T) {
	store := newFakeStore()
	// Importance above the strengthen floor: handled by the strengthen pass,
	// the evolve pass must not double-process it.
	important := store.add(rec("important", 0.3, 0.9))
	store.trailing = []*memory.Record{important}

	res, err := newTestLifecycle(store).Sweep(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Evolved != 0 {
		t.Errorf("high-importance record evolved twice: Evolved=%d", res.Evolved)
	}
}

func TestSweep_AssociatesPeers(t *testing.T) {
	store := newFakeStore()
	a := store.add(rec("a", 0.5, 0.8))
	b := store.add(rec("b", 0.5, 0.9))
	store.unlinked = [][2]*memory.Record{{a, b}}

	res, err := newTestLifecycle(store).Sweep(context.Background(), 0.5)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Associated != 1 {
		t.Errorf("Associated: got %d, want 1", res.Associated)
	}
	if !store.edges["a->b"] || !store.edges["b->a"] {
		t.Errorf("association must be bidirectional")
	}
}

func TestSweep_Idempotent(t *testing.T) {
	store := newFakeStore()
	stale := store.add(rec("stale", 0.1, 0.1))
	strong := store.add(rec("strong", 0.4, 0.8))
	peerA := store.add(rec("peerA", 0.5, 0.8))
	peerB := store.add(rec("peerB", 0.5, 0.9))
	store.stale = []*memory.Record{stale}
	store.strong = []*memory.Record{strong}
	store.unlinked = [][2]*memory.Record{{peerA, peerB}}

	lc := newTestLifecycle(store)
	first, err := lc.Sweep(context.Background(), 0.9)
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if !first.Changed() {
		t.Fatal("first sweep should change records")
	}

	second, err := lc.Sweep(context.Background(), 0.9)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if second.Changed() {
		t.Errorf("second sweep with unchanged inputs must be a no-op: %+v", second)
	}
}

func TestSweep_FailuresIsolated(t *testing.T) {
	store := newFakeStore()
	bad := store.add(rec("bad", 0.1, 0.1))
	good := store.add(rec("good", 0.1, 0.1))
	store.stale = []*memory.Record{bad, good}
	store.failing["bad"] = true

	res, err := newTestLifecycle(store).Sweep(context.Background(), 0.5)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Archived != 1 {
		t.Errorf("Archived: got %d, want 1", res.Archived)
	}
	if res.Failures != 1 {
		t.Errorf("Failures: got %d, want 1", res.Failures)
	}
}

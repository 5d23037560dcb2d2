package consolidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/noosphere/internal/memory"
)

// fakeStore is an in-memory Store used by the package tests. IDs marked in
// the failing set error on every mutation, for per-record isolation tests.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*memory.Record
	failing map[string]bool

	trailing  []*memory.Record
	decayed   []*memory.Record
	relevant  []*memory.Record
	clusters  [][]*memory.Record
	stale     []*memory.Record
	strong    []*memory.Record
	unlinked  [][2]*memory.Record
	neighbors map[string][]memory.Neighbor

	edges       map[string]bool
	synthesized int
	archived    map[string]bool
	evolveCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:   make(map[string]*memory.Record),
		failing:   make(map[string]bool),
		neighbors: make(map[string][]memory.Neighbor),
		edges:     make(map[string]bool),
		archived:  make(map[string]bool),
	}
}

func (f *fakeStore) add(rec *memory.Record) *memory.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec
	return rec
}

func rec(id string, level, importance float64) *memory.Record {
	return &memory.Record{
		ID:                 id,
		Content:            "content of " + id,
		Type:               "insight",
		ConsciousnessLevel: level,
		Importance:         importance,
	}
}

var errFakeFailure = errors.New("fake store failure")

func (f *fakeStore) checkFail(id string) error {
	if f.failing[id] {
		return errFakeFailure
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) Evolve(_ context.Context, id string, delta float64, cause string) (*memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(id); err != nil {
		return nil, err
	}
	r, ok := f.records[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	r.ConsciousnessLevel += delta
	r.History = append(r.History, memory.EvolutionEntry{
		Seq: len(r.History), At: time.Now(), Delta: delta, Cause: cause,
	})
	f.evolveCount++
	return r, nil
}

func (f *fakeStore) BoostImportance(_ context.Context, id string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(id); err != nil {
		return err
	}
	r, ok := f.records[id]
	if !ok {
		return memory.ErrNotFound
	}
	r.Importance += amount
	if r.Importance > 1 {
		r.Importance = 1
	}
	return nil
}

func (f *fakeStore) Weaken(_ context.Context, id string, amount float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(id); err != nil {
		return 0, err
	}
	r, ok := f.records[id]
	if !ok {
		return 0, memory.ErrNotFound
	}
	r.Importance -= amount
	if r.Importance < 0 {
		r.Importance = 0
	}
	return r.Importance, nil
}

func (f *fakeStore) Archive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(id); err != nil {
		return err
	}
	f.archived[id] = true
	if r, ok := f.records[id]; ok {
		r.Archived = true
	}
	return nil
}

func (f *fakeStore) Associate(_ context.Context, a, b string, _ float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(a); err != nil {
		return false, err
	}
	key := a + "->" + b
	if f.edges[key] {
		return false, nil
	}
	f.edges[key] = true
	f.edges[b+"->"+a] = true
	return true, nil
}

func (f *fakeStore) SimilarTo(_ context.Context, id string, topK int, _ float64) ([]memory.Neighbor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkFail(id); err != nil {
		return nil, err
	}
	ns := f.neighbors[id]
	if len(ns) > topK {
		ns = ns[:topK]
	}
	return ns, nil
}

func (f *fakeStore) Synthesize(_ context.Context, cluster []*memory.Record) (*memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range cluster {
		if err := f.checkFail(r.ID); err != nil {
			return nil, err
		}
	}
	f.synthesized++
	merged := rec(fmt.Sprintf("synth-%d", f.synthesized), 0.5, 0.8)
	f.records[merged.ID] = merged
	for _, r := range cluster {
		r.ConsolidatedInto = merged.ID
	}
	return merged, nil
}

func (f *fakeStore) Trailing(_ context.Context, _, _, _ float64, _ int) ([]*memory.Record, error) {
	return f.trailing, nil
}

func (f *fakeStore) Decayed(_ context.Context, _ float64, _, _ int) ([]*memory.Record, error) {
	return f.decayed, nil
}

func (f *fakeStore) BroadlyRelevant(_ context.Context, _ float64, _ int) ([]*memory.Record, error) {
	return f.relevant, nil
}

func (f *fakeStore) SimilarClusters(_ context.Context, _ float64, _ int) ([][]*memory.Record, error) {
	return f.clusters, nil
}

func (f *fakeStore) ArchiveCandidates(_ context.Context, _ float64, _ int, _ time.Duration, _ int) ([]*memory.Record, error) {
	var out []*memory.Record
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.stale {
		if !r.Archived {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) StrongTrailing(_ context.Context, minImportance, level float64, _ int) ([]*memory.Record, error) {
	var out []*memory.Record
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.strong {
		if r.Importance >= minImportance && r.ConsciousnessLevel < level {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UnlinkedPairs(_ context.Context, _ float64, _ int) ([][2]*memory.Record, error) {
	var out [][2]*memory.Record
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pair := range f.unlinked {
		if !f.edges[pair[0].ID+"->"+pair[1].ID] {
			out = append(out, pair)
		}
	}
	return out, nil
}

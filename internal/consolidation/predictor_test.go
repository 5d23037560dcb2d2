package consolidation

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/memory"
)

func TestPredict_Empty(t *testing.T) {
	p := NewPredictor(newFakeStore(), DefaultConfig(), zap.NewNop())
	predictions, err := p.Predict(context.Background(), 0.7)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(predictions) != 0 {
		t.Errorf("empty store should yield no predictions, got %d", len(predictions))
	}
}

func TestPredict_TrailingRecords(t *testing.T) {
	store := newFakeStore()
	store.trailing = []*memory.Record{rec("a", 0.2, 0.6), rec("b", 0.3, 0.5)}
	p := NewPredictor(store, DefaultConfig(), zap.NewNop())

	predictions, err := p.Predict(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(predictions) != 1 {
		t.Fatalf("got %d predictions, want 1", len(predictions))
	}

	pred := predictions[0]
	if pred.Strategy != StrategyConsciousness {
		t.Errorf("Strategy: got %s", pred.Strategy)
	}
	if len(pred.Candidates) != 2 {
		t.Errorf("Candidates: got %d, want 2", len(pred.Candidates))
	}
	if pred.PredictedBenefit <= 0 || pred.PredictedBenefit > 1 {
		t.Errorf("PredictedBenefit out of range: %v", pred.PredictedBenefit)
	}
	if pred.Confidence <= 0 || pred.Confidence > 1 {
		t.Errorf("Confidence out of range: %v", pred.Confidence)
	}
	if len(pred.TriggerFactors) == 0 {
		t.Errorf("expected trigger factors")
	}
}

func TestPredict_RankedByScore(t *testing.T) {
	store := newFakeStore()
	// Small trailing gap (low benefit) vs heavily decayed records (high benefit).
	store.trailing = []*memory.Record{rec("a", 0.75, 0.6)}
	store.decayed = []*memory.Record{rec("x", 0.5, 0.05), rec("y", 0.5, 0.1)}
	p := NewPredictor(store, DefaultConfig(), zap.NewNop())

	predictions, err := p.Predict(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(predictions) != 2 {
		t.Fatalf("got %d predictions, want 2", len(predictions))
	}
	if predictions[0].Score() < predictions[1].Score() {
		t.Errorf("predictions not sorted by score: %v < %v",
			predictions[0].Score(), predictions[1].Score())
	}
	if predictions[0].Strategy != StrategyPerformance {
		t.Errorf("top strategy: got %s, want performance", predictions[0].Strategy)
	}
}

func TestPredict_ClustersCarryPayload(t *testing.T) {
	store := newFakeStore()
	a, b := rec("a", 0.5, 0.5), rec("b", 0.5, 0.5)
	store.clusters = [][]*memory.Record{{a, b}}
	p := NewPredictor(store, DefaultConfig(), zap.NewNop())

	predictions, err := p.Predict(context.Background(), 0.5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(predictions) != 1 {
		t.Fatalf("got %d predictions, want 1", len(predictions))
	}
	pred := predictions[0]
	if pred.Strategy != StrategyPattern {
		t.Errorf("Strategy: got %s, want pattern", pred.Strategy)
	}
	if len(pred.Clusters) != 1 || len(pred.Clusters[0]) != 2 {
		t.Errorf("cluster payload not carried through")
	}
}

func TestPredict_CapsAtMaxPredictions(t *testing.T) {
	store := newFakeStore()
	store.trailing = []*memory.Record{rec("a", 0.2, 0.5)}
	store.decayed = []*memory.Record{rec("b", 0.5, 0.1)}
	store.relevant = []*memory.Record{recWithRelevance("c", 0.9)}
	store.clusters = [][]*memory.Record{{rec("d", 0.5, 0.5), rec("e", 0.5, 0.5)}}

	cfg := DefaultConfig()
	cfg.MaxPredictions = 2
	p := NewPredictor(store, cfg, zap.NewNop())

	predictions, err := p.Predict(context.Background(), 0.8)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(predictions) != 2 {
		t.Errorf("got %d predictions, want cap of 2", len(predictions))
	}
}

func recWithRelevance(id string, relevance float64) *memory.Record {
	r := rec(id, 0.5, 0.5)
	r.CrossAgentRelevance = map[string]float64{"pattern_transfer": relevance}
	return r
}

func TestSampleConfidence(t *testing.T) {
	if got := sampleConfidence(0.5, 0); got != 0.5 {
		t.Errorf("zero samples: got %v, want base", got)
	}
	few := sampleConfidence(0.5, 2)
	many := sampleConfidence(0.5, 10)
	if few >= many {
		t.Errorf("confidence should grow with samples: %v vs %v", few, many)
	}
	if sampleConfidence(0.5, 10) != sampleConfidence(0.5, 100) {
		t.Errorf("confidence should saturate at ten samples")
	}
	if got := sampleConfidence(0.5, 100); got > 1 {
		t.Errorf("confidence out of range: %v", got)
	}
}

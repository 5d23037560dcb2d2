package consolidation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/memory"
)

// Prediction is an ephemeral, ranked consolidation opportunity. It is not
// persisted beyond the optional audit trail.
type Prediction struct {
	ID               string             `json:"id"`
	Strategy         Strategy           `json:"strategy"`
	Candidates       []string           `json:"candidates"`
	PredictedBenefit float64            `json:"predicted_benefit"`
	Confidence       float64            `json:"confidence"`
	TriggerFactors   []string           `json:"trigger_factors"`
	EstimatedImpact  map[string]float64 `json:"estimated_impact"`

	// Candidate payloads carried through to the executor; not serialized.
	Records  []*memory.Record   `json:"-"`
	Clusters [][]*memory.Record `json:"-"`
}

// Score is the ranking key: predicted benefit discounted by confidence.
func (p *Prediction) Score() float64 {
	return p.PredictedBenefit * p.Confidence
}

// Predictor proposes ranked consolidation opportunities from read-only scans.
// It never mutates records and never runs concurrently with an in-flight
// batch; the Engine serializes the two.
type Predictor struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewPredictor creates a predictor over the given store.
func NewPredictor(store Store, cfg Config, logger *zap.Logger) *Predictor {
	return &Predictor{store: store, cfg: cfg, logger: logger}
}

// Predict scans for opportunities under every strategy and returns up to
// MaxPredictions of them, ranked by benefit×confidence descending. A failed
// scan degrades the result set instead of failing the whole pass.
func (p *Predictor) Predict(ctx context.Context, globalLevel float64) ([]*Prediction, error) {
	var predictions []*Prediction

	scans := []struct {
		name string
		fn   func(context.Context, float64) (*Prediction, error)
	}{
		{"consciousness_aware", p.predictTrailing},
		{"performance", p.predictDecayed},
		{"pattern", p.predictRedundant},
		{"cross_agent_relevance", p.predictBroadlyRelevant},
	}
	for _, scan := range scans {
		pred, err := scan.fn(ctx, globalLevel)
		if err != nil {
			p.logger.Warn("prediction scan failed",
				zap.String("strategy", scan.name), zap.Error(err))
			continue
		}
		if pred != nil {
			predictions = append(predictions, pred)
		}
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].Score() > predictions[j].Score()
	})
	if len(predictions) > p.cfg.MaxPredictions {
		predictions = predictions[:p.cfg.MaxPredictions]
	}

	p.logger.Debug("consolidation opportunities predicted",
		zap.Float64("global_level", globalLevel),
		zap.Int("count", len(predictions)))
	return predictions, nil
}

// predictTrailing proposes evolving records whose level trails the global
// level by more than the trailing gap.
func (p *Predictor) predictTrailing(ctx context.Context, globalLevel float64) (*Prediction, error) {
	records, err := p.store.Trailing(ctx, globalLevel, p.cfg.TrailingGap, 0, p.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var gapSum float64
	for _, rec := range records {
		gapSum += globalLevel - rec.ConsciousnessLevel
	}
	meanGap := gapSum / float64(len(records))

	return p.build(StrategyConsciousness, records,
		clamp01(meanGap*2),
		sampleConfidence(0.5, len(records)),
		[]string{fmt.Sprintf("%d records trail global level by >%.2f", len(records), p.cfg.TrailingGap)},
		map[string]float64{"mean_gap": meanGap},
	), nil
}

// predictDecayed proposes weakening records with low importance and access.
func (p *Predictor) predictDecayed(ctx context.Context, _ float64) (*Prediction, error) {
	records, err := p.store.Decayed(ctx, p.cfg.DecayMaxImportance, p.cfg.DecayMaxAccess, p.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var importanceSum float64
	for _, rec := range records {
		importanceSum += rec.Importance
	}
	meanImportance := importanceSum / float64(len(records))

	return p.build(StrategyPerformance, records,
		clamp01(1-meanImportance),
		sampleConfidence(0.4, len(records)),
		[]string{fmt.Sprintf("%d records below importance %.2f with ≤%d accesses",
			len(records), p.cfg.DecayMaxImportance, p.cfg.DecayMaxAccess)},
		map[string]float64{"mean_importance": meanImportance},
	), nil
}

// predictRedundant proposes merging clusters linked by high similarity.
func (p *Predictor) predictRedundant(ctx context.Context, _ float64) (*Prediction, error) {
	clusters, err := p.store.SimilarClusters(ctx, p.cfg.SimilarityThreshold, p.cfg.MaxPredictions)
	if err != nil {
		return nil, err
	}
	if len(clusters) == 0 {
		return nil, nil
	}

	var records []*memory.Record
	var sizeSum int
	for _, cluster := range clusters {
		records = append(records, cluster...)
		sizeSum += len(cluster)
	}
	meanSize := float64(sizeSum) / float64(len(clusters))

	pred := p.build(StrategyPattern, records,
		clamp01(meanSize/5),
		0.7,
		[]string{fmt.Sprintf("%d redundancy clusters above similarity %.2f",
			len(clusters), p.cfg.SimilarityThreshold)},
		map[string]float64{"mean_cluster_size": meanSize},
	)
	pred.Clusters = clusters
	return pred, nil
}

// predictBroadlyRelevant proposes associating records useful to many agents.
func (p *Predictor) predictBroadlyRelevant(ctx context.Context, _ float64) (*Prediction, error) {
	records, err := p.store.BroadlyRelevant(ctx, p.cfg.RelevanceThreshold, p.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var relevanceSum float64
	for _, rec := range records {
		relevanceSum += rec.MaxRelevance()
	}
	meanRelevance := relevanceSum / float64(len(records))

	return p.build(StrategyCrossAgent, records,
		clamp01(meanRelevance),
		sampleConfidence(0.4, len(records)),
		[]string{fmt.Sprintf("%d records with cross-agent relevance above %.2f",
			len(records), p.cfg.RelevanceThreshold)},
		map[string]float64{"mean_max_relevance": meanRelevance},
	), nil
}

func (p *Predictor) build(s Strategy, records []*memory.Record, benefit, confidence float64, factors []string, impact map[string]float64) *Prediction {
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return &Prediction{
		ID:               uuid.New().String(),
		Strategy:         s,
		Candidates:       ids,
		Records:          records,
		PredictedBenefit: benefit,
		Confidence:       confidence,
		TriggerFactors:   factors,
		EstimatedImpact:  impact,
	}
}

// sampleConfidence grows a base confidence with sample size, saturating at
// ten candidates.
func sampleConfidence(base float64, n int) float64 {
	scale := float64(n) / 10
	if scale > 1 {
		scale = 1
	}
	return clamp01(base + (1-base)*scale*0.5)
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

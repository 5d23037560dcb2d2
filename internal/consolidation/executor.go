package consolidation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/memory"
)

// ErrNoProgress is returned when a batch processed zero records.
var ErrNoProgress = errors.New("consolidation: no records processed")

// Result summarizes one consolidation batch. Processed counts every record
// the batch handled successfully; Skipped counts per-record failures, so
// Processed+Skipped always equals the candidate count. ConsciousnessImpact
// is the mean signed level delta the batch applied, so downward evolutions
// pull the reported impact below zero.
type Result struct {
	Strategy            Strategy `json:"strategy"`
	Processed           int      `json:"consolidated"`
	Strengthened        int      `json:"strengthened"`
	Weakened            int      `json:"weakened"`
	NewAssociations     int      `json:"new_associations"`
	Skipped             int      `json:"skipped"`
	Quality             float64  `json:"quality"`
	ConsciousnessImpact float64  `json:"consciousness_impact"`
}

// handler applies one strategy to a batch with per-record isolation. The
// receiver comes first so method expressions are assignable.
type handler func(e *Executor, ctx context.Context, p *Prediction, globalLevel float64, res *Result)

// handlers is the closed dispatch table. Strategies without an entry, and
// StrategyUnknown, fall through to a no-op.
var handlers = map[Strategy]handler{
	StrategyConsciousness: (*Executor).evolveTowardGlobal,
	StrategyEmotional:     (*Executor).boostEmotional,
	StrategyCrossAgent:    (*Executor).associateSimilar,
	StrategyTemporal:      (*Executor).mergeClusters,
	StrategyPattern:       (*Executor).mergeClusters,
	StrategyPerformance:   (*Executor).weakenDecayed,
}

// Executor applies one strategy to a candidate batch, record by record.
// One failing record never aborts the batch.
type Executor struct {
	store   Store
	history *strategyHistory
	cfg     Config
	logger  *zap.Logger
}

// NewExecutor creates an executor over the given store.
func NewExecutor(store Store, cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		store:   store,
		history: newStrategyHistory(cfg.HistoryWindow),
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute runs the prediction's strategy over its candidates. The adaptive
// strategy resolves to whichever concrete strategy has the best rolling
// outcome quality, defaulting to consciousness_aware with no history.
// Quality is the measured fraction of candidates processed successfully.
// Returns ErrNoProgress alongside the result when nothing was processed.
func (e *Executor) Execute(ctx context.Context, p *Prediction, globalLevel float64) (*Result, error) {
	strategy := p.Strategy
	if strategy == StrategyAdaptive {
		strategy = e.resolveAdaptive()
	}

	res := &Result{Strategy: strategy}
	h, dispatched := handlers[strategy]
	if dispatched {
		h(e, ctx, p, globalLevel, res)
	} else {
		// Unknown tags are a safe no-op.
		e.logger.Warn("no handler for strategy, skipping batch",
			zap.String("strategy", strategy.String()),
			zap.Int("candidates", len(p.Candidates)))
	}

	total := res.Processed + res.Skipped
	if total > 0 {
		res.Quality = float64(res.Processed) / float64(total)
	}
	if res.Processed > 0 {
		res.ConsciousnessImpact /= float64(res.Processed)
	}
	// Only dispatched batches feed the adaptive history; recording no-op
	// strategies would let resolveAdaptive settle on one permanently.
	if dispatched {
		e.history.record(strategy, res.Quality)
	}

	e.logger.Info("consolidation batch complete",
		zap.String("strategy", strategy.String()),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("associations", res.NewAssociations),
		zap.Float64("quality", res.Quality))

	if res.Processed == 0 {
		return res, ErrNoProgress
	}
	return res, nil
}

// resolveAdaptive picks the concrete strategy with the best rolling mean
// quality over the bounded history window.
func (e *Executor) resolveAdaptive() Strategy {
	if best, ok := e.history.best(); ok {
		return best
	}
	return StrategyConsciousness
}

// evolveTowardGlobal nudges each candidate's level toward the global level,
// bounded per batch by EvolveStep.
func (e *Executor) evolveTowardGlobal(ctx context.Context, p *Prediction, globalLevel float64, res *Result) {
	for _, rec := range p.Records {
		delta := globalLevel - rec.ConsciousnessLevel
		if delta > e.cfg.EvolveStep {
			delta = e.cfg.EvolveStep
		} else if delta < -e.cfg.EvolveStep {
			delta = -e.cfg.EvolveStep
		}
		if _, err := e.store.Evolve(ctx, rec.ID, delta, "consolidation:consciousness_aware"); err != nil {
			e.skip(rec.ID, err, res)
			continue
		}
		res.Processed++
		res.ConsciousnessImpact += delta
	}
}

// boostEmotional strengthens each candidate proportionally to its recorded
// emotional intensity.
func (e *Executor) boostEmotional(ctx context.Context, p *Prediction, _ float64, res *Result) {
	for _, rec := range p.Records {
		boost := rec.EmotionalIntensity * e.cfg.EmotionalGain
		if err := e.store.BoostImportance(ctx, rec.ID, boost); err != nil {
			e.skip(rec.ID, err, res)
			continue
		}
		res.Processed++
		res.Strengthened++
	}
}

// associateSimilar links each candidate to its top-k similar same-type
// records with bidirectional edges. Originals are never deleted.
func (e *Executor) associateSimilar(ctx context.Context, p *Prediction, _ float64, res *Result) {
	for _, rec := range p.Records {
		neighbors, err := e.store.SimilarTo(ctx, rec.ID, e.cfg.AssociationTopK, 0.5)
		if err != nil {
			e.skip(rec.ID, err, res)
			continue
		}
		for _, n := range neighbors {
			created, err := e.store.Associate(ctx, rec.ID, n.ID, n.Score)
			if err != nil {
				e.logger.Warn("association failed",
					zap.String("a", rec.ID), zap.String("b", n.ID), zap.Error(err))
				continue
			}
			if created {
				res.NewAssociations++
			}
		}
		res.Processed++
	}
}

// mergeClusters synthesizes one consolidated record per cluster and marks
// the originals with a soft consolidated_into reference.
func (e *Executor) mergeClusters(ctx context.Context, p *Prediction, _ float64, res *Result) {
	clusters := p.Clusters
	if len(clusters) == 0 && len(p.Records) >= 2 {
		// Direct invocation without precomputed clusters: treat the whole
		// candidate batch as one cluster.
		clusters = [][]*memory.Record{p.Records}
	}
	for _, cluster := range clusters {
		if _, err := e.store.Synthesize(ctx, cluster); err != nil {
			e.logger.Warn("cluster synthesis failed",
				zap.Int("size", len(cluster)), zap.Error(err))
			res.Skipped += len(cluster)
			continue
		}
		res.Processed += len(cluster)
	}
}

// weakenDecayed lowers the importance of decaying records and archives those
// that fall below the floor.
func (e *Executor) weakenDecayed(ctx context.Context, p *Prediction, _ float64, res *Result) {
	for _, rec := range p.Records {
		importance, err := e.store.Weaken(ctx, rec.ID, e.cfg.WeakenStep)
		if err != nil {
			e.skip(rec.ID, err, res)
			continue
		}
		if importance < e.cfg.ArchiveFloor {
			if err := e.store.Archive(ctx, rec.ID); err != nil {
				e.skip(rec.ID, err, res)
				continue
			}
		}
		res.Processed++
		res.Weakened++
	}
}

func (e *Executor) skip(id string, err error, res *Result) {
	res.Skipped++
	e.logger.Warn("record skipped in batch", zap.String("id", id), zap.Error(err))
}

package consolidation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LifecycleConfig tunes the periodic archive/strengthen/evolve/associate sweep.
type LifecycleConfig struct {
	ArchiveMaxImportance  float64
	ArchiveMaxAccess      int
	ArchiveMinAge         time.Duration
	StrengthMinImportance float64
	ImportanceStep        float64
	EvolveMinImportance   float64
	EvolveGap             float64
	MaxAssociations       int // cap on new edges per sweep
	ScanLimit             int
}

// DefaultLifecycleConfig returns the standard sweep tuning.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		ArchiveMaxImportance:  0.25,
		ArchiveMaxAccess:      2,
		ArchiveMinAge:         72 * time.Hour,
		StrengthMinImportance: 0.7,
		ImportanceStep:        0.05,
		EvolveMinImportance:   0.4,
		EvolveGap:             0.2,
		MaxAssociations:       20,
		ScanLimit:             100,
	}
}

// SweepResult counts the changes one lifecycle pass made.
type SweepResult struct {
	Archived     int `json:"archived"`
	Strengthened int `json:"strengthened"`
	Evolved      int `json:"evolved"`
	Associated   int `json:"associated"`
	Failures     int `json:"failures"`
}

// Changed reports whether the sweep mutated anything.
func (r *SweepResult) Changed() bool {
	return r.Archived+r.Strengthened+r.Evolved+r.Associated > 0
}

// Lifecycle runs the periodic memory maintenance sweep, independent of the
// consolidation engine's cadence. Every sub-operation is idempotent:
// re-running a sweep with unchanged inputs changes nothing, because each
// scan's selection condition is falsified by its own mutation.
type Lifecycle struct {
	store  Store
	cfg    LifecycleConfig
	logger *zap.Logger
}

// NewLifecycle creates a lifecycle manager over the given store.
func NewLifecycle(store Store, cfg LifecycleConfig, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{store: store, cfg: cfg, logger: logger}
}

// Sweep runs all four sub-operations. Per-record failures are logged,
// counted, and skipped; a sub-operation whose scan fails is skipped whole.
func (l *Lifecycle) Sweep(ctx context.Context, globalLevel float64) (*SweepResult, error) {
	res := &SweepResult{}
	l.archiveStale(ctx, res)
	l.strengthenImportant(ctx, globalLevel, res)
	l.evolveWithConsciousness(ctx, globalLevel, res)
	l.associatePeers(ctx, res)

	l.logger.Info("lifecycle sweep complete",
		zap.Int("archived", res.Archived),
		zap.Int("strengthened", res.Strengthened),
		zap.Int("evolved", res.Evolved),
		zap.Int("associated", res.Associated),
		zap.Int("failures", res.Failures))
	return res, nil
}

// archiveStale soft-deletes old, unimportant, rarely accessed records. They
// drop out of retrieval but are never destroyed.
func (l *Lifecycle) archiveStale(ctx context.Context, res *SweepResult) {
	records, err := l.store.ArchiveCandidates(ctx,
		l.cfg.ArchiveMaxImportance, l.cfg.ArchiveMaxAccess, l.cfg.ArchiveMinAge, l.cfg.ScanLimit)
	if err != nil {
		l.logger.Warn("archive scan failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		if err := l.store.Archive(ctx, rec.ID); err != nil {
			res.Failures++
			l.logger.Warn("archive failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		res.Archived++
	}
}

// strengthenImportant raises high-importance records to the global level and
// applies the fixed importance step.
func (l *Lifecycle) strengthenImportant(ctx context.Context, globalLevel float64, res *SweepResult) {
	records, err := l.store.StrongTrailing(ctx, l.cfg.StrengthMinImportance, globalLevel, l.cfg.ScanLimit)
	if err != nil {
		l.logger.Warn("strengthen scan failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		if _, err := l.store.Evolve(ctx, rec.ID, globalLevel-rec.ConsciousnessLevel, "lifecycle:strengthen"); err != nil {
			res.Failures++
			l.logger.Warn("strengthen failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if err := l.store.BoostImportance(ctx, rec.ID, l.cfg.ImportanceStep); err != nil {
			res.Failures++
			continue
		}
		res.Strengthened++
	}
}

// evolveWithConsciousness closes the gap for mid/high importance records
// lagging the global level by more than the configured gap.
func (l *Lifecycle) evolveWithConsciousness(ctx context.Context, globalLevel float64, res *SweepResult) {
	records, err := l.store.Trailing(ctx, globalLevel, l.cfg.EvolveGap, l.cfg.EvolveMinImportance, l.cfg.ScanLimit)
	if err != nil {
		l.logger.Warn("evolve scan failed", zap.Error(err))
		return
	}
	for _, rec := range records {
		// Skip records already handled by the strengthen pass.
		if rec.Importance >= l.cfg.StrengthMinImportance {
			continue
		}
		if _, err := l.store.Evolve(ctx, rec.ID, globalLevel-rec.ConsciousnessLevel, "lifecycle:evolve"); err != nil {
			res.Failures++
			l.logger.Warn("evolve failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		res.Evolved++
	}
}

// associatePeers links same-type high-importance pairs that lack an edge,
// capped per sweep to bound write amplification.
func (l *Lifecycle) associatePeers(ctx context.Context, res *SweepResult) {
	pairs, err := l.store.UnlinkedPairs(ctx, l.cfg.StrengthMinImportance, l.cfg.MaxAssociations)
	if err != nil {
		l.logger.Warn("associate scan failed", zap.Error(err))
		return
	}
	for _, pair := range pairs {
		if res.Associated >= l.cfg.MaxAssociations {
			break
		}
		created, err := l.store.Associate(ctx, pair[0].ID, pair[1].ID, 0.5)
		if err != nil {
			res.Failures++
			l.logger.Warn("associate failed",
				zap.String("a", pair[0].ID), zap.String("b", pair[1].ID), zap.Error(err))
			continue
		}
		if created {
			res.Associated++
		}
	}
}

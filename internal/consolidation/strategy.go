package consolidation

import (
	"context"
	"time"

	"github.com/nidhogg/noosphere/internal/memory"
)

// Strategy is the closed set of consolidation strategies. String tags from
// external callers are parsed once at the boundary; unknown tags dispatch to
// a no-op handler rather than failing.
type Strategy uint8

const (
	StrategyUnknown Strategy = iota
	// StrategyConsciousness evolves records toward the current global level.
	StrategyConsciousness
	// StrategyPerformance weakens decaying records and archives the fully decayed.
	StrategyPerformance
	// StrategyPattern merges clusters of near-duplicate records.
	StrategyPattern
	// StrategyCrossAgent links broadly relevant records to similar same-type peers.
	StrategyCrossAgent
	// StrategyEmotional boosts importance in proportion to emotional intensity.
	StrategyEmotional
	// StrategyTemporal synthesizes one record from a temporal cluster.
	StrategyTemporal
	// StrategyAdaptive picks whichever strategy has the best rolling outcome.
	StrategyAdaptive
)

var strategyNames = map[Strategy]string{
	StrategyUnknown:       "unknown",
	StrategyConsciousness: "consciousness_aware",
	StrategyPerformance:   "performance",
	StrategyPattern:       "pattern",
	StrategyCrossAgent:    "cross_agent_relevance",
	StrategyEmotional:     "emotional_significance",
	StrategyTemporal:      "temporal_pattern",
	StrategyAdaptive:      "adaptive",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStrategy maps a strategy tag to its enum value, StrategyUnknown for
// anything unrecognized.
func ParseStrategy(tag string) Strategy {
	for s, name := range strategyNames {
		if name == tag {
			return s
		}
	}
	return StrategyUnknown
}

// MarshalJSON renders the strategy as its tag.
func (s Strategy) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Store is the slice of the memory repository the consolidation engine and
// lifecycle sweep depend on. *memory.Repository satisfies it.
type Store interface {
	Get(ctx context.Context, id string) (*memory.Record, error)
	Evolve(ctx context.Context, id string, delta float64, cause string) (*memory.Record, error)
	BoostImportance(ctx context.Context, id string, amount float64) error
	Weaken(ctx context.Context, id string, amount float64) (float64, error)
	Archive(ctx context.Context, id string) error
	Associate(ctx context.Context, a, b string, strength float64) (bool, error)
	SimilarTo(ctx context.Context, id string, topK int, minScore float64) ([]memory.Neighbor, error)
	Synthesize(ctx context.Context, cluster []*memory.Record) (*memory.Record, error)

	Trailing(ctx context.Context, level, gap, minImportance float64, limit int) ([]*memory.Record, error)
	Decayed(ctx context.Context, maxImportance float64, maxAccess, limit int) ([]*memory.Record, error)
	BroadlyRelevant(ctx context.Context, minRelevance float64, limit int) ([]*memory.Record, error)
	SimilarClusters(ctx context.Context, minScore float64, maxClusters int) ([][]*memory.Record, error)
	ArchiveCandidates(ctx context.Context, maxImportance float64, maxAccess int, minAge time.Duration, limit int) ([]*memory.Record, error)
	StrongTrailing(ctx context.Context, minImportance, level float64, limit int) ([]*memory.Record, error)
	UnlinkedPairs(ctx context.Context, minImportance float64, limit int) ([][2]*memory.Record, error)
}

// Config tunes the predictor and executor.
type Config struct {
	MaxPredictions      int
	ScanLimit           int
	TrailingGap         float64
	DecayMaxImportance  float64
	DecayMaxAccess      int
	SimilarityThreshold float64
	RelevanceThreshold  float64
	HistoryWindow       int
	AssociationTopK     int
	EvolveStep          float64 // max per-batch level movement toward global
	WeakenStep          float64
	ArchiveFloor        float64 // importance below which weakened records archive
	EmotionalGain       float64 // importance boost per unit emotional intensity
}

// DefaultConfig returns the standard consolidation tuning.
func DefaultConfig() Config {
	return Config{
		MaxPredictions:      10,
		ScanLimit:           50,
		TrailingGap:         0.2,
		DecayMaxImportance:  0.3,
		DecayMaxAccess:      2,
		SimilarityThreshold: 0.85,
		RelevanceThreshold:  0.7,
		HistoryWindow:       100,
		AssociationTopK:     3,
		EvolveStep:          0.1,
		WeakenStep:          0.1,
		ArchiveFloor:        0.05,
		EmotionalGain:       0.2,
	}
}

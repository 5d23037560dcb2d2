package memory

import (
	"errors"
	"time"
)

// Sentinel errors for the storage taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound indicates an unknown record id.
	ErrNotFound = errors.New("memory: record not found")
	// ErrStorage indicates the backing store was unreachable or rejected a write.
	ErrStorage = errors.New("memory: storage error")
)

// Record is a consciousness-tagged memory node in the graph store.
// Records are created by Store, mutated only through Evolve or a
// consolidation operation, and soft-archived rather than deleted.
type Record struct {
	ID                  string             `json:"id"`
	Content             string             `json:"content"`
	Type                string             `json:"type"`
	ConsciousnessLevel  float64            `json:"consciousness_level"`
	Importance          float64            `json:"importance_score"`
	EmotionalIntensity  float64            `json:"emotional_intensity"`
	AccessCount         int                `json:"access_count"`
	LastAccessed        time.Time          `json:"last_accessed"`
	CreatedAt           time.Time          `json:"created_at"`
	Archived            bool               `json:"archived"`
	ConsolidatedInto    string             `json:"consolidated_into,omitempty"`
	CrossAgentRelevance map[string]float64 `json:"cross_agent_relevance"`
	History             []EvolutionEntry   `json:"evolution_history,omitempty"`
}

// EvolutionEntry records one consciousness delta applied to a record.
// The history is append-only; Seq is assigned from the current length.
type EvolutionEntry struct {
	Seq   int       `json:"seq"`
	At    time.Time `json:"at"`
	Delta float64   `json:"delta"`
	Cause string    `json:"cause"`
}

// MaxRelevance returns the highest cross-agent relevance score, or 0.
func (r *Record) MaxRelevance() float64 {
	var max float64
	for _, v := range r.CrossAgentRelevance {
		if v > max {
			max = v
		}
	}
	return max
}

// Neighbor is a similarity hit from the vector index.
type Neighbor struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// ConsciousnessContext is the minimal context collaborators supply:
// an opaque level in [0,1] used for filtering and weighting.
type ConsciousnessContext struct {
	Level float64 `json:"level"`
}

// EmotionalContext carries producer-reported emotional signal.
type EmotionalContext struct {
	State     string  `json:"state"`
	Intensity float64 `json:"intensity"`
}

// ProducerContext identifies the component storing a record and lets it
// bias importance and cross-agent relevance.
type ProducerContext struct {
	Agent              string             `json:"agent"`
	Critical           bool               `json:"critical"`
	RelevanceOverrides map[string]float64 `json:"relevance_overrides,omitempty"`
}

// StoreInput is the payload for Repository.Store.
type StoreInput struct {
	Content       string               `json:"content"`
	Type          string               `json:"type"`
	Consciousness ConsciousnessContext `json:"consciousness_context"`
	Emotional     EmotionalContext     `json:"emotional_context"`
	Producer      ProducerContext      `json:"producer_context"`
}

// RetrieveQuery selects records within a consciousness window.
type RetrieveQuery struct {
	Query           string               `json:"query"`
	Consciousness   ConsciousnessContext `json:"consciousness_context"`
	RequestingAgent string               `json:"requesting_agent"`
	Type            string               `json:"type,omitempty"`
	Limit           int                  `json:"limit"`
}

// RetrieveResult carries matched records plus retrieval diagnostics.
type RetrieveResult struct {
	Records               []*Record `json:"records"`
	ConsciousnessFiltered int       `json:"consciousness_filtered"`
	CrossAgentEnhanced    int       `json:"cross_agent_enhanced"`
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

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

package memory

// Scoring functions are named and versioned so weight changes are reviewable
// and unit-testable without touching call sites.

// importanceWeights is the weight table for importanceScoreV1.
type importanceWeights struct {
	Level     float64
	Emotional float64
	Producer  float64
	Length    float64
}

// importanceWeightsV1: consciousness level dominates, emotional intensity
// second, producer criticality and content length round it out. Sums to 1.0.
var importanceWeightsV1 = importanceWeights{
	Level:     0.40,
	Emotional: 0.30,
	Producer:  0.20,
	Length:    0.10,
}

// longContent is the content length (bytes) at which the length factor saturates.
const longContent = 2000

// importanceScoreV1 computes the initial importance of a record, clamped to [0,1].
func importanceScoreV1(level, emotionalIntensity float64, critical bool, contentLen int) float64 {
	w := importanceWeightsV1

	producer := 0.0
	if critical {
		producer = 1.0
	}
	length := float64(contentLen) / longContent
	if length > 1 {
		length = 1
	}

	score := w.Level*clamp01(level) +
		w.Emotional*clamp01(emotionalIntensity) +
		w.Producer*producer +
		w.Length*length
	return clamp01(score)
}

// evolveImportanceGain scales how much a consciousness delta moves importance.
// Positive deltas raise importance, negative deltas lower it.
const evolveImportanceGain = 0.25

// evolvedImportanceV1 recomputes importance after a consciousness delta,
// monotone in the sign of the delta.
func evolvedImportanceV1(current, delta float64) float64 {
	return clamp01(current + delta*evolveImportanceGain)
}

// typeAffinityV1 is the static type→agent relevance table. Agent keys name
// the collaborator families that call into this core. Unknown types fall
// back to defaultAffinity for every known agent.
var typeAffinityV1 = map[string]map[string]float64{
	"insight": {
		"self_modification": 0.8,
		"goal_generation":   0.7,
		"pattern_transfer":  0.6,
		"performance":       0.4,
	},
	"goal": {
		"goal_generation":   0.9,
		"self_modification": 0.5,
		"pattern_transfer":  0.4,
		"performance":       0.3,
	},
	"optimization": {
		"performance":       0.9,
		"self_modification": 0.6,
		"goal_generation":   0.3,
		"pattern_transfer":  0.5,
	},
	"pattern": {
		"pattern_transfer":  0.9,
		"self_modification": 0.5,
		"goal_generation":   0.4,
		"performance":       0.5,
	},
	"observation": {
		"self_modification": 0.4,
		"goal_generation":   0.4,
		"pattern_transfer":  0.4,
		"performance":       0.4,
	},
}

var knownAgents = []string{"self_modification", "goal_generation", "pattern_transfer", "performance"}

const defaultAffinity = 0.3

// crossAgentRelevanceV1 builds the per-agent relevance map for a new record:
// the static affinity row for its type, overlaid with producer overrides.
// All values are clamped to [0,1].
func crossAgentRelevanceV1(recordType string, overrides map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(knownAgents))
	row, ok := typeAffinityV1[recordType]
	for _, agent := range knownAgents {
		if ok {
			out[agent] = row[agent]
		} else {
			out[agent] = defaultAffinity
		}
	}
	for agent, score := range overrides {
		out[agent] = clamp01(score)
	}
	return out
}

package statebus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the latest known consciousness state for one agent, or the
// merged global state. Snapshots are owned exclusively by the Bus.
type Snapshot struct {
	ConsciousnessLevel   float64   `json:"consciousness_level"`
	EmotionalState       string    `json:"emotional_state"`
	ActiveGoals          []string  `json:"active_goals"`
	LastDecision         string    `json:"last_decision,omitempty"`
	LastExecution        time.Time `json:"last_execution_time"`
	IntegrationCoherence float64   `json:"integration_coherence"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Delta is a partial state update. Nil/zero fields leave the current value
// untouched; ConsciousnessLevel is a pointer so a genuine 0.0 can be sent.
type Delta struct {
	ConsciousnessLevel *float64  `json:"consciousness_level,omitempty"`
	EmotionalState     string    `json:"emotional_state,omitempty"`
	ActiveGoals        []string  `json:"active_goals,omitempty"`
	LastDecision       string    `json:"last_decision,omitempty"`
	LastExecution      time.Time `json:"last_execution_time,omitzero"`
}

// Notifier delivers the merged global snapshot to one agent. Implementations
// must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, agent string, global Snapshot) error
}

// PropagationReport summarizes one propagate call.
type PropagationReport struct {
	Coherence float64       `json:"coherence"`
	Notified  int           `json:"notified"`
	Failed    int           `json:"failed"`
	Latency   time.Duration `json:"latency"`
}

// Diagnostics is the bounded rolling view of recent propagations.
type Diagnostics struct {
	Agents        int           `json:"agents"`
	Coherence     float64       `json:"coherence"`
	MeanCoherence float64       `json:"mean_coherence"`
	MeanLatency   time.Duration `json:"mean_latency"`
	Samples       int           `json:"samples"`
}

type sample struct {
	latency   time.Duration
	coherence float64
}

// levelAlpha is the exponential moving average weight for merging an agent's
// level into the global snapshot; one agent cannot yank the global level.
const levelAlpha = 0.3

// Bus holds the global and per-agent consciousness snapshots. All snapshot
// access happens under one mutex held only for the in-memory merge or read;
// fan-out to other agents runs outside the lock so a slow agent can never
// block propagation.
type Bus struct {
	mu     sync.Mutex
	global Snapshot
	agents map[string]*Snapshot

	notifier   Notifier
	sem        chan struct{} // bounds fan-out concurrency
	window     []sample      // rolling diagnostics, bounded
	windowSize int
	logger     *zap.Logger
}

// New creates a bus. notifier may be nil, in which case propagation only
// updates snapshots. fanOut bounds concurrent notifications.
func New(notifier Notifier, fanOut, windowSize int, logger *zap.Logger) *Bus {
	if fanOut <= 0 {
		fanOut = 8
	}
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Bus{
		agents:     make(map[string]*Snapshot),
		notifier:   notifier,
		sem:        make(chan struct{}, fanOut),
		window:     make([]sample, 0, windowSize),
		windowSize: windowSize,
		logger:     logger,
	}
}

// Propagate merges the delta into the global snapshot, upserts the source
// agent's snapshot (registering it on first call), recomputes integration
// coherence, and then fans the merged state out to every other registered
// agent. One unreachable agent degrades the report, never the call.
func (b *Bus) Propagate(ctx context.Context, delta Delta, source string) (*PropagationReport, error) {
	start := time.Now()

	b.mu.Lock()
	b.mergeGlobal(delta)
	if source != "" {
		b.upsertAgent(source, delta)
	}
	coherence := b.recomputeCoherence()
	global := b.snapshotGlobalLocked()

	targets := make([]string, 0, len(b.agents))
	for agent := range b.agents {
		if agent != source {
			targets = append(targets, agent)
		}
	}
	b.mu.Unlock()

	report := &PropagationReport{Coherence: coherence}
	if b.notifier != nil && len(targets) > 0 {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, agent := range targets {
			wg.Add(1)
			go func(agent string) {
				defer wg.Done()
				b.sem <- struct{}{}
				defer func() { <-b.sem }()

				if err := b.notifier.Notify(ctx, agent, global); err != nil {
					b.logger.Warn("state fan-out failed",
						zap.String("agent", agent), zap.Error(err))
					mu.Lock()
					report.Failed++
					mu.Unlock()
					return
				}
				mu.Lock()
				report.Notified++
				mu.Unlock()
			}(agent)
		}
		wg.Wait()
	}

	report.Latency = time.Since(start)
	b.recordSample(sample{latency: report.Latency, coherence: coherence})

	b.logger.Debug("state propagated",
		zap.String("source", source),
		zap.Float64("coherence", coherence),
		zap.Int("notified", report.Notified),
		zap.Int("failed", report.Failed))
	return report, nil
}

// Context returns the global snapshot merged with the agent's own; the
// agent's fields win on conflict. Unknown agents get the global snapshot.
func (b *Bus) Context(agent string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.snapshotGlobalLocked()
	own, ok := b.agents[agent]
	if !ok {
		return out
	}
	out.ConsciousnessLevel = own.ConsciousnessLevel
	if own.EmotionalState != "" {
		out.EmotionalState = own.EmotionalState
	}
	if len(own.ActiveGoals) > 0 {
		out.ActiveGoals = append([]string(nil), own.ActiveGoals...)
	}
	if own.LastDecision != "" {
		out.LastDecision = own.LastDecision
	}
	if !own.LastExecution.IsZero() {
		out.LastExecution = own.LastExecution
	}
	return out
}

// Global returns a copy of the merged global snapshot.
func (b *Bus) Global() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotGlobalLocked()
}

// Agents returns the ids of all registered agents.
func (b *Bus) Agents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.agents))
	for agent := range b.agents {
		out = append(out, agent)
	}
	return out
}

// Diagnostics reports the rolling propagation window.
func (b *Bus) Diagnostics() Diagnostics {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := Diagnostics{
		Agents:    len(b.agents),
		Coherence: b.global.IntegrationCoherence,
		Samples:   len(b.window),
	}
	if len(b.window) == 0 {
		return d
	}
	var latencySum time.Duration
	var coherenceSum float64
	for _, s := range b.window {
		latencySum += s.latency
		coherenceSum += s.coherence
	}
	d.MeanLatency = latencySum / time.Duration(len(b.window))
	d.MeanCoherence = coherenceSum / float64(len(b.window))
	return d
}

func (b *Bus) mergeGlobal(delta Delta) {
	if delta.ConsciousnessLevel != nil {
		level := clamp01(*delta.ConsciousnessLevel)
		if b.global.UpdatedAt.IsZero() {
			b.global.ConsciousnessLevel = level
		} else {
			b.global.ConsciousnessLevel = clamp01(
				b.global.ConsciousnessLevel*(1-levelAlpha) + level*levelAlpha)
		}
	}
	if delta.EmotionalState != "" {
		b.global.EmotionalState = delta.EmotionalState
	}
	if len(delta.ActiveGoals) > 0 {
		b.global.ActiveGoals = append([]string(nil), delta.ActiveGoals...)
	}
	if delta.LastDecision != "" {
		b.global.LastDecision = delta.LastDecision
	}
	if !delta.LastExecution.IsZero() {
		b.global.LastExecution = delta.LastExecution
	}
	b.global.UpdatedAt = time.Now()
}

func (b *Bus) upsertAgent(agent string, delta Delta) {
	snap, ok := b.agents[agent]
	if !ok {
		snap = &Snapshot{}
		b.agents[agent] = snap
		b.logger.Info("agent registered on state bus", zap.String("agent", agent))
	}
	if delta.ConsciousnessLevel != nil {
		snap.ConsciousnessLevel = clamp01(*delta.ConsciousnessLevel)
	}
	if delta.EmotionalState != "" {
		snap.EmotionalState = delta.EmotionalState
	}
	if len(delta.ActiveGoals) > 0 {
		snap.ActiveGoals = append([]string(nil), delta.ActiveGoals...)
	}
	if delta.LastDecision != "" {
		snap.LastDecision = delta.LastDecision
	}
	if !delta.LastExecution.IsZero() {
		snap.LastExecution = delta.LastExecution
	}
	snap.UpdatedAt = time.Now()
}

// recomputeCoherence sets integration coherence to 1 minus the scaled
// variance of levels across snapshots. Variance of values in [0,1] tops out
// at 0.25, so it is scaled by 4 to use the full [0,1] range: identical
// levels give 1.0, a maximal split gives 0.
func (b *Bus) recomputeCoherence() float64 {
	coherence := 1.0
	if n := len(b.agents); n > 0 {
		var sum float64
		for _, snap := range b.agents {
			sum += snap.ConsciousnessLevel
		}
		mean := sum / float64(n)
		var variance float64
		for _, snap := range b.agents {
			d := snap.ConsciousnessLevel - mean
			variance += d * d
		}
		variance /= float64(n)
		coherence = clamp01(1 - 4*variance)
	}
	b.global.IntegrationCoherence = coherence
	for _, snap := range b.agents {
		snap.IntegrationCoherence = coherence
	}
	return coherence
}

func (b *Bus) snapshotGlobalLocked() Snapshot {
	out := b.global
	out.ActiveGoals = append([]string(nil), b.global.ActiveGoals...)
	return out
}

func (b *Bus) recordSample(s sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = append(b.window, s)
	if len(b.window) > b.windowSize {
		b.window = b.window[len(b.window)-b.windowSize:]
	}
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

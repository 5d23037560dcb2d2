// Package collective coordinates multi-agent decisions: it solicits
// perspectives, computes consensus, settles an outcome, and records the
// decision immutably.
package collective

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/noosphere/internal/announce"
	"github.com/nidhogg/noosphere/internal/statebus"
)

// Outcome values produced by the consensus policy.
const (
	OutcomeProceed = "proceed"
	OutcomeCaution = "proceed_with_caution"
	OutcomeDefer   = "defer"
)

// Consensus policy thresholds and the fixed deferral confidence.
const (
	defaultProceedThreshold = 0.8
	defaultCautionThreshold = 0.6
	cautionDiscount         = 0.8
	deferConfidence         = 0.3
)

// Perspective is one agent's answer to a decision request.
type Perspective struct {
	Agent          string  `json:"agent"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Source produces one agent's perspective on a decision topic.
type Source interface {
	Agent() string
	Perspective(ctx context.Context, topic string, decisionCtx map[string]string) (*Perspective, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	Name string
	Fn   func(ctx context.Context, topic string, decisionCtx map[string]string) (*Perspective, error)
}

func (s SourceFunc) Agent() string { return s.Name }

func (s SourceFunc) Perspective(ctx context.Context, topic string, decisionCtx map[string]string) (*Perspective, error) {
	return s.Fn(ctx, topic, decisionCtx)
}

// Decision is the immutable record of one coordinated decision. It is
// written once at creation and never mutated afterwards.
type Decision struct {
	ID             string            `json:"id"`
	Topic          string            `json:"topic"`
	Participants   []string          `json:"participants"`
	Responded      []string          `json:"responded"`
	ConsensusLevel float64           `json:"consensus_level"`
	Outcome        string            `json:"outcome"`
	Confidence     float64           `json:"confidence"`
	ReasoningChain []string          `json:"reasoning_chain"`
	Context        map[string]string `json:"context,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// DecisionStore persists decisions. Optional.
type DecisionStore interface {
	Save(ctx context.Context, d *Decision) error
}

// Config tunes the coordinator.
type Config struct {
	ProceedThreshold float64
	CautionThreshold float64
	SolicitTimeout   time.Duration
	MaxConcurrent    int
}

// DefaultConfig returns the standard consensus policy tuning.
func DefaultConfig() Config {
	return Config{
		ProceedThreshold: defaultProceedThreshold,
		CautionThreshold: defaultCautionThreshold,
		SolicitTimeout:   5 * time.Second,
		MaxConcurrent:    8,
	}
}

// Coordinator solicits perspectives from registered sources, settles an
// outcome, and publishes it. Sources are consulted concurrently with a
// per-source timeout; a silent or failing source simply does not respond.
type Coordinator struct {
	mu      sync.RWMutex
	sources map[string]Source

	cfg        Config
	store      DecisionStore
	bus        *statebus.Bus
	announcers []announce.Announcer
	logger     *zap.Logger
}

// NewCoordinator creates a coordinator. store and bus may be nil;
// announcers may be empty.
func NewCoordinator(cfg Config, store DecisionStore, bus *statebus.Bus, announcers []announce.Announcer, logger *zap.Logger) *Coordinator {
	if cfg.ProceedThreshold == 0 {
		cfg.ProceedThreshold = defaultProceedThreshold
	}
	if cfg.CautionThreshold == 0 {
		cfg.CautionThreshold = defaultCautionThreshold
	}
	if cfg.SolicitTimeout <= 0 {
		cfg.SolicitTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Coordinator{
		sources:    make(map[string]Source),
		cfg:        cfg,
		store:      store,
		bus:        bus,
		announcers: announcers,
		logger:     logger,
	}
}

// Register adds a perspective source, replacing any source with the same
// agent name.
func (c *Coordinator) Register(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[src.Agent()] = src
}

// Decide solicits all registered sources on the topic, computes consensus as
// the mean confidence of the respondents, applies the outcome policy, and
// records the decision. With zero respondents the decision defers with
// confidence 0. Persistence, propagation, and announcement failures degrade
// the call but never fail it; the decision is always returned.
func (c *Coordinator) Decide(ctx context.Context, topic string, decisionCtx map[string]string) (*Decision, error) {
	c.mu.RLock()
	sources := make([]Source, 0, len(c.sources))
	for _, src := range c.sources {
		sources = append(sources, src)
	}
	c.mu.RUnlock()

	perspectives := c.solicit(ctx, topic, decisionCtx, sources)

	d := &Decision{
		ID:        uuid.NewString(),
		Topic:     topic,
		Context:   decisionCtx,
		CreatedAt: time.Now(),
	}
	for _, src := range sources {
		d.Participants = append(d.Participants, src.Agent())
	}
	sort.Strings(d.Participants)

	var sum float64
	for _, p := range perspectives {
		d.Responded = append(d.Responded, p.Agent)
		d.ReasoningChain = append(d.ReasoningChain, p.Agent+": "+p.Reasoning)
		sum += p.Confidence
	}
	sort.Strings(d.Responded)

	if len(perspectives) == 0 {
		d.Outcome = OutcomeDefer
		d.ConsensusLevel = 0
		d.Confidence = 0
	} else {
		d.ConsensusLevel = sum / float64(len(perspectives))
		switch {
		case d.ConsensusLevel >= c.cfg.ProceedThreshold:
			d.Outcome = OutcomeProceed
			d.Confidence = d.ConsensusLevel
		case d.ConsensusLevel >= c.cfg.CautionThreshold:
			d.Outcome = OutcomeCaution
			d.Confidence = d.ConsensusLevel * cautionDiscount
		default:
			d.Outcome = OutcomeDefer
			d.Confidence = deferConfidence
		}
	}

	c.logger.Info("collective decision settled",
		zap.String("id", d.ID),
		zap.String("topic", topic),
		zap.String("outcome", d.Outcome),
		zap.Float64("consensus", d.ConsensusLevel),
		zap.Int("responded", len(d.Responded)),
		zap.Int("solicited", len(d.Participants)))

	if c.store != nil {
		if err := c.store.Save(ctx, d); err != nil {
			c.logger.Warn("decision persistence failed", zap.String("id", d.ID), zap.Error(err))
		}
	}
	c.publish(ctx, d)
	return d, nil
}

// solicit consults every source concurrently, bounded by MaxConcurrent, with
// a per-source timeout. Failures and timeouts are logged and dropped.
func (c *Coordinator) solicit(ctx context.Context, topic string, decisionCtx map[string]string, sources []Source) []*Perspective {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []*Perspective
	)
	sem := make(chan struct{}, c.cfg.MaxConcurrent)

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			srcCtx, cancel := context.WithTimeout(ctx, c.cfg.SolicitTimeout)
			defer cancel()

			p, err := src.Perspective(srcCtx, topic, decisionCtx)
			if err != nil {
				c.logger.Warn("perspective solicitation failed",
					zap.String("agent", src.Agent()), zap.Error(err))
				return
			}
			if p == nil {
				return
			}
			p.Agent = src.Agent()
			p.Confidence = clamp01(p.Confidence)
			mu.Lock()
			out = append(out, p)
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return out
}

// publish pushes the settled outcome onto the state bus and fans it out to
// all announcers. Both are best-effort. The empty source keeps the
// coordinator off the agent roster: the outcome merges into the global
// snapshot and reaches every agent without registering a phantom one.
func (c *Coordinator) publish(ctx context.Context, d *Decision) {
	if c.bus != nil {
		delta := statebus.Delta{
			LastDecision:  d.Outcome + ": " + d.Topic,
			LastExecution: d.CreatedAt,
		}
		if _, err := c.bus.Propagate(ctx, delta, ""); err != nil {
			c.logger.Warn("decision propagation failed", zap.String("id", d.ID), zap.Error(err))
		}
	}

	if len(c.announcers) == 0 {
		return
	}
	ev := announce.Event{
		Title:      d.Topic,
		Outcome:    d.Outcome,
		Confidence: d.Confidence,
		Consensus:  d.ConsensusLevel,
		Agents:     d.Responded,
		Reasoning:  d.ReasoningChain,
	}
	for _, a := range c.announcers {
		if err := a.Announce(ctx, ev); err != nil {
			c.logger.Warn("decision announcement failed",
				zap.String("platform", a.Platform()), zap.Error(err))
		}
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

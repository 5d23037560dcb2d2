package consolidation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// AuditLog records acted-upon predictions and their outcomes. Optional.
type AuditLog interface {
	RecordRun(ctx context.Context, p *Prediction, res *Result) error
}

// Engine owns the predictor and executor and serializes them: the predictor
// never observes the store while a batch is in flight.
type Engine struct {
	mu        sync.Mutex
	predictor *Predictor
	executor  *Executor
	audit     AuditLog
	logger    *zap.Logger
}

// NewEngine builds an engine over the given store. audit may be nil.
func NewEngine(store Store, cfg Config, audit AuditLog, logger *zap.Logger) *Engine {
	return &Engine{
		predictor: NewPredictor(store, cfg, logger),
		executor:  NewExecutor(store, cfg, logger),
		audit:     audit,
		logger:    logger,
	}
}

// Predict proposes ranked opportunities without executing any.
func (e *Engine) Predict(ctx context.Context, globalLevel float64) ([]*Prediction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictor.Predict(ctx, globalLevel)
}

// RunOnce predicts opportunities and executes the top one if its
// benefit×confidence clears the threshold. The second return reports
// whether a batch actually ran.
func (e *Engine) RunOnce(ctx context.Context, globalLevel, threshold float64) (*Result, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	predictions, err := e.predictor.Predict(ctx, globalLevel)
	if err != nil {
		return nil, false, err
	}
	if len(predictions) == 0 {
		return nil, false, nil
	}
	top := predictions[0]
	if top.Score() < threshold {
		e.logger.Debug("top opportunity below execute threshold",
			zap.String("strategy", top.Strategy.String()),
			zap.Float64("score", top.Score()),
			zap.Float64("threshold", threshold))
		return nil, false, nil
	}

	res, err := e.executor.Execute(ctx, top, globalLevel)
	if err != nil && !errors.Is(err, ErrNoProgress) {
		return res, true, err
	}

	if e.audit != nil {
		if auditErr := e.audit.RecordRun(ctx, top, res); auditErr != nil {
			e.logger.Warn("audit trail write failed", zap.Error(auditErr))
		}
	}
	return res, true, err
}

// Execute runs a specific prediction, bypassing the threshold gate. Used by
// collaborators that assemble their own batches.
func (e *Engine) Execute(ctx context.Context, p *Prediction, globalLevel float64) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executor.Execute(ctx, p, globalLevel)
}

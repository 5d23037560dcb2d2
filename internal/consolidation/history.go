package consolidation

import "sync"

// strategyHistory keeps a bounded ring of outcome qualities per strategy,
// backing the adaptive strategy's choice. The window is bounded so a
// long-lived process never accumulates unbounded history.
type strategyHistory struct {
	mu     sync.Mutex
	window int
	runs   map[Strategy][]float64
}

func newStrategyHistory(window int) *strategyHistory {
	if window <= 0 {
		window = 100
	}
	return &strategyHistory{
		window: window,
		runs:   make(map[Strategy][]float64),
	}
}

// record appends one run's quality, evicting the oldest beyond the window.
func (h *strategyHistory) record(s Strategy, quality float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	runs := append(h.runs[s], quality)
	if len(runs) > h.window {
		runs = runs[len(runs)-h.window:]
	}
	h.runs[s] = runs
}

// best returns the strategy with the highest rolling mean quality.
// The second return is false when no runs have been recorded yet.
func (h *strategyHistory) best() (Strategy, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		bestStrategy Strategy
		bestMean     = -1.0
	)
	for s, runs := range h.runs {
		if len(runs) == 0 {
			continue
		}
		var sum float64
		for _, q := range runs {
			sum += q
		}
		if mean := sum / float64(len(runs)); mean > bestMean {
			bestMean = mean
			bestStrategy = s
		}
	}
	return bestStrategy, bestMean >= 0
}

// count returns how many runs are recorded for a strategy.
func (h *strategyHistory) count(s Strategy) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs[s])
}

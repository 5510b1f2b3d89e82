// Package feedback implements spec §4.O: it holds the registry of
// in-flight TradeIntents, correlates ExecutionReceipts against them, and
// maintains the running ModelPerformance scorecard the orchestrator uses
// to judge how well the simulator's predictions track reality.
package feedback

import (
	"fmt"
	"sync"

	"qenus"
)

// weights combine hit rate and PnL-prediction accuracy into a single
// accuracy score, per §4.O step 5. Only the relative ordering matters;
// these favor hit rate slightly over PnL-error since a wrong-direction
// trade is worse than a right-direction trade priced off by a few percent.
const (
	hitRateWeight = 0.6
	pnlAccuracyWeight = 0.4
)

// Processor is the long-lived singleton, owned by the orchestrator, that
// registers outstanding intents and scores receipts against them.
type Processor struct {
	mu          sync.Mutex
	outstanding map[string]qenus.TradeIntent
	performance qenus.ModelPerformance
	missedCount uint64
}

// New creates an empty feedback processor.
func New() *Processor {
	return &Processor{outstanding: make(map[string]qenus.TradeIntent)}
}

// RegisterIntent records an intent the orchestrator has handed to the
// external executor, so a later receipt can be correlated back to it.
func (p *Processor) RegisterIntent(intent qenus.TradeIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstanding[intent.IntentID] = intent
}

// ProcessFeedback correlates receipt with its registered intent and folds
// the outcome into the running ModelPerformance. A receipt for an unknown
// or already-processed intent is a soft failure: it increments a counter
// and returns an error, leaving the running ModelPerformance unchanged.
func (p *Processor) ProcessFeedback(receipt qenus.ExecutionReceipt) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, ok := p.outstanding[receipt.IntentID]
	if !ok {
		p.missedCount++
		return fmt.Errorf("feedback: no registered intent %q", receipt.IntentID)
	}
	delete(p.outstanding, receipt.IntentID)

	p.performance.TotalIntents++
	if receipt.Success {
		p.performance.Successful++
	}
	p.performance.HitRate = float64(p.performance.Successful) / float64(p.performance.TotalIntents)

	pctError := pnlErrorPct(intent.ExpectedPnLUSD, receipt.ActualPnLUSD)
	p.performance.AvgPnLErrorPct = runningMean(p.performance.AvgPnLErrorPct, p.performance.TotalIntents, pctError)

	accuracyFromPnL := 1 - p.performance.AvgPnLErrorPct/100
	if accuracyFromPnL < 0 {
		accuracyFromPnL = 0
	}
	p.performance.AccuracyScore = hitRateWeight*p.performance.HitRate + pnlAccuracyWeight*accuracyFromPnL

	return nil
}

// pnlErrorPct is the absolute percent error between expected and actual
// PnL, per §4.O step 4. A zero-expected-PnL intent (shouldn't occur past
// the decision engine's min_profit guard, but defends against div-by-zero)
// is scored against the magnitude of the miss instead of blowing up.
func pnlErrorPct(expected, actual float64) float64 {
	if expected == 0 {
		if actual == 0 {
			return 0
		}
		return 100
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	denom := expected
	if denom < 0 {
		denom = -denom
	}
	return diff / denom * 100
}

// runningMean folds a new observation into a running mean using the
// already-incremented total count n (so the new observation carries
// weight 1/n), avoiding the need to retain every historical sample.
func runningMean(meanSoFar float64, n uint64, observation float64) float64 {
	if n == 0 {
		return 0
	}
	return meanSoFar + (observation-meanSoFar)/float64(n)
}

// Performance returns a snapshot of the current scorecard.
func (p *Processor) Performance() qenus.ModelPerformance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.performance
}

// Outstanding returns the number of intents registered but not yet
// resolved by a receipt.
func (p *Processor) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

// MissedFeedback returns the count of receipts that arrived for an
// unregistered (or already-resolved) intent.
func (p *Processor) MissedFeedback() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.missedCount
}

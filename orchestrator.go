package qenus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Detector is a strategy-specific candidate generator scanning shared
// market state.
type Detector interface {
	Name() string
	Detect() []Candidate
}

// Simulator prices a Candidate into an EvaluationResult under one
// strategy's policy.
type Simulator interface {
	Evaluate(strategy StrategyConfig, candidate Candidate) (EvaluationResult, error)
}

// DecisionEngine turns a (Candidate, EvaluationResult) pair into a scored,
// guard-filtered TradeDecision.
type DecisionEngine interface {
	Evaluate(candidate Candidate, result EvaluationResult, strategy StrategyConfig) TradeDecision
}

// IntentBuilder converts an approved TradeDecision into a concrete
// TradeIntent.
type IntentBuilder interface {
	Build(decision TradeDecision) (TradeIntent, error)
}

// FeedbackRegistrar is the write side of the feedback loop the orchestrator
// drives: it registers outstanding intents so a later ExecutionReceipt can
// be correlated back to one. The read side (ProcessFeedback) is driven
// asynchronously by whatever receives receipts from the external executor,
// independent of the detection tick.
type FeedbackRegistrar interface {
	RegisterIntent(intent TradeIntent)
}

// Executor is the external order-execution collaborator: it consumes built
// intents and is expected to eventually produce an ExecutionReceipt fed
// back to the feedback processor's ProcessFeedback, out of band.
type Executor interface {
	Submit(ctx context.Context, intent TradeIntent) error
}

// Recorder is the audit-log collaborator (internal/persistence) the
// orchestrator writes every built intent through, if configured.
type Recorder interface {
	RecordIntent(intent TradeIntent) error
}

// StrategyLookup resolves the StrategyConfig a Candidate was detected
// under, keyed by Candidate.StrategyName.
type StrategyLookup func(strategyName string) (StrategyConfig, bool)

// Orchestrator is a thin aggregator holding handles to every long-lived
// collaborator and exposing Run/Tick, which drives the detection ->
// simulation -> decision -> intent pipeline on a fixed interval.
type Orchestrator struct {
	Detectors    []Detector
	Strategies   StrategyLookup
	Simulator    Simulator
	Decision     DecisionEngine
	Intents      IntentBuilder
	Feedback     FeedbackRegistrar
	Executor     Executor
	Recorder     Recorder // optional; nil disables audit persistence
	TopK         int
	TickInterval time.Duration

	tickMu sync.Mutex // held only while a tick is in flight; TryLock realizes the skip-not-queue rule
}

// NewOrchestrator creates an orchestrator. topK <= 0 defaults to 5; interval <= 0
// defaults to 5s.
func NewOrchestrator(topK int, interval time.Duration) *Orchestrator {
	if topK <= 0 {
		topK = 5
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Orchestrator{TopK: topK, TickInterval: interval}
}

// Run ticks the pipeline on o.TickInterval until ctx is cancelled. A tick
// still in flight when the timer fires is skipped rather than queued.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !o.tickMu.TryLock() {
				log.Warn().Msg("orchestrator: previous tick still running, skipping")
				continue
			}
			go func() {
				defer o.tickMu.Unlock()
				if err := o.Tick(ctx); err != nil {
					log.Error().Err(err).Msg("orchestrator: tick failed")
				}
			}()
		}
	}
}

// decisionPair couples a TradeDecision with the strategy it was produced
// under, so intent-building can apply strategy-specific policy without a
// second lookup.
type decisionPair struct {
	decision TradeDecision
	strategy StrategyConfig
}

// Tick executes one full pass of the pipeline: gather candidates from
// every enabled detector, simulate each concurrently, apply the decision
// engine, select the top-K approved decisions, and build+dispatch an
// intent for each. It always returns nil: per-candidate
// simulation failures and per-intent build, record and submit failures are
// logged and that candidate or intent is skipped rather than aborting the
// whole tick.
func (o *Orchestrator) Tick(ctx context.Context) error {
	candidates := o.gatherCandidates()
	if len(candidates) == 0 {
		return nil
	}

	decisions := o.evaluateConcurrently(ctx, candidates)
	approved := make([]TradeDecision, 0, len(decisions))
	for _, pair := range decisions {
		if pair.decision.ShouldExecute {
			approved = append(approved, pair.decision)
		}
	}

	selected := selectTopK(approved, o.TopK)
	for _, decision := range selected {
		intent, err := o.Intents.Build(decision)
		if err != nil {
			log.Error().Err(err).Str("strategy", decision.Candidate.StrategyName).Msg("orchestrator: build intent")
			continue
		}

		if o.Recorder != nil {
			if err := o.Recorder.RecordIntent(intent); err != nil {
				log.Error().Err(err).Str("intent_id", intent.IntentID).Msg("orchestrator: record intent")
			}
		}

		o.Feedback.RegisterIntent(intent)

		if err := o.Executor.Submit(ctx, intent); err != nil {
			log.Error().Err(err).Str("intent_id", intent.IntentID).Msg("orchestrator: submit intent")
			continue
		}
	}
	return nil
}

// selectTopK orders already-approved decisions by score, descending, and
// truncates to k. The decision engine (internal/decision) owns the guard
// filter and scoring function; the orchestrator only owns final ranking,
// kept local so the root package stays free of internal-package imports.
func selectTopK(decisions []TradeDecision, k int) []TradeDecision {
	sorted := make([]TradeDecision, len(decisions))
	copy(sorted, decisions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// gatherCandidates collects every enabled detector's candidates. A
// detector that finds nothing simply contributes none; detectors never
// return errors (a scan that cannot run finds nothing).
func (o *Orchestrator) gatherCandidates() []Candidate {
	var candidates []Candidate
	for _, d := range o.Detectors {
		found := d.Detect()
		if len(found) > 0 {
			log.Info().Str("detector", d.Name()).Int("count", len(found)).Msg("orchestrator: candidates detected")
		}
		candidates = append(candidates, found...)
	}
	return candidates
}

// evaluateConcurrently simulates every candidate in parallel (bounded by
// the errgroup's implicit goroutine-per-item fan-out) and applies the
// decision engine to each successful simulation inline, since that step is
// CPU-bound and cheap.
func (o *Orchestrator) evaluateConcurrently(ctx context.Context, candidates []Candidate) []decisionPair {
	results := make([]decisionPair, len(candidates))
	ok := make([]bool, len(candidates))

	var group errgroup.Group
	for i, candidate := range candidates {
		i, candidate := i, candidate
		strategy, found := o.Strategies(candidate.StrategyName)
		if !found {
			log.Warn().Str("strategy", candidate.StrategyName).Msg("orchestrator: unknown strategy, skipping candidate")
			continue
		}

		group.Go(func() error {
			evaluation, err := o.Simulator.Evaluate(strategy, candidate)
			if err != nil {
				log.Error().Err(err).Str("strategy", candidate.StrategyName).Str("asset", candidate.Asset).Msg("orchestrator: simulate candidate")
				return nil
			}
			decision := o.Decision.Evaluate(candidate, evaluation, strategy)
			results[i] = decisionPair{decision: decision, strategy: strategy}
			ok[i] = true
			return nil
		})
	}
	_ = group.Wait() // per-candidate errors are swallowed above; group.Wait only propagates panics via nil errors

	out := make([]decisionPair, 0, len(results))
	for i, present := range ok {
		if present {
			out = append(out, results[i])
		}
	}
	return out
}

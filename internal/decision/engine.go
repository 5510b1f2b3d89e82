// Package decision implements a guard-list risk gate and a weighted
// scoring function over (Candidate, EvaluationResult) pairs, plus top-K
// selection among the approved decisions.
package decision

import (
	"fmt"
	"sort"

	"qenus"
	"qenus/internal/market"
)

// Weights are the fixed coefficients of the decision score
// w1*net_bps + w2*success_prob - w3*gas_pct.
type Weights struct {
	NetBps      float64
	SuccessProb float64
	GasPct      float64
}

// DefaultWeights favors profitable, high-confidence, low-gas-overhead
// trades without letting any one term dominate the other two.
func DefaultWeights() Weights {
	return Weights{NetBps: 1.0, SuccessProb: 50.0, GasPct: 100.0}
}

// Engine evaluates (Candidate, EvaluationResult) pairs against a
// strategy's risk policy and produces a ranked TradeDecision.
type Engine struct {
	globalPortfolioCapUSD float64
	weights               Weights
	state                 *market.State
}

// New creates a decision engine bounded by a global portfolio cap (in
// addition to each strategy's own max_position_usd) and scored with the
// given weights.
func New(globalPortfolioCapUSD float64, weights Weights, state *market.State) *Engine {
	return &Engine{globalPortfolioCapUSD: globalPortfolioCapUSD, weights: weights, state: state}
}

// Evaluate applies the guard list to one candidate/evaluation pair and,
// if every guard passes, computes the decision's score.
func (e *Engine) Evaluate(candidate qenus.Candidate, result qenus.EvaluationResult, strategy qenus.StrategyConfig) qenus.TradeDecision {
	reasons := e.guardReasons(candidate, result, strategy)

	decision := qenus.TradeDecision{
		Candidate:     candidate,
		Evaluation:    result,
		ShouldExecute: len(reasons) == 0,
		Reasoning:     reasons,
	}
	if decision.ShouldExecute {
		decision.Score = e.score(result, strategy)
	}
	return decision
}

func (e *Engine) guardReasons(candidate qenus.Candidate, result qenus.EvaluationResult, strategy qenus.StrategyConfig) []string {
	var reasons []string

	if result.NetPnLUSD < strategy.MinProfitUSD {
		reasons = append(reasons, fmt.Sprintf("net_pnl_usd %.2f below min_profit_usd %.2f", result.NetPnLUSD, strategy.MinProfitUSD))
	}
	if result.NetBps < strategy.MinProfitBps {
		reasons = append(reasons, fmt.Sprintf("net_bps %.2f below min_profit_bps %.2f", result.NetBps, strategy.MinProfitBps))
	}
	if result.OptimalSizeUSD > strategy.MaxPositionUSD {
		reasons = append(reasons, fmt.Sprintf("optimal_size_usd %.2f exceeds max_position_usd %.2f", result.OptimalSizeUSD, strategy.MaxPositionUSD))
	}
	if e.globalPortfolioCapUSD > 0 && result.OptimalSizeUSD > e.globalPortfolioCapUSD {
		reasons = append(reasons, fmt.Sprintf("optimal_size_usd %.2f exceeds global portfolio cap %.2f", result.OptimalSizeUSD, e.globalPortfolioCapUSD))
	}

	for _, step := range result.ExecutionPath {
		if step.SlippageBps > strategy.RiskLimits.MaxSlippageBps {
			reasons = append(reasons, fmt.Sprintf("step %d slippage %.2fbps exceeds max_slippage_bps %.2f", step.Step, step.SlippageBps, strategy.RiskLimits.MaxSlippageBps))
		}
	}

	if result.NetPnLUSD > 0 && strategy.RiskLimits.MaxGasPct > 0 {
		gasPct := result.Costs.GasUSD / result.NetPnLUSD
		if gasPct > strategy.RiskLimits.MaxGasPct {
			reasons = append(reasons, fmt.Sprintf("gas_pct %.4f exceeds max_gas_pct %.4f", gasPct, strategy.RiskLimits.MaxGasPct))
		}
	}

	if result.SuccessProb < strategy.RiskLimits.MinSuccessProb {
		reasons = append(reasons, fmt.Sprintf("success_prob %.4f below min_success_prob %.4f", result.SuccessProb, strategy.RiskLimits.MinSuccessProb))
	}

	for _, leg := range candidate.Legs {
		if !e.state.SequencerHealthy(qenus.Chain(leg.Domain)) {
			reasons = append(reasons, fmt.Sprintf("domain %s has an unhealthy sequencer", leg.Domain))
		}
	}

	for _, step := range result.ExecutionPath {
		if step.Action != "bridge" {
			continue
		}
		latencySecs, ok := e.bridgeLatencySecs(candidate)
		if ok && latencySecs > strategy.RiskLimits.MaxBridgeLatencySecs {
			reasons = append(reasons, fmt.Sprintf("bridge latency %.0fs exceeds max_bridge_latency_secs %.0f", latencySecs, strategy.RiskLimits.MaxBridgeLatencySecs))
		}
	}

	return dedupe(reasons)
}

func (e *Engine) bridgeLatencySecs(candidate qenus.Candidate) (float64, bool) {
	if len(candidate.Legs) < 2 {
		return 0, false
	}
	src := qenus.Chain(candidate.Legs[0].Domain)
	dst := qenus.Chain(candidate.Legs[len(candidate.Legs)-1].Domain)
	payload, ok := e.state.Bridge(src, dst, candidate.Asset)
	if !ok {
		return 0, false
	}
	return payload.SettlementTime.Seconds(), true
}

func (e *Engine) score(result qenus.EvaluationResult, strategy qenus.StrategyConfig) float64 {
	gasPct := 0.0
	if result.NetPnLUSD > 0 {
		gasPct = result.Costs.GasUSD / result.NetPnLUSD
	}
	return e.weights.NetBps*result.NetBps + e.weights.SuccessProb*result.SuccessProb - e.weights.GasPct*gasPct
}

// SelectBest filters to approved decisions and returns the top-k by score,
// descending.
func SelectBest(decisions []qenus.TradeDecision, k int) []qenus.TradeDecision {
	var approved []qenus.TradeDecision
	for _, d := range decisions {
		if d.ShouldExecute {
			approved = append(approved, d)
		}
	}

	sort.SliceStable(approved, func(i, j int) bool { return approved[i].Score > approved[j].Score })
	if k >= 0 && len(approved) > k {
		approved = approved[:k]
	}
	return approved
}

func dedupe(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

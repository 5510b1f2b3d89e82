// Package intent implements spec §4.N: it turns an approved TradeDecision
// into a concrete, risk-bounded TradeIntent ready to hand to the external
// executor.
package intent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"qenus"
	"qenus/internal/market"
)

const (
	safetyBufferBps  = 10.0
	curveMaxFeeBps   = 10
	defaultMaxFeeBps = 30

	bridgeDeadline   = 300 * time.Second
	defaultDeadline  = 30 * time.Second

	ttlSameChainSecs  = 30
	ttlCrossChainSecs = 120

	highGasCostPct    = 30.0
	lowSuccessProbThr = 0.85
)

// Builder turns approved decisions into signed-off TradeIntents.
type Builder struct {
	state *market.State
}

// New creates an intent builder bound to the shared market state, used
// to stamp each intent's MarketSnapshot.
func New(state *market.State) *Builder {
	return &Builder{state: state}
}

// Build converts an approved TradeDecision into a TradeIntent. It returns
// an error if the decision was rejected by the decision engine.
func (b *Builder) Build(decision qenus.TradeDecision) (qenus.TradeIntent, error) {
	if !decision.ShouldExecute {
		return qenus.TradeIntent{}, fmt.Errorf("intent: cannot build intent for rejected decision")
	}

	now := time.Now()
	legs := b.buildLegs(decision, now)

	return qenus.TradeIntent{
		IntentID:       uuid.NewString(),
		Strategy:       decision.Candidate.StrategyName,
		Asset:          decision.Candidate.Asset,
		SizeUSD:        decision.Evaluation.OptimalSizeUSD,
		ExpectedPnLUSD: decision.Evaluation.NetPnLUSD,
		NetBps:         decision.Evaluation.NetBps,
		SuccessProb:    decision.Evaluation.SuccessProb,
		Legs:           legs,
		TTLSeconds:     ttlSeconds(decision.Candidate, legs),
		CreatedAt:      now,
		Metadata: qenus.TradeIntentMetadata{
			DetectedAt:     decision.Candidate.DetectedAt,
			Detector:       decision.Candidate.StrategyName,
			MarketSnapshot: b.state.Snapshot(),
			RiskFactors:    identifyRiskFactors(decision.Evaluation),
		},
	}, nil
}

func (b *Builder) buildLegs(decision qenus.TradeDecision, now time.Time) []qenus.TradeLeg {
	asset := decision.Candidate.Asset
	legs := make([]qenus.TradeLeg, 0, len(decision.Evaluation.ExecutionPath)+2)

	if decision.Evaluation.Costs.FlashLoanUSD > 0 {
		domain := domainOf(decision.Evaluation.ExecutionPath, 0)
		legs = append(legs, qenus.TradeLeg{
			Domain:   domain,
			Action:   qenus.ActionFlashLoan,
			Protocol: "aave_v3",
			AssetIn:  asset,
			AssetOut: asset,
			Deadline: now.Add(defaultDeadline),
			MaxFeeBps: defaultMaxFeeBps,
		})
	}

	for _, step := range decision.Evaluation.ExecutionPath {
		legs = append(legs, buildLeg(step, asset, now))
	}

	if decision.Evaluation.Costs.FlashLoanUSD > 0 {
		domain := domainOf(decision.Evaluation.ExecutionPath, len(decision.Evaluation.ExecutionPath)-1)
		legs = append(legs, qenus.TradeLeg{
			Domain:   domain,
			Action:   qenus.ActionFlashRepay,
			Protocol: "aave_v3",
			AssetIn:  asset,
			AssetOut: asset,
			Deadline: now.Add(defaultDeadline),
			MaxFeeBps: defaultMaxFeeBps,
		})
	}

	return legs
}

func buildLeg(step qenus.SimulatedStep, asset string, now time.Time) qenus.TradeLeg {
	action := qenus.ActionSwap
	deadline := defaultDeadline
	if containsFold(step.Action, "bridge") {
		action = qenus.ActionBridge
		deadline = bridgeDeadline
	}

	maxFeeBps := defaultMaxFeeBps
	if containsFold(step.Protocol, "curve") {
		maxFeeBps = curveMaxFeeBps
	}

	minAmountOut := step.AmountOut * (1 - (step.SlippageBps+safetyBufferBps)/10000)

	return qenus.TradeLeg{
		Domain:       qenus.Chain(step.Domain),
		Action:       action,
		Protocol:     step.Protocol,
		AssetIn:      asset,
		AssetOut:     asset,
		AmountIn:     step.AmountIn,
		MinAmountOut: minAmountOut,
		ExpectedOut:  step.AmountOut,
		MaxFeeBps:    maxFeeBps,
		Deadline:     now.Add(deadline),
	}
}

func domainOf(path []qenus.SimulatedStep, index int) qenus.Chain {
	if index < 0 || index >= len(path) {
		return qenus.ChainEthereum
	}
	return qenus.Chain(path[index].Domain)
}

func ttlSeconds(candidate qenus.Candidate, legs []qenus.TradeLeg) uint64 {
	switch candidate.StrategyName {
	case "dex_arb":
		return ttlSameChainSecs
	case "triangle_arb":
		return ttlCrossChainSecs
	}
	if crossChain(legs) {
		return ttlCrossChainSecs
	}
	return ttlSameChainSecs
}

func crossChain(legs []qenus.TradeLeg) bool {
	if len(legs) == 0 {
		return false
	}
	first := legs[0].Domain
	for _, leg := range legs {
		if leg.Domain != first {
			return true
		}
	}
	return false
}

func identifyRiskFactors(result qenus.EvaluationResult) []qenus.RiskFactor {
	var risks []qenus.RiskFactor

	gasPct := 0.0
	if result.NetPnLUSD > 0 {
		gasPct = (result.Costs.GasUSD / result.NetPnLUSD) * 100.0
	}
	if gasPct > highGasCostPct {
		risks = append(risks, qenus.RiskFactor{
			Factor:   "high_gas_cost",
			Severity: qenus.RiskMedium,
			Message:  fmt.Sprintf("gas is %.1f%% of profit", gasPct),
		})
	}

	if result.SuccessProb < lowSuccessProbThr {
		risks = append(risks, qenus.RiskFactor{
			Factor:   "low_success_prob",
			Severity: qenus.RiskLow,
			Message:  fmt.Sprintf("success probability: %.2f", result.SuccessProb),
		})
	}

	return risks
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

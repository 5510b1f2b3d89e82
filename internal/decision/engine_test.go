package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
	"qenus/internal/market"
)

func approvedStrategy() qenus.StrategyConfig {
	return qenus.StrategyConfig{
		Enabled:        true,
		MinProfitUSD:   10,
		MinProfitBps:   5,
		MaxPositionUSD: 100000,
		RiskLimits: qenus.RiskLimits{
			MaxSlippageBps:       50,
			MaxGasPct:            0.5,
			MinSuccessProb:       0.5,
			MaxBridgeLatencySecs: 600,
		},
	}
}

func goodResult() qenus.EvaluationResult {
	return qenus.EvaluationResult{
		NetPnLUSD:      500,
		NetBps:         40,
		OptimalSizeUSD: 50000,
		SuccessProb:    0.9,
		Costs:          qenus.CostBreakdown{GasUSD: 20, TotalUSD: 20},
		ExecutionPath: []qenus.SimulatedStep{
			{Step: 1, Action: "swap_buy", SlippageBps: 3},
			{Step: 2, Action: "swap_sell", SlippageBps: 3},
		},
	}
}

func candidateWithDomain(domains ...string) qenus.Candidate {
	legs := make([]qenus.CandidateLeg, len(domains))
	for i, d := range domains {
		legs[i] = qenus.CandidateLeg{Domain: d, Side: "buy"}
	}
	return qenus.Candidate{StrategyName: "dex_arb", Asset: "WETH", Legs: legs, DetectedAt: time.Now(), Confidence: 0.9}
}

func TestEvaluateApprovesWhenAllGuardsPass(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	state.Apply(qenus.Feature{Chain: qenus.ChainEthereum, Kind: qenus.FeatureSequencerHealth, Payload: true, Timestamp: time.Now()})

	engine := New(0, DefaultWeights(), state)
	decision := engine.Evaluate(candidateWithDomain(string(qenus.ChainEthereum), string(qenus.ChainEthereum)), goodResult(), approvedStrategy())

	assert.True(t, decision.ShouldExecute)
	assert.Empty(t, decision.Reasoning)
	assert.Greater(t, decision.Score, 0.0)
}

func TestEvaluateRejectsBelowMinProfit(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	state.Apply(qenus.Feature{Chain: qenus.ChainEthereum, Kind: qenus.FeatureSequencerHealth, Payload: true, Timestamp: time.Now()})

	result := goodResult()
	result.NetPnLUSD = 1
	result.NetBps = 1

	engine := New(0, DefaultWeights(), state)
	decision := engine.Evaluate(candidateWithDomain(string(qenus.ChainEthereum), string(qenus.ChainEthereum)), result, approvedStrategy())

	assert.False(t, decision.ShouldExecute)
	assert.NotEmpty(t, decision.Reasoning)
}

func TestEvaluateRejectsExceedingMaxPosition(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	state.Apply(qenus.Feature{Chain: qenus.ChainEthereum, Kind: qenus.FeatureSequencerHealth, Payload: true, Timestamp: time.Now()})

	result := goodResult()
	result.OptimalSizeUSD = 9_000_000

	engine := New(0, DefaultWeights(), state)
	decision := engine.Evaluate(candidateWithDomain(string(qenus.ChainEthereum), string(qenus.ChainEthereum)), result, approvedStrategy())

	assert.False(t, decision.ShouldExecute)
	assert.Contains(t, decision.Reasoning[0], "max_position_usd")
}

func TestEvaluateRejectsUnhealthySequencerDomain(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()

	engine := New(0, DefaultWeights(), state)
	decision := engine.Evaluate(candidateWithDomain(string(qenus.ChainEthereum), string(qenus.ChainEthereum)), goodResult(), approvedStrategy())

	assert.False(t, decision.ShouldExecute)
	found := false
	for _, r := range decision.Reasoning {
		if r == "domain ethereum has an unhealthy sequencer" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEvaluateRejectsExcessiveSlippage(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	state.Apply(qenus.Feature{Chain: qenus.ChainEthereum, Kind: qenus.FeatureSequencerHealth, Payload: true, Timestamp: time.Now()})

	result := goodResult()
	result.ExecutionPath[0].SlippageBps = 500

	engine := New(0, DefaultWeights(), state)
	decision := engine.Evaluate(candidateWithDomain(string(qenus.ChainEthereum), string(qenus.ChainEthereum)), result, approvedStrategy())

	assert.False(t, decision.ShouldExecute)
}

func TestSelectBestReturnsTopKByScoreDescending(t *testing.T) {
	low := qenus.TradeDecision{ShouldExecute: true, Score: 1}
	high := qenus.TradeDecision{ShouldExecute: true, Score: 9}
	mid := qenus.TradeDecision{ShouldExecute: true, Score: 5}
	rejected := qenus.TradeDecision{ShouldExecute: false, Score: 100}

	best := SelectBest([]qenus.TradeDecision{low, high, mid, rejected}, 2)
	require.Len(t, best, 2)
	assert.Equal(t, 9.0, best[0].Score)
	assert.Equal(t, 5.0, best[1].Score)
}

func TestSelectBestWithNegativeKReturnsAllApproved(t *testing.T) {
	best := SelectBest([]qenus.TradeDecision{
		{ShouldExecute: true, Score: 1},
		{ShouldExecute: true, Score: 2},
	}, -1)
	assert.Len(t, best, 2)
}

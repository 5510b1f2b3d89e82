package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
	"qenus/internal/market"
)

func approvedDecision(strategyName string, path []qenus.SimulatedStep) qenus.TradeDecision {
	return qenus.TradeDecision{
		ShouldExecute: true,
		Score:         1.0,
		Candidate: qenus.Candidate{
			StrategyName: strategyName,
			Asset:        "WETH",
			DetectedAt:   time.Now(),
		},
		Evaluation: qenus.EvaluationResult{
			NetPnLUSD:      50,
			NetBps:         25,
			OptimalSizeUSD: 10_000,
			SuccessProb:    0.92,
			Costs:          qenus.CostBreakdown{GasUSD: 5, TotalUSD: 10},
			ExecutionPath:  path,
		},
	}
}

func dexArbPath() []qenus.SimulatedStep {
	return []qenus.SimulatedStep{
		{Step: 0, Action: "swap_buy", Domain: "ethereum", Protocol: "uniswap_v3", AmountIn: 10_000, AmountOut: 10_050, SlippageBps: 5},
		{Step: 1, Action: "swap_sell", Domain: "ethereum", Protocol: "curve", AmountIn: 10_050, AmountOut: 10_100, SlippageBps: 5},
	}
}

func TestBuildRejectsDisapprovedDecision(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())
	decision.ShouldExecute = false

	_, err := builder.Build(decision)
	require.Error(t, err)
}

func TestBuildProducesOneLegPerExecutionStep(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	assert.Len(t, intent.Legs, 2)
	assert.NotEmpty(t, intent.IntentID)
	assert.Equal(t, "dex_arb", intent.Strategy)
	assert.Equal(t, 10_000.0, intent.SizeUSD)
}

func TestBuildAppliesSafetyBufferToMinAmountOut(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())

	intent, err := builder.Build(decision)
	require.NoError(t, err)

	step := decision.Evaluation.ExecutionPath[0]
	wantMinOut := step.AmountOut * (1 - (step.SlippageBps+safetyBufferBps)/10000)
	assert.InDelta(t, wantMinOut, intent.Legs[0].MinAmountOut, 1e-9)
}

func TestBuildUsesCurveMaxFeeForCurveLegs(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	assert.Equal(t, curveMaxFeeBps, intent.Legs[1].MaxFeeBps)
	assert.Equal(t, defaultMaxFeeBps, intent.Legs[0].MaxFeeBps)
}

func TestBuildWrapsFlashLoanLegsAroundExecutionPath(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())
	decision.Evaluation.Costs.FlashLoanUSD = 1000

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	require.Len(t, intent.Legs, 4)
	assert.Equal(t, qenus.ActionFlashLoan, intent.Legs[0].Action)
	assert.Equal(t, qenus.ActionFlashRepay, intent.Legs[3].Action)
}

func TestBuildSetsSameChainTTLForDexArb(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	assert.EqualValues(t, ttlSameChainSecs, intent.TTLSeconds)
}

func TestBuildSetsCrossChainTTLForTriangleArb(t *testing.T) {
	path := []qenus.SimulatedStep{
		{Step: 0, Action: "swap_buy", Domain: "ethereum", Protocol: "uniswap_v3", AmountOut: 100},
		{Step: 1, Action: "bridge", Domain: "arbitrum", Protocol: "stargate", AmountOut: 100},
		{Step: 2, Action: "swap_sell", Domain: "arbitrum", Protocol: "curve", AmountOut: 100},
	}
	builder := New(market.New(time.Minute))
	decision := approvedDecision("triangle_arb", path)

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	assert.EqualValues(t, ttlCrossChainSecs, intent.TTLSeconds)
}

func TestBuildUsesBridgeDeadlineForBridgeLegs(t *testing.T) {
	path := []qenus.SimulatedStep{
		{Step: 0, Action: "bridge", Domain: "ethereum", Protocol: "stargate", AmountOut: 100},
	}
	builder := New(market.New(time.Minute))
	decision := approvedDecision("triangle_arb", path)
	before := time.Now()

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	require.Len(t, intent.Legs, 1)
	assert.True(t, intent.Legs[0].Deadline.Sub(before) >= bridgeDeadline)
}

func TestBuildIdentifiesHighGasCostRiskFactor(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())
	decision.Evaluation.NetPnLUSD = 10
	decision.Evaluation.Costs.GasUSD = 5 // 50% of profit, above the 30% threshold

	intent, err := builder.Build(decision)
	require.NoError(t, err)

	var found bool
	for _, risk := range intent.Metadata.RiskFactors {
		if risk.Factor == "high_gas_cost" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildIdentifiesLowSuccessProbRiskFactor(t *testing.T) {
	builder := New(market.New(time.Minute))
	decision := approvedDecision("dex_arb", dexArbPath())
	decision.Evaluation.SuccessProb = 0.5

	intent, err := builder.Build(decision)
	require.NoError(t, err)

	var found bool
	for _, risk := range intent.Metadata.RiskFactors {
		if risk.Factor == "low_success_prob" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildStampsMarketSnapshotFromSharedState(t *testing.T) {
	state := market.New(time.Minute)
	state.Apply(qenus.Feature{
		Chain:       qenus.ChainEthereum,
		BlockNumber: 1,
		Timestamp:   time.Now(),
		Kind:        qenus.FeatureSequencerHealth,
		Payload:     true,
	})
	builder := New(state)
	decision := approvedDecision("dex_arb", dexArbPath())

	intent, err := builder.Build(decision)
	require.NoError(t, err)
	assert.True(t, intent.Metadata.MarketSnapshot.SequencerByChain[qenus.ChainEthereum])
}

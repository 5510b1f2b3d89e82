package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
	"qenus/internal/market"
)

func testStrategyConfig(assets []string, chains []qenus.Chain, minProfitBps float64) qenus.StrategyConfig {
	return qenus.StrategyConfig{
		Enabled:        true,
		MinProfitBps:   minProfitBps,
		ApprovedAssets: assets,
		ApprovedChains: chains,
	}
}

func seedHealthySequencer(t *testing.T, state *market.State, chain qenus.Chain) {
	t.Helper()
	state.Apply(qenus.Feature{Chain: chain, Kind: qenus.FeatureSequencerHealth, Payload: true, Timestamp: time.Now()})
}

func seedPool(t *testing.T, state *market.State, chain qenus.Chain, addr, poolType, token0, token1 string, midPrice, feeBps float64) {
	t.Helper()
	state.Apply(qenus.Feature{
		Chain:     chain,
		Kind:      qenus.FeatureAMM,
		Timestamp: time.Now(),
		Payload: &qenus.AMMPayload{
			PoolAddress:  addr,
			PoolType:     poolType,
			Token0Symbol: token0,
			Token1Symbol: token1,
			MidPrice:     midPrice,
			FeeTierBps:   feeBps,
		},
	})
}

func TestDexArbDetectorEmitsCandidateAboveThreshold(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedHealthySequencer(t, state, qenus.ChainEthereum)
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 5)
	seedPool(t, state, qenus.ChainEthereum, "0xb", "curve", "WETH", "USDC", 3100, 4)

	det := NewDexArbDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum}, 50), state)
	candidates := det.Detect()

	require.Len(t, candidates, 1)
	assert.Equal(t, "dex_arb", candidates[0].StrategyName)
	assert.Equal(t, dexArbConfidence, candidates[0].Confidence)
	assert.InDelta(t, 324.33, candidates[0].SpreadBps, 0.1)
	require.Len(t, candidates[0].Legs, 2)
	assert.Equal(t, "buy", candidates[0].Legs[0].Side)
	assert.Equal(t, "sell", candidates[0].Legs[1].Side)
}

func TestDexArbDetectorSkipsSamePoolType(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedHealthySequencer(t, state, qenus.ChainEthereum)
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 5)
	seedPool(t, state, qenus.ChainEthereum, "0xb", "uniswap_v3", "WETH", "USDC", 3500, 5)

	det := NewDexArbDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum}, 1), state)
	assert.Empty(t, det.Detect())
}

func TestDexArbDetectorSkipsUnhealthySequencer(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 5)
	seedPool(t, state, qenus.ChainEthereum, "0xb", "curve", "WETH", "USDC", 3100, 4)

	det := NewDexArbDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum}, 1), state)
	assert.Empty(t, det.Detect())
}

func TestDexArbDetectorDisabledReturnsNoCandidates(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	cfg := testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum}, 1)
	cfg.Enabled = false

	det := NewDexArbDetector(cfg, state)
	assert.Empty(t, det.Detect())
}

func TestDexArbDetectorRejectsSpreadBelowFeeAdjustedThreshold(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedHealthySequencer(t, state, qenus.ChainEthereum)
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 50)
	seedPool(t, state, qenus.ChainEthereum, "0xb", "curve", "WETH", "USDC", 3005, 50)

	det := NewDexArbDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum}, 5), state)
	assert.Empty(t, det.Detect())
}

package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
	"qenus/internal/market"
)

func TestTriangleDetectorEmitsCandidateForFavorableChainPair(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedHealthySequencer(t, state, qenus.ChainEthereum)
	seedHealthySequencer(t, state, qenus.ChainArbitrum)
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 5)
	seedPool(t, state, qenus.ChainArbitrum, "0xb", "uniswap_v3", "WETH", "USDC", 3100, 5)

	det := NewTriangleDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum}, 50), state)
	candidates := det.Detect()

	require.Len(t, candidates, 1)
	assert.Equal(t, "triangle_arb", candidates[0].StrategyName)
	assert.Equal(t, string(qenus.ChainEthereum), candidates[0].Legs[0].Domain)
	assert.Equal(t, string(qenus.ChainArbitrum), candidates[0].Legs[1].Domain)
	assert.InDelta(t, 333.33, candidates[0].SpreadBps, 0.1)
}

func TestTriangleDetectorSkipsUnhealthyDestinationSequencer(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedHealthySequencer(t, state, qenus.ChainEthereum)
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 5)
	seedPool(t, state, qenus.ChainArbitrum, "0xb", "uniswap_v3", "WETH", "USDC", 3100, 5)

	det := NewTriangleDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum}, 1), state)
	assert.Empty(t, det.Detect())
}

func TestTriangleDetectorSkipsWhenSpreadBelowThreshold(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	seedHealthySequencer(t, state, qenus.ChainEthereum)
	seedHealthySequencer(t, state, qenus.ChainArbitrum)
	seedPool(t, state, qenus.ChainEthereum, "0xa", "uniswap_v3", "WETH", "USDC", 3000, 5)
	seedPool(t, state, qenus.ChainArbitrum, "0xb", "uniswap_v3", "WETH", "USDC", 3001, 5)

	det := NewTriangleDetector(testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum}, 50), state)
	assert.Empty(t, det.Detect())
}

func TestTriangleDetectorDisabledReturnsNoCandidates(t *testing.T) {
	state := market.New(time.Minute)
	defer state.Stop()
	cfg := testStrategyConfig([]string{"WETH"}, []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum}, 1)
	cfg.Enabled = false

	det := NewTriangleDetector(cfg, state)
	assert.Empty(t, det.Detect())
}

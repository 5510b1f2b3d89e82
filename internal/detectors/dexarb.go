// Package detectors implements spec §4.K: strategy-specific candidate
// generators that scan the shared market state for arbitrage
// opportunities and emit Candidates for the simulator to price.
package detectors

import (
	"strings"
	"time"

	"qenus"
	"qenus/internal/market"
)

const dexArbConfidence = 0.9

// defaultPoolFeeBps is used when an observed pool carries no fee-tier
// information of its own.
const defaultPoolFeeBps = 30.0

// DexArbDetector finds same-chain, cross-pool-type spreads for a fixed
// set of approved assets and chains.
type DexArbDetector struct {
	config qenus.StrategyConfig
	state  *market.State
}

// NewDexArbDetector creates a detector bound to one strategy's policy and
// the shared market state.
func NewDexArbDetector(config qenus.StrategyConfig, state *market.State) *DexArbDetector {
	return &DexArbDetector{config: config, state: state}
}

func (d *DexArbDetector) Name() string { return "dex_arb" }

// Detect scans every approved (asset, chain) pair for a healthy sequencer
// and at least two AMM pools of different pool types quoting that asset,
// emitting a Candidate whenever the fee-adjusted spread clears the
// strategy's minimum profit threshold.
func (d *DexArbDetector) Detect() []qenus.Candidate {
	if !d.config.Enabled {
		return nil
	}

	var candidates []qenus.Candidate
	for _, asset := range d.config.ApprovedAssets {
		for _, chain := range d.config.ApprovedChains {
			if !d.state.SequencerHealthy(chain) {
				continue
			}
			candidates = append(candidates, d.detectOnChain(asset, chain)...)
		}
	}
	return candidates
}

func (d *DexArbDetector) detectOnChain(asset string, chain qenus.Chain) []qenus.Candidate {
	pools := d.state.AMMPools(chain)

	var relevant []qenus.AMMPayload
	for _, pool := range pools {
		if strings.EqualFold(pool.Token0Symbol, asset) || strings.EqualFold(pool.Token1Symbol, asset) {
			relevant = append(relevant, pool)
		}
	}
	if len(relevant) < 2 {
		return nil
	}

	var candidates []qenus.Candidate
	for i := 0; i < len(relevant); i++ {
		for j := i + 1; j < len(relevant); j++ {
			poolA, poolB := relevant[i], relevant[j]
			if poolA.PoolType == poolB.PoolType {
				continue
			}
			if poolA.MidPrice <= 0 {
				continue
			}

			spreadBps := absBps(poolB.MidPrice, poolA.MidPrice)
			if spreadBps < d.config.MinProfitBps {
				continue
			}

			feeA, feeB := poolFeeBps(poolA), poolFeeBps(poolB)
			netSpreadBps := spreadBps - feeA - feeB
			if netSpreadBps < d.config.MinProfitBps {
				continue
			}

			candidates = append(candidates, qenus.Candidate{
				StrategyName: "dex_arb",
				Asset:        asset,
				SpreadBps:    netSpreadBps,
				Legs: []qenus.CandidateLeg{
					{Domain: string(chain), Side: "buy"},
					{Domain: string(chain), Side: "sell"},
				},
				DetectedAt: time.Now(),
				Confidence: dexArbConfidence,
			})
		}
	}
	return candidates
}

func poolFeeBps(pool qenus.AMMPayload) float64 {
	if pool.FeeTierBps > 0 {
		return pool.FeeTierBps
	}
	return defaultPoolFeeBps
}

func absBps(priceB, priceA float64) float64 {
	spread := (priceB - priceA) / priceA * 10000.0
	if spread < 0 {
		return -spread
	}
	return spread
}

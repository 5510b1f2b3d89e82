package detectors

import (
	"time"

	"qenus"
	"qenus/internal/market"
)

const triangleArbConfidence = 0.9

// TriangleDetector finds cross-chain (bridge-mediated) spreads for a
// fixed set of approved assets across the strategy's approved chains.
type TriangleDetector struct {
	config qenus.StrategyConfig
	state  *market.State
}

// NewTriangleDetector creates a detector bound to one strategy's policy
// and the shared market state.
func NewTriangleDetector(config qenus.StrategyConfig, state *market.State) *TriangleDetector {
	return &TriangleDetector{config: config, state: state}
}

func (d *TriangleDetector) Name() string { return "triangle_arb" }

// Detect collects the best observed price for each approved asset on
// every approved chain and, for every ordered pair of chains whose
// destination/source ratio clears the strategy's minimum profit
// threshold, emits a Candidate with the bridge hop as the middle leg.
func (d *TriangleDetector) Detect() []qenus.Candidate {
	if !d.config.Enabled {
		return nil
	}

	var candidates []qenus.Candidate
	for _, asset := range d.config.ApprovedAssets {
		prices := d.pricesByChain(asset)
		for _, src := range d.config.ApprovedChains {
			srcPrice, ok := prices[src]
			if !ok || srcPrice <= 0 || !d.state.SequencerHealthy(src) {
				continue
			}
			for _, dst := range d.config.ApprovedChains {
				if dst == src {
					continue
				}
				dstPrice, ok := prices[dst]
				if !ok || !d.state.SequencerHealthy(dst) {
					continue
				}

				spreadBps := (dstPrice/srcPrice - 1) * 10000
				if spreadBps <= d.config.MinProfitBps {
					continue
				}

				candidates = append(candidates, qenus.Candidate{
					StrategyName: "triangle_arb",
					Asset:        asset,
					SpreadBps:    spreadBps,
					Legs: []qenus.CandidateLeg{
						{Domain: string(src), Side: "buy"},
						{Domain: string(dst), Side: "sell"},
					},
					DetectedAt: time.Now(),
					Confidence: triangleArbConfidence,
				})
			}
		}
	}
	return candidates
}

func (d *TriangleDetector) pricesByChain(asset string) map[qenus.Chain]float64 {
	prices := make(map[qenus.Chain]float64, len(d.config.ApprovedChains))
	for _, chain := range d.config.ApprovedChains {
		if price, ok := d.state.Price(chain, asset); ok {
			prices[chain] = price
		}
	}
	return prices
}

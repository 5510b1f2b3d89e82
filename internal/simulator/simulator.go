// Package simulator implements the end-to-end PnL simulator of spec §4.L,
// grounded directly on the original evaluator's per-strategy step
// construction (dex_arb: two same-chain swaps; triangle_arb: swap, bridge,
// swap) with its exact cost constants preserved.
package simulator

import (
	"fmt"

	"qenus"
	"qenus/internal/market"
)

// flashLoanThresholdUSD is the size above which a trade is assumed to need
// external capital via a flash loan rather than the strategy's own
// balance, per the original evaluator's `optimal_size_usd > 50000.0`.
const flashLoanThresholdUSD = 50_000.0

const (
	defaultNativeUSDPrice = 3000.0
	swapGasUnits          = 180_000.0
	bridgeGasUnits        = 120_000.0
	flashLoanGasUnits     = 90_000.0
)

// Simulator evaluates Candidates against the shared market state.
type Simulator struct {
	state *market.State
}

// New creates a simulator reading from state.
func New(state *market.State) *Simulator {
	return &Simulator{state: state}
}

// Evaluate routes a Candidate to its strategy-specific simulation.
func (s *Simulator) Evaluate(strategyCfg qenus.StrategyConfig, candidate qenus.Candidate) (qenus.EvaluationResult, error) {
	nativePrice := s.nativeUSDPrice()

	switch candidate.StrategyName {
	case "dex_arb":
		return s.simulateDexArb(strategyCfg, candidate, nativePrice), nil
	case "triangle_arb":
		return s.simulateTriangleArb(strategyCfg, candidate, nativePrice), nil
	default:
		return qenus.EvaluationResult{}, fmt.Errorf("simulator: unknown strategy %q", candidate.StrategyName)
	}
}

// nativeUSDPrice looks up WETH's price on any chain with live market data,
// falling back to a configured default the way the original evaluator
// tries Ethereum, Arbitrum, Optimism, then Base before giving up.
func (s *Simulator) nativeUSDPrice() float64 {
	for _, chain := range []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum, qenus.ChainOptimism, qenus.ChainBase} {
		if price, ok := s.state.Price(chain, "WETH"); ok && price > 0 {
			return price
		}
	}
	return defaultNativeUSDPrice
}

// estimateOptimalSize is the original's spread-bucketed heuristic, capped
// by the strategy's configured maximum position size.
func estimateOptimalSize(cfg qenus.StrategyConfig, candidate qenus.Candidate) float64 {
	var size float64
	switch {
	case candidate.SpreadBps > 50:
		size = 500_000
	case candidate.SpreadBps > 20:
		size = 250_000
	default:
		size = 100_000
	}
	if cfg.MaxPositionUSD > 0 && size > cfg.MaxPositionUSD {
		size = cfg.MaxPositionUSD
	}
	return size
}

func swapGasCostUSD(gasPayload qenus.GasPayload, nativePrice float64) float64 {
	gwei := gasPayload.BaseFeeGwei + gasPayload.StandardGwei
	if gwei == 0 {
		gwei = 30
	}
	return gwei * swapGasUnits * nativePrice / 1e9
}

func (s *Simulator) gasFor(chain qenus.Chain) qenus.GasPayload {
	if g, ok := s.state.Gas(chain); ok {
		return g
	}
	return qenus.GasPayload{BaseFeeGwei: 20, StandardGwei: 10}
}

// simulateDexArb mirrors the original evaluator's two-swap, single-domain
// path: buy then sell on the same chain, each leg charging 3bps slippage
// and, respectively, 5bps and 4bps protocol fee.
func (s *Simulator) simulateDexArb(cfg qenus.StrategyConfig, candidate qenus.Candidate, nativePrice float64) qenus.EvaluationResult {
	optimalSize := estimateOptimalSize(cfg, candidate)
	chain := domainOf(candidate, 0)

	costs := qenus.CostBreakdown{}
	var path []qenus.SimulatedStep

	if optimalSize > flashLoanThresholdUSD {
		costs.FlashLoanUSD = estimateFlashLoanFee("aave_v3", optimalSize)
		costs.GasUSD += flashLoanGasUnits * s.gasFor(chain).BaseFeeGwei * nativePrice / 1e9
	}

	gasPayload := s.gasFor(chain)
	swapGas := swapGasCostUSD(gasPayload, nativePrice)

	const swap1SlippageBps, swap1FeeBps = 3.0, 5.0
	costs.GasUSD += swapGas
	costs.SlippageUSD += optimalSize * swap1SlippageBps / 10000
	costs.ProtocolUSD += optimalSize * swap1FeeBps / 10000

	step1Out := optimalSize * (1 - (swap1SlippageBps+swap1FeeBps)/10000)
	path = append(path, qenus.SimulatedStep{
		Step: 1, Action: "swap_buy", Domain: string(chain), Protocol: "uniswap_v3",
		AmountIn: optimalSize, AmountOut: step1Out, SlippageBps: swap1SlippageBps,
		CostUSD: swapGas + costs.SlippageUSD + costs.ProtocolUSD,
	})

	const swap2SlippageBps, swap2FeeBps = 3.0, 4.0
	swap2Gas := swapGasCostUSD(gasPayload, nativePrice)
	costs.GasUSD += swap2Gas
	costs.SlippageUSD += optimalSize * swap2SlippageBps / 10000
	costs.ProtocolUSD += optimalSize * swap2FeeBps / 10000

	step2Out := step1Out * (1 + candidate.SpreadBps/10000)
	path = append(path, qenus.SimulatedStep{
		Step: 2, Action: "swap_sell", Domain: string(chain), Protocol: "curve",
		AmountIn: step1Out, AmountOut: step2Out, SlippageBps: swap2SlippageBps,
		CostUSD: swap2Gas + costs.SlippageUSD + costs.ProtocolUSD,
	})

	costs.TotalUSD = costs.GasUSD + costs.ProtocolUSD + costs.BridgeUSD + costs.FlashLoanUSD + costs.SlippageUSD
	netPnL := step2Out - optimalSize - costs.TotalUSD
	netBps := 0.0
	if optimalSize != 0 {
		netBps = netPnL / optimalSize * 10000
	}

	return qenus.EvaluationResult{
		NetPnLUSD:      netPnL,
		NetBps:         netBps,
		OptimalSizeUSD: optimalSize,
		SuccessProb:    estimateSuccessProbability(candidate, costs, false),
		Costs:          costs,
		ExecutionPath:  path,
	}
}

// simulateTriangleArb mirrors the original evaluator's swap-bridge-swap
// path for a cross-chain candidate.
func (s *Simulator) simulateTriangleArb(cfg qenus.StrategyConfig, candidate qenus.Candidate, nativePrice float64) qenus.EvaluationResult {
	optimalSize := estimateOptimalSize(cfg, candidate)
	srcChain := domainOf(candidate, 0)
	dstChain := domainOf(candidate, len(candidate.Legs) - 1)

	costs := qenus.CostBreakdown{}
	var path []qenus.SimulatedStep

	const swap1SlippageBps, swap1FeeBps = 5.0, 5.0
	srcGas := swapGasCostUSD(s.gasFor(srcChain), nativePrice)
	costs.GasUSD += srcGas
	costs.SlippageUSD += optimalSize * swap1SlippageBps / 10000
	costs.ProtocolUSD += optimalSize * swap1FeeBps / 10000

	step1Out := optimalSize * (1 - (swap1SlippageBps+swap1FeeBps)/10000)
	path = append(path, qenus.SimulatedStep{
		Step: 1, Action: "swap_buy", Domain: string(srcChain), Protocol: "uniswap_v3",
		AmountIn: optimalSize, AmountOut: step1Out, SlippageBps: swap1SlippageBps,
		CostUSD: srcGas + costs.SlippageUSD + costs.ProtocolUSD,
	})

	bridgeFee, bridgeGas := s.bridgeCost(srcChain, dstChain, candidate.Asset, step1Out, nativePrice)
	costs.BridgeUSD += bridgeFee
	costs.GasUSD += bridgeGas

	step2Out := step1Out - bridgeFee
	path = append(path, qenus.SimulatedStep{
		Step: 2, Action: "bridge", Domain: fmt.Sprintf("%s -> %s", srcChain, dstChain), Protocol: "canonical_bridge",
		AmountIn: step1Out, AmountOut: step2Out, SlippageBps: 0, CostUSD: bridgeFee,
	})

	const swap2SlippageBps, swap2FeeBps = 5.0, 5.0
	dstGas := swapGasCostUSD(s.gasFor(dstChain), nativePrice)
	costs.GasUSD += dstGas
	costs.SlippageUSD += optimalSize * swap2SlippageBps / 10000
	costs.ProtocolUSD += optimalSize * swap2FeeBps / 10000

	step3Out := step2Out * (1 + candidate.SpreadBps/10000)
	path = append(path, qenus.SimulatedStep{
		Step: 3, Action: "swap_sell", Domain: string(dstChain), Protocol: "curve",
		AmountIn: step2Out, AmountOut: step3Out, SlippageBps: swap2SlippageBps,
		CostUSD: dstGas + costs.SlippageUSD + costs.ProtocolUSD,
	})

	costs.TotalUSD = costs.GasUSD + costs.ProtocolUSD + costs.BridgeUSD + costs.FlashLoanUSD + costs.SlippageUSD
	netPnL := step3Out - optimalSize - costs.TotalUSD
	netBps := 0.0
	if optimalSize != 0 {
		netBps = netPnL / optimalSize * 10000
	}

	return qenus.EvaluationResult{
		NetPnLUSD:      netPnL,
		NetBps:         netBps,
		OptimalSizeUSD: optimalSize,
		SuccessProb:    estimateSuccessProbability(candidate, costs, true),
		Costs:          costs,
		ExecutionPath:  path,
	}
}

func (s *Simulator) bridgeCost(src, dst qenus.Chain, asset string, amount, nativePrice float64) (feeUSD, gasUSD float64) {
	gasUSD = bridgeGasUnits * s.gasFor(src).BaseFeeGwei * nativePrice / 1e9
	if b, ok := s.state.Bridge(src, dst, asset); ok {
		return amount * b.FeeBps / 10000, gasUSD
	}
	const defaultBridgeFeeBps = 10.0
	return amount * defaultBridgeFeeBps / 10000, gasUSD
}

func estimateFlashLoanFee(provider string, amount float64) float64 {
	const defaultFeeBps = 9.0 // Aave V3's flash-loan premium at time of writing
	return amount * defaultFeeBps / 10000
}

// estimateSuccessProbability mirrors the original's confidence decay:
// degrade by cost ratio, then by a further 10% if the strategy crosses
// domains, clamped to [0.5, 0.99].
func estimateSuccessProbability(candidate qenus.Candidate, costs qenus.CostBreakdown, multiDomain bool) float64 {
	prob := candidate.Confidence
	costRatio := costs.TotalUSD / (costs.TotalUSD + 100)
	prob *= 1 - costRatio*0.2
	if multiDomain {
		prob *= 0.9
	}
	if prob > 0.99 {
		prob = 0.99
	}
	if prob < 0.5 {
		prob = 0.5
	}
	return prob
}

func domainOf(candidate qenus.Candidate, legIndex int) qenus.Chain {
	if legIndex < 0 || legIndex >= len(candidate.Legs) {
		return qenus.ChainEthereum
	}
	return qenus.Chain(candidate.Legs[legIndex].Domain)
}

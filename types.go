// Package qenus is a real-time DeFi market-intelligence and arbitrage
// engine. It ingests on-chain state from multiple RPC providers across
// several EVM chains, detects cross-venue and cross-chain arbitrage
// candidates, simulates their economics, applies risk policy, and emits
// executable trade intents that an external executor submits on-chain.
package qenus

import "time"

// Chain is the closed enumeration of EVM networks qenus understands.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainBase     Chain = "base"
	ChainPolygon  Chain = "polygon"
)

// Chains lists every chain qenus is capable of servicing, in a stable order
// used wherever deterministic iteration matters (config validation,
// snapshot assembly).
var Chains = []Chain{ChainEthereum, ChainArbitrum, ChainOptimism, ChainBase, ChainPolygon}

// Valid reports whether c is one of the closed set of supported chains.
func (c Chain) Valid() bool {
	for _, known := range Chains {
		if c == known {
			return true
		}
	}
	return false
}

// FeatureKind discriminates the payload carried by a Feature.
type FeatureKind string

const (
	FeatureAMM             FeatureKind = "amm"
	FeatureGas             FeatureKind = "gas"
	FeatureBridge          FeatureKind = "bridge"
	FeatureFlashLoan       FeatureKind = "flash_loan"
	FeatureSequencerHealth FeatureKind = "sequencer_health"
)

// DepthPoint describes the simulated slippage and price impact of trading a
// given notional size against a pool's current liquidity.
type DepthPoint struct {
	SlippageBps  float64
	PriceImpact  float64
}

// AMMPayload is the Feature payload for an automated-market-maker pool
// observation.
type AMMPayload struct {
	PoolAddress   string
	PoolType      string // "uniswap_v3", "curve", "balancer", ...
	Token0Symbol  string
	Token1Symbol  string
	Token0        string
	Token1        string
	Reserves      map[string]float64 // symbol -> reserve amount, decimal-adjusted
	MidPrice      float64
	FeeTierBps    float64
	DepthCurve    map[string]DepthPoint // size label -> depth point
	TotalLiquidityUSD float64
}

// GasPayload is the Feature payload for a chain's current gas market.
type GasPayload struct {
	BaseFeeGwei     float64
	SafeGwei        float64
	StandardGwei    float64
	FastGwei        float64
	GasUsedRatio    float64
}

// BridgePayload is the Feature payload for a cross-chain bridge venue.
type BridgePayload struct {
	SrcChain        Chain
	DstChain        Chain
	Asset           string
	FeeBps          float64
	SettlementTime  time.Duration
	LiquidityUSD    float64
}

// FlashLoanPayload is the Feature payload for a flash-loan provider.
type FlashLoanPayload struct {
	Provider            string
	Asset                string
	FeeBps               float64
	AvailableLiquidityUSD float64
}

// Feature is an immutable, tagged market-data record published by an
// extractor and consumed by the market-state store. Payload holds one of
// *AMMPayload, *GasPayload, *BridgePayload, *FlashLoanPayload depending on
// Kind; SequencerHealth features carry a bool Payload (true when healthy).
type Feature struct {
	ID            string
	Chain         Chain
	BlockNumber   uint64
	Timestamp     time.Time
	Kind          FeatureKind
	Payload       any
	Source        string
	SchemaVersion int
}

// Candidate is a detected, not-yet-simulated arbitrage opportunity.
type Candidate struct {
	StrategyName string
	Asset        string
	SpreadBps    float64
	Legs         []CandidateLeg
	DetectedAt   time.Time
	Confidence   float64
}

// CandidateLeg names a venue/domain and a trade side within a Candidate.
type CandidateLeg struct {
	Domain string
	Side   string // "buy" | "sell"
}

// SimulatedStep is one hop of a simulated execution path.
type SimulatedStep struct {
	Step        int
	Action      string // "swap_buy", "swap_sell", "bridge", "flash_loan", "flash_repay"
	Domain      string
	Protocol    string
	AmountIn    float64
	AmountOut   float64
	SlippageBps float64
	CostUSD     float64
}

// CostBreakdown itemizes every cost component of a simulated trade. Total
// must equal the sum of the other five fields.
type CostBreakdown struct {
	GasUSD       float64
	ProtocolUSD  float64
	BridgeUSD    float64
	FlashLoanUSD float64
	SlippageUSD  float64
	TotalUSD     float64
}

// EvaluationResult is the simulator's output for a Candidate.
type EvaluationResult struct {
	NetPnLUSD      float64
	NetBps         float64
	OptimalSizeUSD float64
	SuccessProb    float64
	Costs          CostBreakdown
	ExecutionPath  []SimulatedStep
}

// TradeDecision is the decision engine's verdict on a (Candidate,
// EvaluationResult) pair.
type TradeDecision struct {
	Candidate     Candidate
	Evaluation    EvaluationResult
	ShouldExecute bool
	Reasoning     []string
	Score         float64
}

// TradeAction enumerates the kind of on-chain action a TradeLeg performs.
type TradeAction string

const (
	ActionSwap        TradeAction = "swap"
	ActionBridge      TradeAction = "bridge"
	ActionFlashLoan   TradeAction = "flash_loan"
	ActionFlashRepay  TradeAction = "flash_repay"
)

// TradeLeg is one concrete, risk-bounded step of a TradeIntent.
type TradeLeg struct {
	Domain        Chain
	Action        TradeAction
	Protocol      string
	AssetIn       string
	AssetOut      string
	AmountIn      float64
	MinAmountOut  float64
	ExpectedOut   float64
	MaxFeeBps     int
	Deadline      time.Time
}

// RiskSeverity grades a RiskFactor surfaced in a TradeIntent's metadata.
type RiskSeverity string

const (
	RiskLow    RiskSeverity = "low"
	RiskMedium RiskSeverity = "medium"
	RiskHigh   RiskSeverity = "high"
)

// RiskFactor documents one reason a reviewer should be cautious about an
// otherwise-approved intent.
type RiskFactor struct {
	Factor   string
	Severity RiskSeverity
	Message  string
}

// MarketSnapshot captures the market conditions observed at intent-build
// time, for audit and post-hoc analysis.
type MarketSnapshot struct {
	GasByChain        map[Chain]GasPayload
	SequencerByChain  map[Chain]bool
	Volatility        float64
}

// TradeIntentMetadata carries the provenance and risk context of a
// TradeIntent.
type TradeIntentMetadata struct {
	DetectedAt     time.Time
	Detector       string
	MarketSnapshot MarketSnapshot
	RiskFactors    []RiskFactor
}

// TradeIntent is a concrete, signed-off execution plan ready to hand to the
// external executor.
type TradeIntent struct {
	IntentID        string
	Strategy        string
	Asset           string
	SizeUSD         float64
	ExpectedPnLUSD  float64
	NetBps          float64
	SuccessProb     float64
	Legs            []TradeLeg
	TTLSeconds      uint64
	CreatedAt       time.Time
	Metadata        TradeIntentMetadata
}

// Expired reports whether the intent's TTL has elapsed as of now.
func (t TradeIntent) Expired(now time.Time) bool {
	return now.Sub(t.CreatedAt) > time.Duration(t.TTLSeconds)*time.Second
}

// ExecutionReceipt is the post-execution observation the external executor
// reports back for a previously-registered TradeIntent.
type ExecutionReceipt struct {
	IntentID        string
	Success         bool
	ActualPnLUSD    float64
	ActualCostsUSD  float64
	ActualSlippageBps float64
	ExecutionTime   time.Duration
	CompletedAt     time.Time
	Error           string
}

// ModelPerformance is the feedback processor's running scorecard.
type ModelPerformance struct {
	TotalIntents    uint64
	Successful      uint64
	HitRate         float64
	AvgPnLErrorPct  float64
	AccuracyScore   float64
}

// StrategyConfig is the per-strategy detection policy.
type StrategyConfig struct {
	Enabled         bool
	MinProfitUSD    float64
	MinProfitBps    float64
	MaxPositionUSD  float64
	ApprovedAssets  []string
	ApprovedChains  []Chain
	RiskLimits      RiskLimits
}

// RiskLimits bounds what the decision engine will approve for a strategy.
type RiskLimits struct {
	MaxSlippageBps        float64
	MaxGasPct             float64
	MinSuccessProb        float64
	MaxBridgeLatencySecs  float64
	MaxPortfolioUSD       float64
}

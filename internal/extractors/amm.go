package extractors

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"qenus"
	"qenus/internal/contractcodec"
)

var errMalformedLiquidity = errors.New("amm: malformed liquidity return data")

// AMMPool is one curated pool an AMMExtractor watches.
type AMMPool struct {
	Chain           qenus.Chain
	Address         common.Address
	Protocol        contractcodec.Protocol
	Token0Symbol    string
	Token1Symbol    string
	Decimals0       int
	Decimals1       int
	TotalLiquidityUSD float64 // refreshed out of band by a price feed; read here for depth curves
	PoolWeight      float64   // Balancer-only; ignored elsewhere
}

// AMMExtractor produces FeatureAMM observations for a curated set of pools,
// currently Uniswap-V3-shaped pools (slot0 + liquidity).
type AMMExtractor struct {
	pools []AMMPool
}

// NewAMMExtractor builds an extractor over the given curated pool list.
func NewAMMExtractor(pools []AMMPool) *AMMExtractor {
	return &AMMExtractor{pools: pools}
}

func (e *AMMExtractor) Name() string                { return "amm" }
func (e *AMMExtractor) FeatureKind() qenus.FeatureKind { return qenus.FeatureAMM }

func (e *AMMExtractor) SupportedChains() []qenus.Chain {
	seen := make(map[qenus.Chain]bool)
	var out []qenus.Chain
	for _, p := range e.pools {
		if !seen[p.Chain] {
			seen[p.Chain] = true
			out = append(out, p.Chain)
		}
	}
	return out
}

// ExtractForBlock and ExtractLatest share the same implementation: pool
// state is read at the chain's current head regardless of which block
// number the caller is tagging features with, since slot0 has no
// historical-call support through the plain eth_call path used here.
func (e *AMMExtractor) ExtractForBlock(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	return e.extract(ctx, chain, blockNumber, ectx)
}

func (e *AMMExtractor) ExtractLatest(ctx context.Context, chain qenus.Chain, ectx *Context) ([]qenus.Feature, error) {
	pool, ok := ectx.Pools[chain]
	if !ok {
		return nil, errUnsupportedChain(chain)
	}
	blockNumber, err := pool.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, chain, blockNumber, ectx)
}

func (e *AMMExtractor) extract(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	now := time.Now().UTC()
	var features []qenus.Feature

	for _, pool := range e.pools {
		if pool.Chain != chain {
			continue
		}

		payload, err := e.observe(ctx, pool, ectx)
		if err != nil {
			logSkippedEntity(e.Name(), pool.Address.Hex(), err)
			continue
		}

		features = append(features, qenus.Feature{
			ID:            fmt.Sprintf("amm:%s:%s:%d", chain, pool.Address.Hex(), blockNumber),
			Chain:         chain,
			BlockNumber:   blockNumber,
			Timestamp:     now,
			Kind:          qenus.FeatureAMM,
			Payload:       payload,
			Source:        e.Name(),
			SchemaVersion: 1,
		})
	}

	return features, nil
}

func (e *AMMExtractor) observe(ctx context.Context, pool AMMPool, ectx *Context) (*qenus.AMMPayload, error) {
	slot0Input, err := ectx.Catalog.Pack(pool.Protocol, "slot0")
	if err != nil {
		return nil, err
	}
	slot0Key := fmt.Sprintf("slot0:%s:%s", pool.Chain, pool.Address.Hex())
	slot0Raw, err := callCached(ctx, ectx, pool.Chain, pool.Address, slot0Input, slot0Key)
	if err != nil {
		return nil, err
	}
	slot0, err := ectx.Catalog.DecodeUniswapV3Slot0(slot0Raw)
	if err != nil {
		return nil, err
	}

	midPrice := contractcodec.MidPriceFromSqrtPriceX96(slot0.SqrtPriceX96, pool.Decimals0, pool.Decimals1)

	reserves, err := e.observeReserves(ctx, pool, ectx, slot0.SqrtPriceX96)
	if err != nil {
		logSkippedEntity(e.Name(), pool.Address.Hex()+":reserves", err)
	}

	protocolName := "uniswap_v3"
	depth := contractcodec.EstimateDepth(protocolName, pool.TotalLiquidityUSD*0.01, pool.TotalLiquidityUSD, pool.PoolWeight)

	return &qenus.AMMPayload{
		PoolAddress:       pool.Address.Hex(),
		PoolType:          protocolName,
		Token0Symbol:      pool.Token0Symbol,
		Token1Symbol:      pool.Token1Symbol,
		Reserves:          reserves,
		MidPrice:          midPrice,
		TotalLiquidityUSD: pool.TotalLiquidityUSD,
		DepthCurve: map[string]qenus.DepthPoint{
			"1pct": {SlippageBps: depth.SlippageBps, PriceImpact: depth.PriceImpact},
		},
	}, nil
}

// observeReserves fetches the pool's current liquidity() and derives the
// reserve approximation per §4.D, keyed by token symbol.
func (e *AMMExtractor) observeReserves(ctx context.Context, pool AMMPool, ectx *Context, sqrtPriceX96 *big.Int) (map[string]float64, error) {
	liquidityInput, err := ectx.Catalog.Pack(pool.Protocol, "liquidity")
	if err != nil {
		return nil, err
	}
	liquidityKey := fmt.Sprintf("liquidity:%s:%s", pool.Chain, pool.Address.Hex())
	liquidityRaw, err := callCached(ctx, ectx, pool.Chain, pool.Address, liquidityInput, liquidityKey)
	if err != nil {
		return nil, err
	}
	values, err := ectx.Catalog.Unpack(pool.Protocol, "liquidity", liquidityRaw)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errMalformedLiquidity
	}
	liquidity, ok := values[0].(*big.Int)
	if !ok {
		return nil, errMalformedLiquidity
	}

	reserves := contractcodec.ReservesFromLiquidity(liquidity, sqrtPriceX96, pool.Decimals0, pool.Decimals1)
	return map[string]float64{
		pool.Token0Symbol: reserves.Reserve0,
		pool.Token1Symbol: reserves.Reserve1,
	}, nil
}

package extractors

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"qenus"
	"qenus/internal/contractcodec"
)

// FlashLoanProvider is one curated flash-loan source a FlashLoanExtractor
// watches, read through its Aave-V3-shaped lending pool.
type FlashLoanProvider struct {
	Chain         qenus.Chain
	Provider      string
	PoolAddress   common.Address
	Asset         string
	AssetAddress  common.Address
	AssetDecimals int
}

// FlashLoanExtractor produces FeatureFlashLoan observations for a curated
// set of lending pools.
type FlashLoanExtractor struct {
	providers []FlashLoanProvider
}

// NewFlashLoanExtractor builds an extractor over the given curated
// provider list.
func NewFlashLoanExtractor(providers []FlashLoanProvider) *FlashLoanExtractor {
	return &FlashLoanExtractor{providers: providers}
}

func (e *FlashLoanExtractor) Name() string                  { return "flash_loan" }
func (e *FlashLoanExtractor) FeatureKind() qenus.FeatureKind { return qenus.FeatureFlashLoan }

func (e *FlashLoanExtractor) SupportedChains() []qenus.Chain {
	seen := make(map[qenus.Chain]bool)
	var out []qenus.Chain
	for _, p := range e.providers {
		if !seen[p.Chain] {
			seen[p.Chain] = true
			out = append(out, p.Chain)
		}
	}
	return out
}

func (e *FlashLoanExtractor) ExtractForBlock(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	return e.extract(ctx, chain, blockNumber, ectx)
}

func (e *FlashLoanExtractor) ExtractLatest(ctx context.Context, chain qenus.Chain, ectx *Context) ([]qenus.Feature, error) {
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

func (e *FlashLoanExtractor) extract(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	now := time.Now().UTC()
	var features []qenus.Feature

	for _, provider := range e.providers {
		if provider.Chain != chain {
			continue
		}

		payload, err := e.observe(ctx, provider, ectx)
		if err != nil {
			logSkippedEntity(e.Name(), fmt.Sprintf("%s:%s", provider.Provider, provider.Asset), err)
			continue
		}

		features = append(features, qenus.Feature{
			ID:            fmt.Sprintf("flashloan:%s:%s:%s:%d", chain, provider.Provider, provider.Asset, blockNumber),
			Chain:         chain,
			BlockNumber:   blockNumber,
			Timestamp:     now,
			Kind:          qenus.FeatureFlashLoan,
			Payload:       payload,
			Source:        e.Name(),
			SchemaVersion: 1,
		})
	}

	return features, nil
}

func (e *FlashLoanExtractor) observe(ctx context.Context, provider FlashLoanProvider, ectx *Context) (*qenus.FlashLoanPayload, error) {
	premiumInput, err := ectx.Catalog.Pack(contractcodec.ProtocolAaveV3Pool, "FLASHLOAN_PREMIUM_TOTAL")
	if err != nil {
		return nil, err
	}
	premiumKey := fmt.Sprintf("flpremium:%s:%s", provider.Chain, provider.PoolAddress.Hex())
	premiumRaw, err := callCached(ctx, ectx, provider.Chain, provider.PoolAddress, premiumInput, premiumKey)
	if err != nil {
		return nil, err
	}
	premiumValues, err := ectx.Catalog.Unpack(contractcodec.ProtocolAaveV3Pool, "FLASHLOAN_PREMIUM_TOTAL", premiumRaw)
	if err != nil {
		return nil, err
	}
	if len(premiumValues) == 0 {
		return nil, fmt.Errorf("extractors: FLASHLOAN_PREMIUM_TOTAL(): empty return")
	}
	premium, ok := premiumValues[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("extractors: FLASHLOAN_PREMIUM_TOTAL(): unexpected return type")
	}

	reserveInput, err := ectx.Catalog.Pack(contractcodec.ProtocolAaveV3Pool, "getReserveData", provider.AssetAddress)
	if err != nil {
		return nil, err
	}
	reserveKey := fmt.Sprintf("flreserve:%s:%s:%s", provider.Chain, provider.PoolAddress.Hex(), provider.Asset)
	reserveRaw, err := callCached(ctx, ectx, provider.Chain, provider.PoolAddress, reserveInput, reserveKey)
	if err != nil {
		return nil, err
	}
	reserveValues, err := ectx.Catalog.Unpack(contractcodec.ProtocolAaveV3Pool, "getReserveData", reserveRaw)
	if err != nil {
		return nil, err
	}

	// Aave V3's premium is expressed in basis points of a 1e4 denominator.
	feeBps := bigToFloat(premium, 0)

	return &qenus.FlashLoanPayload{
		Provider:              provider.Provider,
		Asset:                 provider.Asset,
		FeeBps:                feeBps,
		AvailableLiquidityUSD: reserveLiquidityPlaceholder(reserveValues),
	}, nil
}

// reserveLiquidityPlaceholder extracts whatever liquidity signal
// getReserveData's tuple can cheaply offer; a fuller implementation would
// additionally read the aToken's totalSupply, left for a dedicated
// liquidity-depth extractor.
func reserveLiquidityPlaceholder(values []any) float64 {
	if len(values) == 0 {
		return 0
	}
	if liquidityIndex, ok := values[1].(*big.Int); ok {
		return bigToFloat(liquidityIndex, 27) // Aave's ray-precision index, informative only as a relative signal
	}
	return 0
}

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

// BridgeVenue is one curated cross-chain bridge route a BridgeExtractor
// watches, read through its on-chain quoting contract on the source chain.
type BridgeVenue struct {
	SrcChain      qenus.Chain
	DstChain      qenus.Chain
	Asset         string
	TokenAddress  common.Address
	ContractAddr  common.Address
	AssetDecimals int
	ProbeAmount   *big.Int // notional used to quote fee(); a mid-sized transfer, not the live trade size
}

// BridgeExtractor produces FeatureBridge observations for a curated set of
// bridge routes.
type BridgeExtractor struct {
	venues []BridgeVenue
}

// NewBridgeExtractor builds an extractor over the given curated route list.
func NewBridgeExtractor(venues []BridgeVenue) *BridgeExtractor {
	return &BridgeExtractor{venues: venues}
}

func (e *BridgeExtractor) Name() string                  { return "bridge" }
func (e *BridgeExtractor) FeatureKind() qenus.FeatureKind { return qenus.FeatureBridge }

func (e *BridgeExtractor) SupportedChains() []qenus.Chain {
	seen := make(map[qenus.Chain]bool)
	var out []qenus.Chain
	for _, v := range e.venues {
		if !seen[v.SrcChain] {
			seen[v.SrcChain] = true
			out = append(out, v.SrcChain)
		}
	}
	return out
}

func (e *BridgeExtractor) ExtractForBlock(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	return e.extract(ctx, chain, blockNumber, ectx)
}

func (e *BridgeExtractor) ExtractLatest(ctx context.Context, chain qenus.Chain, ectx *Context) ([]qenus.Feature, error) {
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

func (e *BridgeExtractor) extract(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	now := time.Now().UTC()
	var features []qenus.Feature

	for _, venue := range e.venues {
		if venue.SrcChain != chain {
			continue
		}

		payload, err := e.observe(ctx, venue, ectx)
		if err != nil {
			logSkippedEntity(e.Name(), fmt.Sprintf("%s->%s:%s", venue.SrcChain, venue.DstChain, venue.Asset), err)
			continue
		}

		features = append(features, qenus.Feature{
			ID:            fmt.Sprintf("bridge:%s:%s:%s:%d", venue.SrcChain, venue.DstChain, venue.Asset, blockNumber),
			Chain:         chain,
			BlockNumber:   blockNumber,
			Timestamp:     now,
			Kind:          qenus.FeatureBridge,
			Payload:       payload,
			Source:        e.Name(),
			SchemaVersion: 1,
		})
	}

	return features, nil
}

func (e *BridgeExtractor) observe(ctx context.Context, venue BridgeVenue, ectx *Context) (*qenus.BridgePayload, error) {
	probe := venue.ProbeAmount
	if probe == nil {
		probe = big.NewInt(1_000_000_000) // 1000 units at 6 decimals, a representative mid-sized quote
	}

	feeInput, err := ectx.Catalog.Pack(contractcodec.ProtocolBridge, "fee", venue.TokenAddress, probe)
	if err != nil {
		return nil, err
	}
	feeKey := fmt.Sprintf("bridgefee:%s:%s:%s", venue.SrcChain, venue.DstChain, venue.Asset)
	feeRaw, err := callCached(ctx, ectx, venue.SrcChain, venue.ContractAddr, feeInput, feeKey)
	if err != nil {
		return nil, err
	}
	feeValues, err := ectx.Catalog.Unpack(contractcodec.ProtocolBridge, "fee", feeRaw)
	if err != nil {
		return nil, err
	}
	if len(feeValues) == 0 {
		return nil, fmt.Errorf("extractors: bridge fee(): empty return")
	}
	feeAmount, ok := feeValues[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("extractors: bridge fee(): unexpected return type")
	}

	feeUnits := bigToFloat(feeAmount, venue.AssetDecimals)
	probeUnits := bigToFloat(probe, venue.AssetDecimals)
	feeBps := 0.0
	if probeUnits > 0 {
		feeBps = feeUnits / probeUnits * 10000
	}

	return &qenus.BridgePayload{
		SrcChain: venue.SrcChain,
		DstChain: venue.DstChain,
		Asset:    venue.Asset,
		FeeBps:   feeBps,
	}, nil
}

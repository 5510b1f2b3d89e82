package extractors

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"qenus"
)

// GasExtractor produces FeatureGas observations from a chain's live gas
// market via the standard eth_gasPrice / eth_maxPriorityFeePerGas RPCs.
type GasExtractor struct {
	chains []qenus.Chain
}

// NewGasExtractor builds an extractor watching the given chains.
func NewGasExtractor(chains []qenus.Chain) *GasExtractor {
	return &GasExtractor{chains: chains}
}

func (e *GasExtractor) Name() string                  { return "gas" }
func (e *GasExtractor) FeatureKind() qenus.FeatureKind { return qenus.FeatureGas }
func (e *GasExtractor) SupportedChains() []qenus.Chain { return e.chains }

func (e *GasExtractor) ExtractForBlock(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	return e.extract(ctx, chain, blockNumber, ectx)
}

func (e *GasExtractor) ExtractLatest(ctx context.Context, chain qenus.Chain, ectx *Context) ([]qenus.Feature, error) {
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

func (e *GasExtractor) extract(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error) {
	pool, ok := ectx.Pools[chain]
	if !ok {
		return nil, errUnsupportedChain(chain)
	}

	gasPrice, err := pool.SuggestGasPrice(ctx)
	if err != nil {
		logSkippedEntity(e.Name(), string(chain), err)
		return nil, nil
	}
	tipCap, err := pool.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(0) // priority-fee suggestion is best-effort; fall back to base-fee-only pricing
	}

	baseFeeGwei := weiToGwei(gasPrice)
	tipGwei := weiToGwei(tipCap)

	payload := &qenus.GasPayload{
		BaseFeeGwei:  baseFeeGwei,
		SafeGwei:     baseFeeGwei + tipGwei*0.5,
		StandardGwei: baseFeeGwei + tipGwei,
		FastGwei:     baseFeeGwei + tipGwei*1.5,
	}

	return []qenus.Feature{{
		ID:            fmt.Sprintf("gas:%s:%d", chain, blockNumber),
		Chain:         chain,
		BlockNumber:   blockNumber,
		Timestamp:     time.Now().UTC(),
		Kind:          qenus.FeatureGas,
		Payload:       payload,
		Source:        e.Name(),
		SchemaVersion: 1,
	}}, nil
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

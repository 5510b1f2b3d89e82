// Package extractors implements the per-domain feature producers of spec
// §4.E: each extractor walks a curated list of on-chain entities, performs
// the minimal RPC calls needed to observe their state, decodes the
// responses, and returns a batch of Features tagged with block number and
// timestamp. A single entity's failure is logged and skipped; the batch
// itself is still returned.
package extractors

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"qenus"
	"qenus/internal/cache"
	"qenus/internal/contractcodec"
	"qenus/internal/rpcpool"
)

// Context carries the shared dependencies and per-call cache an extraction
// pass reads and writes through. One Context may be shared across many
// extractor invocations, in which case its Cache persists between passes.
type Context struct {
	Pools   map[qenus.Chain]*rpcpool.Pool
	Catalog *contractcodec.Catalog
	Cache   *cache.Cache[string, []byte]
}

// Extractor is the closed capability contract every feature producer
// implements, per §4.E.
type Extractor interface {
	Name() string
	FeatureKind() qenus.FeatureKind
	SupportedChains() []qenus.Chain
	ExtractForBlock(ctx context.Context, chain qenus.Chain, blockNumber uint64, ectx *Context) ([]qenus.Feature, error)
	ExtractLatest(ctx context.Context, chain qenus.Chain, ectx *Context) ([]qenus.Feature, error)
}

// callCached performs a cached eth_call: data is looked up in ectx.Cache by
// key before falling back to a live CallContract against the chain's RPC
// pool.
func callCached(ctx context.Context, ectx *Context, chain qenus.Chain, to common.Address, input []byte, key string) ([]byte, error) {
	if ectx.Cache != nil {
		if v, ok := ectx.Cache.Get(key); ok {
			return v, nil
		}
	}

	pool, ok := ectx.Pools[chain]
	if !ok {
		return nil, errUnsupportedChain(chain)
	}

	result, err := pool.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	if ectx.Cache != nil {
		ectx.Cache.Set(key, result)
	}
	return result, nil
}

func errUnsupportedChain(chain qenus.Chain) error {
	return &unsupportedChainError{chain: chain}
}

type unsupportedChainError struct{ chain qenus.Chain }

func (e *unsupportedChainError) Error() string {
	return "extractors: no RPC pool configured for chain " + string(e.chain)
}

func logSkippedEntity(extractor, entity string, err error) {
	log.Warn().Str("extractor", extractor).Str("entity", entity).Err(err).Msg("skipping entity after extraction failure")
}

func bigToFloat(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetFloat64(pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func pow10(exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= 10
	}
	for i := 0; i > exp; i-- {
		result /= 10
	}
	return result
}

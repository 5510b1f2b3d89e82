package extractors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
	"qenus/internal/rpcpool"
)

type rpcRequest struct {
	Method string `json:"method"`
	ID     any    `json:"id"`
}

// newFakeRPCServer answers a fixed set of JSON-RPC methods with canned hex
// results, standing in for a real node so the extractor's full call path
// can be exercised without network access.
func newFakeRPCServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := responses[req.Method]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32601, "message": "method not found: " + req.Method},
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		})
	}))
}

func TestGasExtractorBuildsPayloadFromSuggestions(t *testing.T) {
	server := newFakeRPCServer(t, map[string]string{
		"eth_blockNumber":           "0x64",
		"eth_gasPrice":              "0x4a817c800", // 20 gwei
		"eth_maxPriorityFeePerGas":  "0x3b9aca00",   // 1 gwei
	})
	defer server.Close()

	ctx := context.Background()
	pool, err := rpcpool.Dial(ctx, string(qenus.ChainEthereum), []rpcpool.ProviderConfig{
		{Name: "fake", HTTPURL: server.URL, RateLimitRPS: 100, Enabled: true},
	}, rpcpool.StrategyPrimaryFallback)
	require.NoError(t, err)
	defer pool.Close()

	extractor := NewGasExtractor([]qenus.Chain{qenus.ChainEthereum})
	ectx := &Context{Pools: map[qenus.Chain]*rpcpool.Pool{qenus.ChainEthereum: pool}}

	features, err := extractor.ExtractLatest(ctx, qenus.ChainEthereum, ectx)
	require.NoError(t, err)
	require.Len(t, features, 1)

	payload, ok := features[0].Payload.(*qenus.GasPayload)
	require.True(t, ok)
	assert.InDelta(t, 20.0, payload.BaseFeeGwei, 0.01)
	assert.InDelta(t, 21.0, payload.StandardGwei, 0.01)
	assert.Equal(t, uint64(100), features[0].BlockNumber)
}

func TestGasExtractorErrorsOnChainWithNoPool(t *testing.T) {
	extractor := NewGasExtractor([]qenus.Chain{qenus.ChainBase})
	_, err := extractor.ExtractLatest(context.Background(), qenus.ChainBase, &Context{Pools: map[qenus.Chain]*rpcpool.Pool{}})
	assert.Error(t, err)
}

func TestGasExtractorSupportedChains(t *testing.T) {
	extractor := NewGasExtractor([]qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum})
	assert.ElementsMatch(t, []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum}, extractor.SupportedChains())
}

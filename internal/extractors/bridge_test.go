package extractors

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"qenus"
)

func TestBridgeExtractorSupportedChainsUsesSourceSide(t *testing.T) {
	extractor := NewBridgeExtractor([]BridgeVenue{
		{SrcChain: qenus.ChainEthereum, DstChain: qenus.ChainArbitrum, Asset: "USDC", ContractAddr: common.HexToAddress("0x1")},
		{SrcChain: qenus.ChainArbitrum, DstChain: qenus.ChainEthereum, Asset: "USDC", ContractAddr: common.HexToAddress("0x2")},
	})

	assert.ElementsMatch(t, []qenus.Chain{qenus.ChainEthereum, qenus.ChainArbitrum}, extractor.SupportedChains())
	assert.Equal(t, "bridge", extractor.Name())
	assert.Equal(t, qenus.FeatureBridge, extractor.FeatureKind())
}

func TestBridgeExtractorExtractLatestErrorsOnUnconfiguredChain(t *testing.T) {
	extractor := NewBridgeExtractor(nil)
	_, err := extractor.ExtractLatest(context.Background(), qenus.ChainBase, &Context{})
	assert.Error(t, err)
}

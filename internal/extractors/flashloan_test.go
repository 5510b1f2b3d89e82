package extractors

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"qenus"
)

func TestFlashLoanExtractorSupportedChains(t *testing.T) {
	extractor := NewFlashLoanExtractor([]FlashLoanProvider{
		{Chain: qenus.ChainEthereum, Provider: "aave_v3", PoolAddress: common.HexToAddress("0x1")},
		{Chain: qenus.ChainOptimism, Provider: "aave_v3", PoolAddress: common.HexToAddress("0x2")},
	})

	assert.ElementsMatch(t, []qenus.Chain{qenus.ChainEthereum, qenus.ChainOptimism}, extractor.SupportedChains())
	assert.Equal(t, "flash_loan", extractor.Name())
	assert.Equal(t, qenus.FeatureFlashLoan, extractor.FeatureKind())
}

func TestFlashLoanExtractorExtractLatestErrorsOnUnconfiguredChain(t *testing.T) {
	extractor := NewFlashLoanExtractor(nil)
	_, err := extractor.ExtractLatest(context.Background(), qenus.ChainPolygon, &Context{})
	assert.Error(t, err)
}

func TestReserveLiquidityPlaceholderReadsLiquidityIndex(t *testing.T) {
	ray := new(big.Int)
	ray.SetString("1000000000000000000000000000", 10) // 1e27, Aave's 1.0 ray
	values := []any{big.NewInt(0), ray}
	assert.InDelta(t, 1.0, reserveLiquidityPlaceholder(values), 1e-9)
}

func TestReserveLiquidityPlaceholderHandlesEmpty(t *testing.T) {
	assert.Equal(t, 0.0, reserveLiquidityPlaceholder(nil))
}

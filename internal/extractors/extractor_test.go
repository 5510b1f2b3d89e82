package extractors

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"qenus"
)

func TestBigToFloatAdjustsDecimals(t *testing.T) {
	v := big.NewInt(1_500_000) // 1.5 at 6 decimals
	assert.InDelta(t, 1.5, bigToFloat(v, 6), 1e-9)
}

func TestBigToFloatNilIsZero(t *testing.T) {
	assert.Equal(t, 0.0, bigToFloat(nil, 18))
}

func TestPow10HandlesNegativeExponent(t *testing.T) {
	assert.InDelta(t, 0.01, pow10(-2), 1e-12)
	assert.InDelta(t, 100.0, pow10(2), 1e-9)
	assert.Equal(t, 1.0, pow10(0))
}

func TestErrUnsupportedChainNamesChain(t *testing.T) {
	err := errUnsupportedChain(qenus.ChainPolygon)
	assert.Contains(t, err.Error(), "polygon")
}

package contractcodec

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var errMalformedReturn = errors.New("malformed return data")

// Slot0 is the decoded return of Uniswap V3's slot0() view.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	Unlocked     bool
}

// DecodeUniswapV3Slot0 decodes the raw return data of a slot0() call.
func (c *Catalog) DecodeUniswapV3Slot0(data []byte) (Slot0, error) {
	values, err := c.Unpack(ProtocolUniswapV3Pool, "slot0", data)
	if err != nil {
		return Slot0{}, err
	}
	if len(values) < 7 {
		return Slot0{}, newCodecError(ProtocolUniswapV3Pool, "slot0", errMalformedReturn)
	}

	sqrtPriceX96, ok := values[0].(*big.Int)
	if !ok {
		return Slot0{}, newCodecError(ProtocolUniswapV3Pool, "slot0", errMalformedReturn)
	}
	tickBig, ok := values[1].(*big.Int)
	if !ok {
		return Slot0{}, newCodecError(ProtocolUniswapV3Pool, "slot0", errMalformedReturn)
	}
	unlocked, _ := values[6].(bool)

	return Slot0{
		SqrtPriceX96: sqrtPriceX96,
		Tick:         int32(tickBig.Int64()),
		Unlocked:     unlocked,
	}, nil
}

// SignExtendInt24 interprets raw as a two's-complement int24 packed into
// the low 24 bits of a uint32 and sign-extends it to int32. It exists for
// tick values read out of a raw log word rather than through abi.Unpack
// (which already sign-extends intN types on its own).
func SignExtendInt24(raw uint32) int32 {
	const signBit = 1 << 23
	v := raw & 0xFFFFFF
	if v&signBit != 0 {
		return int32(v) - (1 << 24)
	}
	return int32(v)
}

var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// MidPriceFromSqrtPriceX96 converts a Uniswap V3 sqrtPriceX96 fixed-point
// value into the price of token0 denominated in token1, adjusted for each
// token's decimals. Squaring is done with holiman/uint256 so an
// out-of-range sqrtPriceX96 (which should never occur for a live pool but
// could for corrupted RPC data) saturates instead of silently wrapping the
// way a plain *big.Int Mul does not, and instead surfaces as a visibly
// maxed-out price.
func MidPriceFromSqrtPriceX96(sqrtPriceX96 *big.Int, decimals0, decimals1 int) float64 {
	sqrtP, overflow := uint256.FromBig(sqrtPriceX96)
	if overflow {
		sqrtP = maxUint256()
	}

	squared, overflowed := new(uint256.Int).MulOverflow(sqrtP, sqrtP)
	if overflowed {
		squared = maxUint256()
	}

	ratio := new(big.Float).SetInt(squared.ToBig())
	ratio.Quo(ratio, q96)
	ratio.Quo(ratio, q96)

	decimalAdjustment := new(big.Float).SetFloat64(pow10(decimals0 - decimals1))
	ratio.Mul(ratio, decimalAdjustment)

	price, _ := ratio.Float64()
	return price
}

// maxUint256 returns 2^256-1 via unsigned underflow, the idiomatic way to
// obtain the saturation ceiling with holiman/uint256's modular arithmetic.
func maxUint256() *uint256.Int {
	return new(uint256.Int).Sub(uint256.NewInt(0), uint256.NewInt(1))
}

// Reserves is the pair of approximate token reserves implied by a
// Uniswap V3 pool's current liquidity and price:
// reserve0 ≈ L·2^96/sqrtPriceX96, reserve1 ≈ L·sqrtPriceX96/2^96.
type Reserves struct {
	Reserve0 float64
	Reserve1 float64
}

// ReservesFromLiquidity derives the concentrated-liquidity-equivalent
// reserves at the pool's current tick. Both multiplications are carried
// out with uint256 so an adversarial or corrupted liquidity/price pair
// saturates at the 256-bit ceiling instead of wrapping.
func ReservesFromLiquidity(liquidity *big.Int, sqrtPriceX96 *big.Int, decimals0, decimals1 int) Reserves {
	l, overflow := uint256.FromBig(liquidity)
	if overflow {
		l = maxUint256()
	}
	sqrtP, overflow := uint256.FromBig(sqrtPriceX96)
	if overflow {
		sqrtP = maxUint256()
	}
	if sqrtP.IsZero() {
		return Reserves{}
	}

	lShifted := new(uint256.Int).Lsh(l, 96)
	reserve0Raw := new(uint256.Int).Div(lShifted, sqrtP)

	reserve1Raw, overflowed := new(uint256.Int).MulOverflow(l, sqrtP)
	if overflowed {
		reserve1Raw = maxUint256()
	}
	reserve1Raw.Rsh(reserve1Raw, 96)

	reserve0 := bigToFloatAdjusted(reserve0Raw.ToBig(), decimals0)
	reserve1 := bigToFloatAdjusted(reserve1Raw.ToBig(), decimals1)
	return Reserves{Reserve0: reserve0, Reserve1: reserve1}
}

func bigToFloatAdjusted(v *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, new(big.Float).SetFloat64(pow10(decimals)))
	out, _ := f.Float64()
	return out
}

func pow10(exp int) float64 {
	result := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			result *= 10
		}
		return result
	}
	for i := 0; i > exp; i-- {
		result /= 10
	}
	return result
}

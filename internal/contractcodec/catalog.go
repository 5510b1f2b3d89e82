// Package contractcodec holds a static ABI catalog for the protocols qenus
// reads from and the decoding math layered on top of it: a fixed set of
// protocol ABIs known at compile time.
package contractcodec

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Protocol names the fixed catalog of contract interfaces qenus decodes.
type Protocol string

const (
	ProtocolUniswapV3Pool Protocol = "uniswap_v3_pool"
	ProtocolERC20         Protocol = "erc20"
	ProtocolCurvePool     Protocol = "curve_pool"
	ProtocolBalancerVault Protocol = "balancer_vault"
	ProtocolAaveV3Pool    Protocol = "aave_v3_pool"
	ProtocolBridge        Protocol = "bridge"
)

// catalogABI maps each protocol to the minimal ABI fragment qenus needs to
// encode calls and decode results for it.
var catalogABI = map[Protocol]string{
	ProtocolUniswapV3Pool: `[
		{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[
			{"name":"sqrtPriceX96","type":"uint160"},
			{"name":"tick","type":"int24"},
			{"name":"observationIndex","type":"uint16"},
			{"name":"observationCardinality","type":"uint16"},
			{"name":"observationCardinalityNext","type":"uint16"},
			{"name":"feeProtocol","type":"uint8"},
			{"name":"unlocked","type":"bool"}
		]},
		{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
		{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]},
		{"name":"tickSpacing","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int24"}]}
	]`,
	ProtocolERC20: `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`,
	ProtocolCurvePool: `[
		{"name":"get_dy","type":"function","stateMutability":"view","inputs":[
			{"name":"i","type":"int128"},{"name":"j","type":"int128"},{"name":"dx","type":"uint256"}
		],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"balances","type":"function","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"coins","type":"function","stateMutability":"view","inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"get_virtual_price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`,
	ProtocolBalancerVault: `[
		{"name":"getPoolTokens","type":"function","stateMutability":"view","inputs":[{"name":"poolId","type":"bytes32"}],"outputs":[
			{"name":"tokens","type":"address[]"},
			{"name":"balances","type":"uint256[]"},
			{"name":"lastChangeBlock","type":"uint256"}
		]}
	]`,
	ProtocolAaveV3Pool: `[
		{"name":"getReserveData","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[
			{"name":"configuration","type":"uint256"},
			{"name":"liquidityIndex","type":"uint128"},
			{"name":"currentLiquidityRate","type":"uint128"},
			{"name":"variableBorrowIndex","type":"uint128"},
			{"name":"currentVariableBorrowRate","type":"uint128"},
			{"name":"currentStableBorrowRate","type":"uint128"},
			{"name":"lastUpdateTimestamp","type":"uint40"},
			{"name":"id","type":"uint16"},
			{"name":"aTokenAddress","type":"address"},
			{"name":"stableDebtTokenAddress","type":"address"},
			{"name":"variableDebtTokenAddress","type":"address"},
			{"name":"interestRateStrategyAddress","type":"address"},
			{"name":"accruedToTreasury","type":"uint128"},
			{"name":"unbacked","type":"uint128"},
			{"name":"isolationModeTotalDebt","type":"uint128"}
		]},
		{"name":"FLASHLOAN_PREMIUM_TOTAL","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]}
	]`,
	ProtocolBridge: `[
		{"name":"minAmount","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"maxAmount","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"fee","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`,
}

// Catalog holds every catalogued protocol's ABI, all parsed up front by
// NewCatalog.
type Catalog struct {
	abis map[Protocol]abi.ABI
}

// NewCatalog parses every catalogued protocol's ABI fragment. It returns an
// error rather than panicking so a malformed fragment surfaces at startup
// through normal error handling instead of crashing the process.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{abis: make(map[Protocol]abi.ABI, len(catalogABI))}
	for protocol, raw := range catalogABI {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, newCodecError(protocol, "", err)
		}
		c.abis[protocol] = parsed
	}
	return c, nil
}

// ABI returns the parsed ABI for protocol.
func (c *Catalog) ABI(protocol Protocol) (abi.ABI, bool) {
	a, ok := c.abis[protocol]
	return a, ok
}

// Pack encodes a call to method on protocol with the given arguments.
func (c *Catalog) Pack(protocol Protocol, method string, args ...any) ([]byte, error) {
	a, ok := c.abis[protocol]
	if !ok {
		return nil, newCodecError(protocol, method, errUnknownProtocol)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, newCodecError(protocol, method, err)
	}
	return data, nil
}

// Unpack decodes the return data of method on protocol into a slice of
// dynamically-typed values, in ABI output order.
func (c *Catalog) Unpack(protocol Protocol, method string, data []byte) ([]any, error) {
	a, ok := c.abis[protocol]
	if !ok {
		return nil, newCodecError(protocol, method, errUnknownProtocol)
	}
	values, err := a.Unpack(method, data)
	if err != nil {
		return nil, newCodecError(protocol, method, err)
	}
	return values, nil
}

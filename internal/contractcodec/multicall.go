package contractcodec

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// multicallABI is the Multicall3 aggregate3 interface most chains qenus
// targets have deployed at a well-known address, letting extractors batch
// many read calls into a single eth_call instead of one round trip per
// call.
var multicallABI = `[
	{"name":"aggregate3","type":"function","stateMutability":"payable","inputs":[
		{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"allowFailure","type":"bool"},
			{"name":"callData","type":"bytes"}
		]}
	],"outputs":[
		{"name":"returnData","type":"tuple[]","components":[
			{"name":"success","type":"bool"},
			{"name":"returnData","type":"bytes"}
		]}
	]}
]`

// Call3 is one leg of a multicall aggregate3 request.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result3 is one leg of a multicall aggregate3 response.
type Result3 struct {
	Success    bool
	ReturnData []byte
}

// MulticallCodec encodes and decodes Multicall3's aggregate3 call.
type MulticallCodec struct {
	abi abi.ABI
}

// NewMulticallCodec parses the Multicall3 ABI fragment.
func NewMulticallCodec() (*MulticallCodec, error) {
	parsed, err := abi.JSON(strings.NewReader(multicallABI))
	if err != nil {
		return nil, newCodecError("multicall3", "aggregate3", err)
	}
	return &MulticallCodec{abi: parsed}, nil
}

// EncodeMulticall packs a batch of calls into a single aggregate3 call.
func (m *MulticallCodec) EncodeMulticall(calls []Call3) ([]byte, error) {
	type call3Tuple struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	tuples := make([]call3Tuple, len(calls))
	for i, c := range calls {
		tuples[i] = call3Tuple{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}
	data, err := m.abi.Pack("aggregate3", tuples)
	if err != nil {
		return nil, newCodecError("multicall3", "aggregate3", err)
	}
	return data, nil
}

// DecodeMulticallResult unpacks an aggregate3 return into per-call results.
func (m *MulticallCodec) DecodeMulticallResult(data []byte) ([]Result3, error) {
	values, err := m.abi.Unpack("aggregate3", data)
	if err != nil {
		return nil, newCodecError("multicall3", "aggregate3", err)
	}
	if len(values) != 1 {
		return nil, newCodecError("multicall3", "aggregate3", errMalformedReturn)
	}

	type result3Tuple struct {
		Success    bool
		ReturnData []byte
	}
	// Unpack yields a slice of an anonymous reflect-built struct type, so a
	// plain type assertion to []result3Tuple never matches; ConvertType
	// copies it field by field.
	tuples := *abi.ConvertType(values[0], new([]result3Tuple)).(*[]result3Tuple)

	out := make([]Result3, len(tuples))
	for i, t := range tuples {
		out[i] = Result3{Success: t.Success, ReturnData: t.ReturnData}
	}
	return out, nil
}

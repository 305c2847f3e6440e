// Package batch accumulates the calls that will be folded into one user operation.
package batch

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/lo"
)

// PendingCall is one call the smart account will make.
type PendingCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// execution mirrors the ERC-7579 Execution struct for abi packing.
type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

const executeABIJSON = `[{"type":"function","name":"execute","inputs":[{"name":"mode","type":"bytes32"},{"name":"executionCalldata","type":"bytes"}],"outputs":[],"stateMutability":"payable"}]`

var (
	// ModeSingle and ModeBatch are the ERC-7579 call types in the first byte of the mode word.
	ModeSingle = [32]byte{}
	ModeBatch  = [32]byte{0x01}

	executeABI    abi.ABI
	executionsArg abi.Arguments
)

func init() {
	var err error
	executeABI, err = abi.JSON(strings.NewReader(executeABIJSON))
	if err != nil {
		panic(fmt.Errorf("invalid execute ABI: %w", err))
	}

	executionsT, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Errorf("invalid executions type: %w", err))
	}
	executionsArg = abi.Arguments{{Type: executionsT}}
}

// Accumulator holds the ordered calls for the next operation. The mutex only
// guards against accidental concurrent use; one lifecycle at a time is expected.
type Accumulator struct {
	mu    sync.Mutex
	calls []PendingCall
}

func New() *Accumulator {
	return &Accumulator{}
}

// Clear drops every pending call. It is always safe to call.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

// AddCall appends a call and returns a copy of the pending calls in insertion order.
// No validation happens here; bad targets surface at estimation or execution.
func (a *Accumulator) AddCall(target common.Address, value *big.Int, data []byte) []PendingCall {
	a.mu.Lock()
	defer a.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	a.calls = append(a.calls, PendingCall{
		Target: target,
		Value:  new(big.Int).Set(value),
		Data:   common.CopyBytes(data),
	})
	return a.snapshot()
}

func (a *Accumulator) Calls() []PendingCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// EncodeCallData folds the pending calls into the account's execute calldata.
func (a *Accumulator) EncodeCallData() ([]byte, error) {
	return EncodeCalls(a.Calls())
}

// Fingerprint identifies the current batch contents.
func (a *Accumulator) Fingerprint() (common.Hash, error) {
	data, err := a.EncodeCallData()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(data), nil
}

func (a *Accumulator) snapshot() []PendingCall {
	return lo.Map(a.calls, func(c PendingCall, _ int) PendingCall {
		return PendingCall{
			Target: c.Target,
			Value:  new(big.Int).Set(c.Value),
			Data:   common.CopyBytes(c.Data),
		}
	})
}

// EncodeCalls builds ERC-7579 execute calldata. A single call uses the compact
// single-call encoding; zero or several calls use the batch encoding.
func EncodeCalls(calls []PendingCall) ([]byte, error) {
	if len(calls) == 1 {
		c := calls[0]
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		payload := make([]byte, 0, common.AddressLength+32+len(c.Data))
		payload = append(payload, c.Target.Bytes()...)
		payload = append(payload, common.LeftPadBytes(value.Bytes(), 32)...)
		payload = append(payload, c.Data...)
		return executeABI.Pack("execute", ModeSingle, payload)
	}

	executions := lo.Map(calls, func(c PendingCall, _ int) execution {
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		data := c.Data
		if data == nil {
			data = []byte{}
		}
		return execution{Target: c.Target, Value: value, CallData: data}
	})

	payload, err := executionsArg.Pack(executions)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executions: %w", err)
	}
	return executeABI.Pack("execute", ModeBatch, payload)
}

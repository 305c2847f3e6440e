package userop

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	paymasterAddressLen   = common.AddressLength
	paymasterGasFieldsLen = 32
	factoryAddressLen     = common.AddressLength
)

// RPCUserOperationV06 is the JSON shape bundlers and paymasters expect for entry point v0.6.
type RPCUserOperationV06 struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// RPCUserOperationV07 is the unpacked JSON shape used by v0.7 bundlers and paymasters.
type RPCUserOperationV07 struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// PaymasterFields is the v0.7 view of paymasterAndData.
type PaymasterFields struct {
	Paymaster                     common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
}

// PackPaymasterAndData builds the v0.7 paymasterAndData layout:
// paymaster (20) | verification gas (16) | postOp gas (16) | paymasterData.
func PackPaymasterAndData(f PaymasterFields) ([]byte, error) {
	gas, err := PackUint128Pair(f.PaymasterVerificationGasLimit, f.PaymasterPostOpGasLimit)
	if err != nil {
		return nil, fmt.Errorf("paymaster gas limits: %w", err)
	}
	out := make([]byte, 0, paymasterAddressLen+paymasterGasFieldsLen+len(f.PaymasterData))
	out = append(out, f.Paymaster.Bytes()...)
	out = append(out, gas[:]...)
	out = append(out, f.PaymasterData...)
	return out, nil
}

// SplitPaymasterAndData is the inverse of PackPaymasterAndData.
func SplitPaymasterAndData(data []byte) (*PaymasterFields, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < paymasterAddressLen+paymasterGasFieldsLen {
		return nil, fmt.Errorf("paymasterAndData too short for v0.7: %d bytes", len(data))
	}
	var word [32]byte
	copy(word[:], data[paymasterAddressLen:paymasterAddressLen+paymasterGasFieldsLen])
	verification, postOp := UnpackUint128Pair(word)
	return &PaymasterFields{
		Paymaster:                     common.BytesToAddress(data[:paymasterAddressLen]),
		PaymasterVerificationGasLimit: verification,
		PaymasterPostOpGasLimit:       postOp,
		PaymasterData:                 common.CopyBytes(data[paymasterAddressLen+paymasterGasFieldsLen:]),
	}, nil
}

// EncodeRPC converts op into the JSON-RPC shape for the given entry point version.
func EncodeRPC(op *UserOperation, version EntryPointVersion) (interface{}, error) {
	switch version {
	case EntryPointV06:
		return ToRPCV06(op), nil
	case EntryPointV07:
		return ToRPCV07(op)
	}
	return nil, fmt.Errorf("unsupported entry point version %q", version)
}

func ToRPCV06(op *UserOperation) *RPCUserOperationV06 {
	return &RPCUserOperationV06{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		InitCode:             hexBytes(op.InitCode),
		CallData:             hexBytes(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     hexBytes(op.PaymasterAndData),
		Signature:            hexBytes(op.Signature),
	}
}

func ToRPCV07(op *UserOperation) (*RPCUserOperationV07, error) {
	out := &RPCUserOperationV07{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		CallData:             hexBytes(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		Signature:            hexBytes(op.Signature),
	}

	if len(op.InitCode) > 0 {
		if len(op.InitCode) < factoryAddressLen {
			return nil, fmt.Errorf("initCode too short: %d bytes", len(op.InitCode))
		}
		factory := common.BytesToAddress(op.InitCode[:factoryAddressLen])
		out.Factory = &factory
		out.FactoryData = hexBytes(op.InitCode[factoryAddressLen:])
	}

	pm, err := SplitPaymasterAndData(op.PaymasterAndData)
	if err != nil {
		return nil, err
	}
	if pm != nil {
		out.Paymaster = &pm.Paymaster
		out.PaymasterVerificationGasLimit = hexBig(pm.PaymasterVerificationGasLimit)
		out.PaymasterPostOpGasLimit = hexBig(pm.PaymasterPostOpGasLimit)
		out.PaymasterData = hexBytes(pm.PaymasterData)
	}
	return out, nil
}

// DecodeRPC parses a user operation JSON object in either wire shape.
func DecodeRPC(raw json.RawMessage, version EntryPointVersion) (*UserOperation, error) {
	switch version {
	case EntryPointV06:
		var w RPCUserOperationV06
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("failed to decode v0.6 user operation: %w", err)
		}
		return &UserOperation{
			Sender:               w.Sender,
			Nonce:                w.Nonce.ToInt(),
			InitCode:             w.InitCode,
			CallData:             w.CallData,
			CallGasLimit:         w.CallGasLimit.ToInt(),
			VerificationGasLimit: w.VerificationGasLimit.ToInt(),
			PreVerificationGas:   w.PreVerificationGas.ToInt(),
			MaxFeePerGas:         w.MaxFeePerGas.ToInt(),
			MaxPriorityFeePerGas: w.MaxPriorityFeePerGas.ToInt(),
			PaymasterAndData:     w.PaymasterAndData,
			Signature:            w.Signature,
		}, nil
	case EntryPointV07:
		var w RPCUserOperationV07
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("failed to decode v0.7 user operation: %w", err)
		}
		op := &UserOperation{
			Sender:               w.Sender,
			Nonce:                w.Nonce.ToInt(),
			CallData:             w.CallData,
			CallGasLimit:         w.CallGasLimit.ToInt(),
			VerificationGasLimit: w.VerificationGasLimit.ToInt(),
			PreVerificationGas:   w.PreVerificationGas.ToInt(),
			MaxFeePerGas:         w.MaxFeePerGas.ToInt(),
			MaxPriorityFeePerGas: w.MaxPriorityFeePerGas.ToInt(),
			Signature:            w.Signature,
		}
		if w.Factory != nil {
			op.InitCode = append(w.Factory.Bytes(), w.FactoryData...)
		}
		if w.Paymaster != nil {
			pmd, err := PackPaymasterAndData(PaymasterFields{
				Paymaster:                     *w.Paymaster,
				PaymasterVerificationGasLimit: w.PaymasterVerificationGasLimit.ToInt(),
				PaymasterPostOpGasLimit:       w.PaymasterPostOpGasLimit.ToInt(),
				PaymasterData:                 w.PaymasterData,
			})
			if err != nil {
				return nil, err
			}
			op.PaymasterAndData = pmd
		}
		return op, nil
	}
	return nil, fmt.Errorf("unsupported entry point version %q", version)
}

func hexBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(orZero(v))
}

func hexBytes(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return hexutil.Bytes(b)
}

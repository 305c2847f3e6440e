package userop

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EntryPointVersion string

const (
	EntryPointV06 EntryPointVersion = "v0.6"
	EntryPointV07 EntryPointVersion = "v0.7"
)

var (
	// Canonical deployments of the entry point contracts
	EntryPointV06Address = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	EntryPointV07Address = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
)

func (v EntryPointVersion) Valid() bool {
	return v == EntryPointV06 || v == EntryPointV07
}

// DefaultAddress returns the canonical entry point deployment for the version.
func (v EntryPointVersion) DefaultAddress() common.Address {
	if v == EntryPointV06 {
		return EntryPointV06Address
	}
	return EntryPointV07Address
}

// UserOperation represents an EIP-4337 style transaction for a smart contract account.
// It is populated incrementally: calldata from the batch, gas and fees from the
// estimator, then the signature over everything else.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// Sponsored reports whether a paymaster pays for this operation.
func (op *UserOperation) Sponsored() bool {
	return len(op.PaymasterAndData) > 0
}

// Deploys reports whether this operation carries factory data to deploy the account.
func (op *UserOperation) Deploys() bool {
	return len(op.InitCode) > 0
}

// Clone returns a deep copy so a signed operation can't be mutated through a shared slice or big.Int.
func (op *UserOperation) Clone() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                cloneBig(op.Nonce),
		InitCode:             common.CopyBytes(op.InitCode),
		CallData:             common.CopyBytes(op.CallData),
		CallGasLimit:         cloneBig(op.CallGasLimit),
		VerificationGasLimit: cloneBig(op.VerificationGasLimit),
		PreVerificationGas:   cloneBig(op.PreVerificationGas),
		MaxFeePerGas:         cloneBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(op.PaymasterAndData),
		Signature:            common.CopyBytes(op.Signature),
	}
}

// Equal compares every field, signature included.
func (op *UserOperation) Equal(other *UserOperation) bool {
	if op == nil || other == nil {
		return op == other
	}
	return op.Sender == other.Sender &&
		bigEqual(op.Nonce, other.Nonce) &&
		bytes.Equal(op.InitCode, other.InitCode) &&
		bytes.Equal(op.CallData, other.CallData) &&
		bigEqual(op.CallGasLimit, other.CallGasLimit) &&
		bigEqual(op.VerificationGasLimit, other.VerificationGasLimit) &&
		bigEqual(op.PreVerificationGas, other.PreVerificationGas) &&
		bigEqual(op.MaxFeePerGas, other.MaxFeePerGas) &&
		bigEqual(op.MaxPriorityFeePerGas, other.MaxPriorityFeePerGas) &&
		bytes.Equal(op.PaymasterAndData, other.PaymasterAndData) &&
		bytes.Equal(op.Signature, other.Signature)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigEqual(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

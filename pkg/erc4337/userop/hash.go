package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packedV06Args = abi.Arguments{
		{Name: "sender", Type: addressT},
		{Name: "nonce", Type: uint256T},
		{Name: "hashInitCode", Type: bytes32T},
		{Name: "hashCallData", Type: bytes32T},
		{Name: "callGasLimit", Type: uint256T},
		{Name: "verificationGasLimit", Type: uint256T},
		{Name: "preVerificationGas", Type: uint256T},
		{Name: "maxFeePerGas", Type: uint256T},
		{Name: "maxPriorityFeePerGas", Type: uint256T},
		{Name: "hashPaymasterAndData", Type: bytes32T},
	}

	packedV07Args = abi.Arguments{
		{Name: "sender", Type: addressT},
		{Name: "nonce", Type: uint256T},
		{Name: "hashInitCode", Type: bytes32T},
		{Name: "hashCallData", Type: bytes32T},
		{Name: "accountGasLimits", Type: bytes32T},
		{Name: "preVerificationGas", Type: uint256T},
		{Name: "gasFees", Type: bytes32T},
		{Name: "hashPaymasterAndData", Type: bytes32T},
	}

	envelopeArgs = abi.Arguments{
		{Name: "userOpHash", Type: bytes32T},
		{Name: "entryPoint", Type: addressT},
		{Name: "chainId", Type: uint256T},
	}
)

// Hash computes the canonical user operation hash the entry point will hand to the
// account's validateUserOp. Every field except the signature is covered, together
// with the entry point and the chain id so the signature can't be replayed elsewhere.
func Hash(op *UserOperation, entryPoint common.Address, chainID *big.Int, version EntryPointVersion) (common.Hash, error) {
	if op == nil {
		return common.Hash{}, fmt.Errorf("nil user operation")
	}
	if chainID == nil {
		return common.Hash{}, fmt.Errorf("chain id is required")
	}

	var (
		packed []byte
		err    error
	)
	switch version {
	case EntryPointV06:
		packed, err = packV06(op)
	case EntryPointV07:
		packed, err = packV07(op)
	default:
		return common.Hash{}, fmt.Errorf("unsupported entry point version %q", version)
	}
	if err != nil {
		return common.Hash{}, err
	}

	enc, err := envelopeArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack user operation envelope: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

func packV06(op *UserOperation) ([]byte, error) {
	packed, err := packedV06Args.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack v0.6 user operation: %w", err)
	}
	return packed, nil
}

func packV07(op *UserOperation) ([]byte, error) {
	accountGasLimits, err := PackUint128Pair(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return nil, fmt.Errorf("accountGasLimits: %w", err)
	}
	gasFees, err := PackUint128Pair(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("gasFees: %w", err)
	}

	packed, err := packedV07Args.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		accountGasLimits,
		orZero(op.PreVerificationGas),
		gasFees,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack v0.7 user operation: %w", err)
	}
	return packed, nil
}

// PackUint128Pair packs hi<<128 | lo into a 32 byte word, the layout used by the
// v0.7 PackedUserOperation for both gas limits and fees.
func PackUint128Pair(hi, lo *big.Int) ([32]byte, error) {
	h, err := toUint128(hi)
	if err != nil {
		return [32]byte{}, err
	}
	l, err := toUint128(lo)
	if err != nil {
		return [32]byte{}, err
	}

	word := new(uint256.Int).Lsh(h, 128)
	word.Or(word, l)
	return word.Bytes32(), nil
}

// UnpackUint128Pair is the inverse of PackUint128Pair.
func UnpackUint128Pair(word [32]byte) (hi, lo *big.Int) {
	return new(big.Int).SetBytes(word[:16]), new(big.Int).SetBytes(word[16:])
}

func toUint128(v *big.Int) (*uint256.Int, error) {
	v = orZero(v)
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", v)
	}
	if v.BitLen() > 128 {
		return nil, fmt.Errorf("value %s overflows uint128", v)
	}
	u, _ := uint256.FromBig(v)
	return u, nil
}

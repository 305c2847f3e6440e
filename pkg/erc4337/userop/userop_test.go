package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEntryPoint = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x5Df1F9A27B4B3fE8A9fDCE1a4D1C2dD4cA06f0D1"),
		Nonce:                big.NewInt(3),
		InitCode:             common.FromHex("0x5de4839a76cf55d0c90e2061ef4386d962E15ae3deadbeef"),
		CallData:             common.FromHex("0xe9ae5c530000"),
		CallGasLimit:         big.NewInt(21000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(10),
		MaxPriorityFeePerGas: big.NewInt(1),
		Signature:            common.FromHex("0x01"),
	}
}

func TestHashIgnoresSignature(t *testing.T) {
	for _, v := range []EntryPointVersion{EntryPointV06, EntryPointV07} {
		op := sampleOp()
		h1, err := Hash(op, testEntryPoint, big.NewInt(76672), v)
		require.NoError(t, err)

		op.Signature = common.FromHex("0xffff")
		h2, err := Hash(op, testEntryPoint, big.NewInt(76672), v)
		require.NoError(t, err)

		assert.Equal(t, h1, h2, "version %s", v)
	}
}

func TestHashChangesWhenAnyFieldChanges(t *testing.T) {
	mutations := map[string]func(op *UserOperation){
		"sender":               func(op *UserOperation) { op.Sender = common.HexToAddress("0x01") },
		"nonce":                func(op *UserOperation) { op.Nonce = big.NewInt(4) },
		"initCode":             func(op *UserOperation) { op.InitCode = nil },
		"callData":             func(op *UserOperation) { op.CallData = common.FromHex("0xe9ae5c530001") },
		"callGasLimit":         func(op *UserOperation) { op.CallGasLimit = big.NewInt(21001) },
		"verificationGasLimit": func(op *UserOperation) { op.VerificationGasLimit = big.NewInt(1) },
		"preVerificationGas":   func(op *UserOperation) { op.PreVerificationGas = big.NewInt(1) },
		"maxFeePerGas":         func(op *UserOperation) { op.MaxFeePerGas = big.NewInt(11) },
		"maxPriorityFeePerGas": func(op *UserOperation) { op.MaxPriorityFeePerGas = big.NewInt(2) },
		"paymasterAndData":     func(op *UserOperation) { op.PaymasterAndData = make([]byte, 52) },
	}

	for _, v := range []EntryPointVersion{EntryPointV06, EntryPointV07} {
		base, err := Hash(sampleOp(), testEntryPoint, big.NewInt(76672), v)
		require.NoError(t, err)

		for name, mutate := range mutations {
			op := sampleOp()
			mutate(op)
			h, err := Hash(op, testEntryPoint, big.NewInt(76672), v)
			require.NoError(t, err)
			assert.NotEqual(t, base, h, "%s %s", v, name)
		}
	}
}

func TestHashBindsChainAndEntryPoint(t *testing.T) {
	op := sampleOp()
	base, err := Hash(op, testEntryPoint, big.NewInt(76672), EntryPointV07)
	require.NoError(t, err)

	otherChain, err := Hash(op, testEntryPoint, big.NewInt(421614), EntryPointV07)
	require.NoError(t, err)
	otherEntryPoint, err := Hash(op, EntryPointV06Address, big.NewInt(76672), EntryPointV07)
	require.NoError(t, err)

	assert.NotEqual(t, base, otherChain)
	assert.NotEqual(t, base, otherEntryPoint)
}

func TestHashRejectsOversizedGas(t *testing.T) {
	op := sampleOp()
	op.CallGasLimit = new(big.Int).Lsh(big.NewInt(1), 130)

	_, err := Hash(op, testEntryPoint, big.NewInt(1), EntryPointV07)
	assert.Error(t, err)

	// v0.6 encodes each limit as a full uint256
	_, err = Hash(op, testEntryPoint, big.NewInt(1), EntryPointV06)
	assert.NoError(t, err)
}

func TestHashRequiresChainID(t *testing.T) {
	_, err := Hash(sampleOp(), testEntryPoint, nil, EntryPointV07)
	assert.Error(t, err)

	_, err = Hash(sampleOp(), testEntryPoint, big.NewInt(1), EntryPointVersion("v0.5"))
	assert.Error(t, err)
}

func TestPackUint128Pair(t *testing.T) {
	word, err := PackUint128Pair(big.NewInt(150000), big.NewInt(21000))
	require.NoError(t, err)

	assert.Equal(t, "0x000000000000000000000000000249f000000000000000000000000000005208", common.Hash(word).Hex())

	hi, lo := UnpackUint128Pair(word)
	assert.Equal(t, int64(150000), hi.Int64())
	assert.Equal(t, int64(21000), lo.Int64())

	_, err = PackUint128Pair(big.NewInt(-1), big.NewInt(0))
	assert.Error(t, err)
}

func TestPaymasterAndDataRoundTrip(t *testing.T) {
	fields := PaymasterFields{
		Paymaster:                     common.HexToAddress("0x00000000000000fB866DaAA79352cC568a005D96"),
		PaymasterVerificationGasLimit: big.NewInt(100000),
		PaymasterPostOpGasLimit:       big.NewInt(40000),
		PaymasterData:                 common.FromHex("0xcafe"),
	}
	packed, err := PackPaymasterAndData(fields)
	require.NoError(t, err)
	assert.Len(t, packed, 54)

	split, err := SplitPaymasterAndData(packed)
	require.NoError(t, err)
	assert.Equal(t, fields.Paymaster, split.Paymaster)
	assert.Equal(t, 0, fields.PaymasterVerificationGasLimit.Cmp(split.PaymasterVerificationGasLimit))
	assert.Equal(t, 0, fields.PaymasterPostOpGasLimit.Cmp(split.PaymasterPostOpGasLimit))
	assert.Equal(t, fields.PaymasterData, split.PaymasterData)

	_, err = SplitPaymasterAndData(packed[:30])
	assert.Error(t, err)
}

func TestToRPCV07SplitsFactoryAndPaymaster(t *testing.T) {
	op := sampleOp()
	pmd, err := PackPaymasterAndData(PaymasterFields{
		Paymaster:                     common.HexToAddress("0xaa"),
		PaymasterVerificationGasLimit: big.NewInt(7),
		PaymasterPostOpGasLimit:       big.NewInt(8),
	})
	require.NoError(t, err)
	op.PaymasterAndData = pmd

	wire, err := ToRPCV07(op)
	require.NoError(t, err)
	require.NotNil(t, wire.Factory)
	assert.Equal(t, common.HexToAddress("0x5de4839a76cf55d0c90e2061ef4386d962E15ae3"), *wire.Factory)
	assert.Equal(t, "0xdeadbeef", wire.FactoryData.String())
	require.NotNil(t, wire.Paymaster)
	assert.Equal(t, common.HexToAddress("0xaa"), *wire.Paymaster)
	assert.Equal(t, "0x7", wire.PaymasterVerificationGasLimit.String())

	raw, err := json.Marshal(wire)
	require.NoError(t, err)
	back, err := DecodeRPC(raw, EntryPointV07)
	require.NoError(t, err)
	assert.True(t, op.Equal(back))
}

func TestToRPCV07OmitsEmptyOptionalFields(t *testing.T) {
	op := sampleOp()
	op.InitCode = nil

	wire, err := ToRPCV07(op)
	require.NoError(t, err)
	raw, err := json.Marshal(wire)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "factory")
	assert.NotContains(t, fields, "paymaster")
	assert.Equal(t, "0x5208", fields["callGasLimit"])
}

func TestToRPCV06HexFields(t *testing.T) {
	raw, err := json.Marshal(ToRPCV06(sampleOp()))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "0x3", fields["nonce"])
	assert.Equal(t, "0x", fields["paymasterAndData"])
	assert.Equal(t, "0xa", fields["maxFeePerGas"])

	back, err := DecodeRPC(raw, EntryPointV06)
	require.NoError(t, err)
	assert.True(t, sampleOp().Equal(back))
}

func TestCloneIsDeep(t *testing.T) {
	op := sampleOp()
	clone := op.Clone()
	require.True(t, op.Equal(clone))

	clone.CallData[0] = 0x00
	clone.Nonce.SetInt64(99)
	assert.False(t, op.Equal(clone))
	assert.Equal(t, int64(3), op.Nonce.Int64())
}

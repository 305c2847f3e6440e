package smartaccount

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-userop/core/testutil"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/batch"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/poller"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
)

func transfer(value int64) []batch.PendingCall {
	return []batch.PendingCall{{Target: testRecipient, Value: big.NewInt(value)}}
}

func TestEstimateSelfFundedFirstOperationDeploys(t *testing.T) {
	stub := &bundlerStub{}
	bundlerSrv := testutil.NewRPCServer(t, stub.handle)
	f := newFixture(t, bundlerSrv.URL, "", poller.Config{})

	est, err := f.estimator.Estimate(context.Background(), testAccount(), transfer(1))
	require.NoError(t, err)

	op := est.Operation
	initCode, err := testAccount().InitCode()
	require.NoError(t, err)
	assert.Equal(t, initCode, op.InitCode)
	assert.Equal(t, testFactory.Bytes(), op.InitCode[:common.AddressLength])
	assert.False(t, est.Sponsored)
	assert.Empty(t, op.PaymasterAndData)
	assert.Equal(t, DummySignature, op.Signature)
	assert.Equal(t, 1, est.Calls)

	// gas comes from the bundler
	assert.Equal(t, int64(0x7530), op.CallGasLimit.Int64())
	assert.Equal(t, int64(0x61a80), op.VerificationGasLimit.Int64())
	assert.Equal(t, int64(0xb5f0), op.PreVerificationGas.Int64())

	// 5 gwei base fee doubled plus a 2 gwei floor tip
	assert.Equal(t, int64(2_000_000_000), op.MaxPriorityFeePerGas.Int64())
	assert.Equal(t, int64(20_000_000_000), op.MaxFeePerGas.Int64())

	// the bundler priced the operation with the deployment gas budget
	calls := bundlerSrv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "eth_estimateUserOperationGas", calls[0].Method)
	sent, err := userop.DecodeRPC(calls[0].Params[0], userop.EntryPointV07)
	require.NoError(t, err)
	assert.Equal(t, DeploymentVerificationGasLimit, sent.VerificationGasLimit)
	assert.Equal(t, initCode, sent.InitCode)

	callData, err := batch.EncodeCalls(transfer(1))
	require.NoError(t, err)
	assert.Equal(t, callData, op.CallData)
	assert.Equal(t, fingerprintOf(callData), est.Fingerprint)
}

func TestEstimateDeployedAccountHasNoInitCode(t *testing.T) {
	stub := &bundlerStub{}
	bundlerSrv := testutil.NewRPCServer(t, stub.handle)
	f := newFixture(t, bundlerSrv.URL, "", poller.Config{})
	f.chain.deploy(f.sender(t))
	f.chain.nonce = big.NewInt(7)

	est, err := f.estimator.Estimate(context.Background(), testAccount(), transfer(1))
	require.NoError(t, err)
	assert.Empty(t, est.Operation.InitCode)
	assert.False(t, est.Operation.Deploys())
	assert.Equal(t, int64(7), est.Operation.Nonce.Int64())

	sent, err := userop.DecodeRPC(bundlerSrv.Calls()[0].Params[0], userop.EntryPointV07)
	require.NoError(t, err)
	assert.Equal(t, DefaultVerificationGasLimit, sent.VerificationGasLimit)
}

func TestEstimateSponsoredSkipsBundlerEstimation(t *testing.T) {
	stub := &bundlerStub{}
	bundlerSrv := testutil.NewRPCServer(t, stub.handle)
	paymasterSrv := testutil.NewRPCServer(t, sponsorStub)
	f := newFixture(t, bundlerSrv.URL, paymasterSrv.URL, poller.Config{})

	est, err := f.estimator.Estimate(context.Background(), testAccount(), transfer(1))
	require.NoError(t, err)
	assert.True(t, est.Sponsored)
	assert.Equal(t, int64(0x30d40), est.Operation.VerificationGasLimit.Int64())
	assert.Equal(t, int64(0xc350), est.Operation.PreVerificationGas.Int64())

	fields, err := userop.SplitPaymasterAndData(est.Operation.PaymasterAndData)
	require.NoError(t, err)
	assert.Equal(t, testPaymaster, fields.Paymaster)
	assert.Equal(t, []byte{0x12, 0x34}, fields.PaymasterData)

	assert.Empty(t, bundlerSrv.Calls())

	// the paymaster received the unsigned operation with a placeholder signature
	calls := paymasterSrv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "pm_sponsorUserOperation", calls[0].Method)
	require.Len(t, calls[0].Params, 3)
	var entryPoint common.Address
	require.NoError(t, json.Unmarshal(calls[0].Params[1], &entryPoint))
	assert.Equal(t, testEntryPoint, entryPoint)
	assert.JSONEq(t, `{"mode":"sponsor"}`, string(calls[0].Params[2]))
}

func TestEstimateNonceReadFailure(t *testing.T) {
	stub := &bundlerStub{}
	bundlerSrv := testutil.NewRPCServer(t, stub.handle)
	f := newFixture(t, bundlerSrv.URL, "", poller.Config{})
	f.chain.nonceErr = errors.New("execution reverted")

	_, err := f.estimator.Estimate(context.Background(), testAccount(), transfer(1))
	assert.True(t, aaerr.Is(err, aaerr.EstimationFailed), "got %v", err)
	assert.Empty(t, bundlerSrv.Calls())
}

func TestEstimateBundlerRejection(t *testing.T) {
	bundlerSrv := testutil.NewRPCServer(t, func(method string, params []json.RawMessage) (interface{}, error) {
		return nil, &testutil.RPCError{Code: -32500, Message: "AA13 initCode failed or OOG"}
	})
	f := newFixture(t, bundlerSrv.URL, "", poller.Config{})

	_, err := f.estimator.Estimate(context.Background(), testAccount(), transfer(1))
	assert.True(t, aaerr.Is(err, aaerr.EstimationFailed), "got %v", err)
	assert.Contains(t, err.Error(), "AA13")
}

func TestEstimateAfterClearReflectsNoCalls(t *testing.T) {
	stub := &bundlerStub{}
	bundlerSrv := testutil.NewRPCServer(t, stub.handle)
	f := newFixture(t, bundlerSrv.URL, "", poller.Config{})

	f.session.AddCall(testRecipient, big.NewInt(1), nil)
	f.session.AddCall(testRecipient, big.NewInt(2), nil)
	f.session.Clear()

	est, err := f.session.Estimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, est.Calls)

	empty, err := batch.EncodeCalls(nil)
	require.NoError(t, err)
	assert.Equal(t, empty, est.Operation.CallData)
}

package smartaccount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/core/chainio/signer"
	"github.com/AvaProtocol/ap-userop/core/journal"
	"github.com/AvaProtocol/ap-userop/core/testutil"
	"github.com/AvaProtocol/ap-userop/pkg/eip1559"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/poller"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-userop/storage"
)

var (
	testChainID        = big.NewInt(76672)
	testEntryPoint     = userop.EntryPointV07Address
	testFactory        = common.HexToAddress("0xB3AD9B9B06c6016f81404ee8FcCD0526F018Cf0C")
	testBootstrap      = common.HexToAddress("0x153e26707DF3787183945B88121E4Eb188FDCAAA")
	testValidator      = common.HexToAddress("0x810FA4C915015b703db0878CF2B9344bEB254a40")
	testImplementation = common.HexToAddress("0x202A5598bDba2cE62bFfA13EcccB04969719Fad9")
	testPaymaster      = common.HexToAddress("0x00000000000000fB866DaAA79352cC568a005D96")
	testRecipient      = common.HexToAddress("0x000000000000000000000000000000000000bEEF")

	testOpHash = common.HexToHash("0xabc1230000000000000000000000000000000000000000000000000000000001")
	testTxHash = common.HexToHash("0x5e1f000000000000000000000000000000000000000000000000000000000002")

	getNonceSelector   = crypto.Keccak256([]byte("getNonce(address,uint192)"))[:4]
	balanceOfSelector  = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	getAddressSelector = crypto.Keccak256([]byte("getAddress(bytes32,bytes)"))[:4]
)

func testAccount() aa.AccountParams {
	return aa.AccountParams{
		Owner:     signer.AddressOf(testutil.OwnerKey()),
		Factory:   testFactory,
		Bootstrap: testBootstrap,
		Validator: testValidator,
		Index:     big.NewInt(0),
	}
}

// fakeChain answers the handful of reads the lifecycle makes.
type fakeChain struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	nonce    *big.Int
	balance  *big.Int
	tip      *big.Int
	baseFee  *big.Int
	nonceErr error
	deposit  *big.Int

	// factoryAddress is what factory.getAddress answers; zero fails the call.
	factoryAddress common.Address
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		code:    map[common.Address][]byte{},
		nonce:   big.NewInt(0),
		balance: big.NewInt(0),
		deposit: big.NewInt(0),
		tip:     big.NewInt(1_000_000_000),
		baseFee: big.NewInt(5_000_000_000),
	}
}

func (f *fakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[contract], nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(call.Data) >= 4 && bytes.Equal(call.Data[:4], getNonceSelector) {
		if f.nonceErr != nil {
			return nil, f.nonceErr
		}
		return common.LeftPadBytes(f.nonce.Bytes(), 32), nil
	}
	if len(call.Data) >= 4 && bytes.Equal(call.Data[:4], balanceOfSelector) {
		return common.LeftPadBytes(f.deposit.Bytes(), 32), nil
	}
	if len(call.Data) >= 4 && bytes.Equal(call.Data[:4], getAddressSelector) && f.factoryAddress != (common.Address{}) {
		return common.LeftPadBytes(f.factoryAddress.Bytes(), 32), nil
	}
	return nil, fmt.Errorf("unexpected call to %s", call.To.Hex())
}

func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.tip), nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: new(big.Int).Set(f.baseFee)}, nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil {
		return nil, errors.New("balance unavailable")
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) deploy(address common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[address] = []byte{0x60, 0x80}
}

// countingSigner records how often signing was attempted.
type countingSigner struct {
	*signer.UserOpSigner
	mu    sync.Mutex
	calls int
}

func (c *countingSigner) Sign(op *userop.UserOperation) (*userop.UserOperation, common.Hash, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.UserOpSigner.Sign(op)
}

func (c *countingSigner) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixture struct {
	clock     *clockwork.FakeClock
	chain     *fakeChain
	bundler   *bundler.Client
	signer    *countingSigner
	journal   *journal.Journal
	resolver  *aa.Resolver
	session   *Session
	estimator *Estimator
}

// newFixture wires a session against the given bundler and, when paymasterURL is
// set, a paymaster. Everything else is local.
func newFixture(t *testing.T, bundlerURL, paymasterURL string, pollCfg poller.Config) *fixture {
	clock := clockwork.NewFakeClock()
	chain := newFakeChain()

	bundlerClient, err := bundler.NewClient(bundler.Config{URL: bundlerURL, Version: userop.EntryPointV07}, nil)
	require.NoError(t, err)
	t.Cleanup(bundlerClient.Close)

	var sponsor Sponsor
	if paymasterURL != "" {
		pm, err := paymaster.NewClient(paymaster.Config{
			URL:     paymasterURL,
			APIKey:  "test-key",
			ChainID: testChainID,
			Context: paymaster.SponsorContext("sponsor"),
		}, userop.EntryPointV07, nil)
		require.NoError(t, err)
		sponsor = pm
	}

	resolver, err := aa.NewResolver(chain, aa.ResolverConfig{Implementation: testImplementation}, nil)
	require.NoError(t, err)

	db, err := storage.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	j := journal.New(db, clock, nil)

	nonces := bundler.NewNonceManager(nil)
	estimator := NewEstimator(EstimatorConfig{
		ChainID:    testChainID,
		EntryPoint: testEntryPoint,
		FeePolicy:  eip1559.DefaultPolicy(),
	}, chain, resolver, bundlerClient, sponsor, nonces, nil)

	opSigner := &countingSigner{UserOpSigner: signer.NewUserOpSigner(testutil.OwnerKey(), testEntryPoint, testChainID, userop.EntryPointV07)}

	session, err := NewSession(Deps{
		Account:    testAccount(),
		ChainID:    testChainID,
		EntryPoint: testEntryPoint,
		Chain:      chain,
		Resolver:   resolver,
		Estimator:  estimator,
		Signer:     opSigner,
		Submitter:  bundlerClient,
		Poller:     poller.New(bundlerClient, pollCfg, clock, nil),
		Nonces:     nonces,
		Journal:    j,
		Clock:      clock,
	})
	require.NoError(t, err)

	return &fixture{
		clock:     clock,
		chain:     chain,
		bundler:   bundlerClient,
		signer:    opSigner,
		journal:   j,
		resolver:  resolver,
		session:   session,
		estimator: estimator,
	}
}

func (f *fixture) sender(t *testing.T) common.Address {
	address, err := f.resolver.Resolve(testAccount())
	require.NoError(t, err)
	return address
}

// advance lets rounds poll intervals pass once the poller is parked on its timer.
func advance(clock *clockwork.FakeClock, rounds int, interval time.Duration) {
	for i := 0; i < rounds; i++ {
		clock.BlockUntil(1)
		clock.Advance(interval)
	}
}

package aa

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

// ResolverConfig holds what the resolver needs beyond the per-account parameters.
type ResolverConfig struct {
	// Implementation is the factory's account implementation. When set, addresses
	// are derived locally without touching the chain.
	Implementation common.Address
	CacheTTL       time.Duration
}

// Resolver maps account parameters to the smart account address and tells whether
// the account already has code.
type Resolver struct {
	caller         bind.ContractCaller
	implementation common.Address
	cache          *bigcache.BigCache
	logger         sdklogging.Logger
}

// NewResolver builds a resolver. caller may be nil when only local derivation is used.
func NewResolver(caller bind.ContractCaller, cfg ResolverConfig, log sdklogging.Logger) (*Resolver, error) {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	cache, err := bigcache.New(context.Background(), bigcache.Config{
		Shards:             64,
		LifeWindow:         ttl,
		CleanWindow:        5 * time.Minute,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       64,
		HardMaxCacheSize:   16,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}

	return &Resolver{
		caller:         caller,
		implementation: cfg.Implementation,
		cache:          cache,
		logger:         logger.EnsureLogger(log),
	}, nil
}

// Resolve derives the account address without any network access. The same
// parameters always give the same address, before and after deployment.
func (r *Resolver) Resolve(p AccountParams) (common.Address, error) {
	return ComputeAddress(p, r.implementation)
}

// ResolveContext derives the address locally when the implementation is known and
// falls back to factory.getAddress otherwise.
func (r *Resolver) ResolveContext(ctx context.Context, p AccountParams) (common.Address, error) {
	if r.implementation != (common.Address{}) {
		return r.Resolve(p)
	}
	return r.onchainAddress(ctx, p)
}

// Verify reads factory.getAddress and checks it against the local derivation. A mismatch
// means the configured factory, bootstrap or implementation does not describe this account.
func (r *Resolver) Verify(ctx context.Context, p AccountParams) (common.Address, error) {
	onchain, err := r.onchainAddress(ctx, p)
	if err != nil {
		return common.Address{}, err
	}
	if r.implementation == (common.Address{}) {
		return onchain, nil
	}

	local, err := r.Resolve(p)
	if err != nil {
		return common.Address{}, err
	}
	if local != onchain {
		return common.Address{}, aaerr.New(aaerr.InvalidAddressDerivationInput, "derived address does not match factory", nil, map[string]interface{}{
			"derived": local.Hex(),
			"factory": onchain.Hex(),
		})
	}
	return local, nil
}

// IsDeployed reports whether code exists at address.
func (r *Resolver) IsDeployed(ctx context.Context, address common.Address) (bool, error) {
	if r.caller == nil {
		return false, aaerr.Newf(aaerr.ConfigurationError, "no chain connection configured")
	}
	code, err := r.caller.CodeAt(ctx, address, nil)
	if err != nil {
		return false, aaerr.New(aaerr.EstimationFailed, "failed to read account code", err)
	}
	return len(code) > 0, nil
}

// InitCodeFor returns the init code when the account still needs deploying and nil otherwise.
func (r *Resolver) InitCodeFor(ctx context.Context, p AccountParams, sender common.Address) ([]byte, error) {
	deployed, err := r.IsDeployed(ctx, sender)
	if err != nil {
		return nil, err
	}
	if deployed {
		return nil, nil
	}
	return p.InitCode()
}

func (r *Resolver) onchainAddress(ctx context.Context, p AccountParams) (common.Address, error) {
	init, err := p.AccountInit()
	if err != nil {
		return common.Address{}, err
	}

	key := cacheKey(p)
	if cached, err := r.cache.Get(key); err == nil {
		return common.BytesToAddress(cached), nil
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		r.logger.Warn("address cache lookup failed", "key", key, "error", err)
	}

	if r.caller == nil {
		return common.Address{}, aaerr.Newf(aaerr.ConfigurationError, "no chain connection or account implementation configured")
	}

	factory := bind.NewBoundContract(p.Factory, factoryABI, r.caller, nil, nil)
	var out []interface{}
	if err := factory.Call(&bind.CallOpts{Context: ctx}, &out, "getAddress", p.Salt(), init); err != nil {
		return common.Address{}, aaerr.New(aaerr.InvalidAddressDerivationInput, "factory getAddress call failed", err)
	}
	if len(out) != 1 {
		return common.Address{}, aaerr.Newf(aaerr.InvalidAddressDerivationInput, "unexpected getAddress output")
	}
	address, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, aaerr.Newf(aaerr.InvalidAddressDerivationInput, "unexpected getAddress output type %T", out[0])
	}

	if err := r.cache.Set(key, address.Bytes()); err != nil {
		r.logger.Warn("cannot cache account address", "key", key, "error", err)
	}
	r.logger.Debug("resolved account address on-chain", "owner", p.Owner.Hex(), "index", p.Index.String(), "address", address.Hex())
	return address, nil
}

func cacheKey(p AccountParams) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", p.Factory.Hex(), p.Bootstrap.Hex(), p.Validator.Hex(), p.Owner.Hex(), p.Index.String())
}

// EntryPoint reads account state kept by the entry point contract.
type EntryPoint struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewEntryPoint(address common.Address, caller bind.ContractCaller) *EntryPoint {
	return &EntryPoint{
		address:  address,
		contract: bind.NewBoundContract(address, entryPointABI, caller, nil, nil),
	}
}

func (e *EntryPoint) Address() common.Address {
	return e.address
}

// NonceKey is the validator address as the uint192 nonce key, so each validator
// gets its own nonce sequence.
func NonceKey(validator common.Address) *big.Int {
	return new(big.Int).SetBytes(validator.Bytes())
}

func (e *EntryPoint) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	return e.callUint(ctx, "getNonce", sender, key)
}

// BalanceOf returns the account's deposit held by the entry point.
func (e *EntryPoint) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return e.callUint(ctx, "balanceOf", account)
}

func (e *EntryPoint) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("entrypoint %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("entrypoint %s: unexpected output length %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("entrypoint %s: unexpected output type %T", method, out[0])
	}
	return v, nil
}

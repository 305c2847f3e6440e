package bundler

import (
	"context"
	"math/big"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

// NonceFetcher reads the on-chain nonce for the sender being resolved.
type NonceFetcher func(ctx context.Context) (*big.Int, error)

// NonceManager manages nonce tracking for UserOperations to prevent conflicts
// with pending operations in the bundler's mempool.
// It keeps the next expected nonce per sender, combining on-chain state with
// knowledge of submitted-but-not-yet-mined operations.
type NonceManager struct {
	// Key: sender address (checksummed hex), Value: next nonce to use
	pendingNonces map[string]*big.Int
	mu            sync.RWMutex
	logger        sdklogging.Logger
}

func NewNonceManager(log sdklogging.Logger) *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[string]*big.Int),
		logger:        logger.EnsureLogger(log),
	}
}

// GetNextNonce returns max(on-chain nonce, cached pending nonce) so a nonce that
// is already pending in the bundler is never reused.
func (nm *NonceManager) GetNextNonce(ctx context.Context, sender common.Address, fetch NonceFetcher) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChainNonce, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	cachedNonce, hasCached := nm.pendingNonces[sender.Hex()]
	if !hasCached {
		nm.logger.Debug("first operation for sender, using on-chain nonce", "sender", sender.Hex(), "nonce", onChainNonce.String())
		return new(big.Int).Set(onChainNonce), nil
	}

	// On-chain ahead means earlier operations were mined or dropped
	if onChainNonce.Cmp(cachedNonce) > 0 {
		nm.logger.Debug("on-chain nonce ahead of cache", "sender", sender.Hex(), "onchain", onChainNonce.String(), "cached", cachedNonce.String())
		return new(big.Int).Set(onChainNonce), nil
	}

	nm.logger.Debug("using cached nonce", "sender", sender.Hex(), "onchain", onChainNonce.String(), "cached", cachedNonce.String())
	return new(big.Int).Set(cachedNonce), nil
}

// IncrementNonce records a successful submission so the next operation uses nonce+1
// even before the first one is mined.
func (nm *NonceManager) IncrementNonce(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nextNonce := new(big.Int).Add(currentNonce, big.NewInt(1))
	nm.pendingNonces[sender.Hex()] = nextNonce

	nm.logger.Debug("incremented cached nonce", "sender", sender.Hex(), "from", currentNonce.String(), "to", nextNonce.String())
}

// ResetNonce drops the cached nonce so the next lookup trusts the chain. Use it
// after the bundler reports a nonce conflict.
func (nm *NonceManager) ResetNonce(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender.Hex())
	nm.logger.Debug("reset cached nonce", "sender", sender.Hex())
}

// GetCachedNonce returns the cached nonce without touching the chain.
func (nm *NonceManager) GetCachedNonce(sender common.Address) (*big.Int, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	nonce, exists := nm.pendingNonces[sender.Hex()]
	if !exists {
		return nil, false
	}
	return new(big.Int).Set(nonce), true
}

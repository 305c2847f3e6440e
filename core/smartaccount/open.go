package smartaccount

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/core/chainio/signer"
	"github.com/AvaProtocol/ap-userop/core/config"
	"github.com/AvaProtocol/ap-userop/core/journal"
	"github.com/AvaProtocol/ap-userop/metrics"
	"github.com/AvaProtocol/ap-userop/pkg/eip1559"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/poller"
)

// Options carries the optional pieces Open cannot build from the config alone.
type Options struct {
	Journal *journal.Journal
	Metrics metrics.MetricsGenerator
	Clock   clockwork.Clock
}

// Opened is a session plus the connections it holds.
type Opened struct {
	*Session
	Bundler *bundler.Client
	chain   *ethclient.Client
}

func (o *Opened) Close() {
	o.Bundler.Close()
	o.chain.Close()
}

// Open dials the chain and the bundler described by cfg and assembles a session.
// When a paymaster is configured every operation is sponsored.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Opened, error) {
	log := cfg.Logger

	chain, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, aaerr.New(aaerr.ConfigurationError, "cannot connect to chain rpc", err, map[string]interface{}{"url": cfg.RpcURL})
	}

	bundlerClient, err := bundler.NewClient(bundler.Config{URL: cfg.BundlerURL, Version: cfg.EntryPointVersion}, log)
	if err != nil {
		chain.Close()
		return nil, err
	}
	if err := checkBundler(ctx, bundlerClient, cfg.EntryPointAddress, cfg.Chain.ID); err != nil {
		chain.Close()
		bundlerClient.Close()
		return nil, err
	}

	var sponsor Sponsor
	if cfg.Sponsored() {
		pm, err := paymaster.NewClient(cfg.Paymaster, cfg.EntryPointVersion, log)
		if err != nil {
			chain.Close()
			bundlerClient.Close()
			return nil, err
		}
		sponsor = pm
	}

	resolver, err := aa.NewResolver(chain, aa.ResolverConfig{Implementation: cfg.SmartAccount.Implementation}, log)
	if err != nil {
		chain.Close()
		bundlerClient.Close()
		return nil, err
	}

	nonces := bundler.NewNonceManager(log)
	estimator := NewEstimator(EstimatorConfig{
		ChainID:    cfg.Chain.ID,
		EntryPoint: cfg.EntryPointAddress,
		FeePolicy:  eip1559.DefaultPolicy(),
	}, chain, resolver, bundlerClient, sponsor, nonces, log)

	session, err := NewSession(Deps{
		Account:    cfg.AccountParams(),
		ChainID:    cfg.Chain.ID,
		EntryPoint: cfg.EntryPointAddress,
		Chain:      chain,
		Resolver:   resolver,
		Estimator:  estimator,
		Signer:     signer.NewUserOpSigner(cfg.OwnerKey, cfg.EntryPointAddress, cfg.Chain.ID, cfg.EntryPointVersion),
		Submitter:  bundlerClient,
		Poller:     poller.New(bundlerClient, cfg.Poll, opts.Clock, log),
		Nonces:     nonces,
		Journal:    opts.Journal,
		Metrics:    opts.Metrics,
		Clock:      opts.Clock,
		Logger:     log,
	})
	if err != nil {
		chain.Close()
		bundlerClient.Close()
		return nil, err
	}

	return &Opened{Session: session, Bundler: bundlerClient, chain: chain}, nil
}

// BundlerInfo is satisfied by *bundler.Client.
type BundlerInfo interface {
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// checkBundler fails with ChainMismatch unless the bundler serves chainID and accepts entryPoint.
func checkBundler(ctx context.Context, b BundlerInfo, entryPoint common.Address, chainID *big.Int) error {
	id, err := b.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Cmp(chainID) != 0 {
		return aaerr.New(aaerr.ChainMismatch, "bundler serves another chain", nil, map[string]interface{}{
			"configured": chainID.String(),
			"bundler":    id.String(),
		})
	}

	supported, err := b.SupportedEntryPoints(ctx)
	if err != nil {
		return err
	}
	if !lo.Contains(supported, entryPoint) {
		return aaerr.New(aaerr.ChainMismatch, "bundler does not accept the configured entry point", nil, map[string]interface{}{
			"entryPoint": entryPoint.Hex(),
			"supported":  lo.Map(supported, func(a common.Address, _ int) string { return a.Hex() }),
		})
	}
	return nil
}

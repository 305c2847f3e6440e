package smartaccount

import (
	"context"
	"math/big"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/pkg/eip1559"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/batch"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/paymaster"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

// ChainReader is the part of ethclient.Client the lifecycle reads from.
type ChainReader interface {
	bind.ContractCaller
	eip1559.FeeReader
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Sponsor is satisfied by *paymaster.Client.
type Sponsor interface {
	Sponsor(ctx context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (*paymaster.Sponsorship, error)
}

// GasEstimator is satisfied by *bundler.Client.
type GasEstimator interface {
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entryPoint common.Address, override map[string]any) (*bundler.GasEstimation, error)
}

// Estimate is an operation complete except for its signature, plus what it was built from.
type Estimate struct {
	Operation *userop.UserOperation
	// keccak of the callData, compared against the batch again before signing
	Fingerprint common.Hash
	Calls       int
	Sponsored   bool
}

type Estimator struct {
	chain      ChainReader
	resolver   *aa.Resolver
	entryPoint *aa.EntryPoint
	gas        GasEstimator
	// nil means the account pays for itself
	sponsor   Sponsor
	nonces    *bundler.NonceManager
	feePolicy eip1559.Policy
	chainID   *big.Int
	logger    sdklogging.Logger
}

type EstimatorConfig struct {
	ChainID    *big.Int
	EntryPoint common.Address
	FeePolicy  eip1559.Policy
}

func NewEstimator(
	cfg EstimatorConfig,
	chain ChainReader,
	resolver *aa.Resolver,
	gas GasEstimator,
	sponsor Sponsor,
	nonces *bundler.NonceManager,
	log sdklogging.Logger,
) *Estimator {
	if nonces == nil {
		nonces = bundler.NewNonceManager(log)
	}
	return &Estimator{
		chain:      chain,
		resolver:   resolver,
		entryPoint: aa.NewEntryPoint(cfg.EntryPoint, chain),
		gas:        gas,
		sponsor:    sponsor,
		nonces:     nonces,
		feePolicy:  cfg.FeePolicy,
		chainID:    cfg.ChainID,
		logger:     logger.EnsureLogger(log),
	}
}

func (e *Estimator) Sponsored() bool {
	return e.sponsor != nil
}

// Estimate builds the operation for calls sent from the account described by params.
// The result carries a dummy signature. Nothing is retried.
func (e *Estimator) Estimate(ctx context.Context, params aa.AccountParams, calls []batch.PendingCall) (*Estimate, error) {
	callData, err := batch.EncodeCalls(calls)
	if err != nil {
		return nil, aaerr.New(aaerr.InvalidOperation, "cannot encode batched calls", err)
	}

	sender, err := e.resolver.ResolveContext(ctx, params)
	if err != nil {
		return nil, err
	}

	initCode, err := e.resolver.InitCodeFor(ctx, params, sender)
	if err != nil {
		return nil, err
	}

	nonce, err := e.nonces.GetNextNonce(ctx, sender, func(ctx context.Context) (*big.Int, error) {
		return e.entryPoint.GetNonce(ctx, sender, aa.NonceKey(params.Validator))
	})
	if err != nil {
		return nil, aaerr.New(aaerr.EstimationFailed, "cannot read account nonce", err, map[string]interface{}{
			"sender": sender.Hex(),
		})
	}

	fees, err := eip1559.Suggest(ctx, e.chain, e.feePolicy)
	if err != nil {
		return nil, aaerr.New(aaerr.EstimationFailed, "cannot read network fees", err)
	}

	op := &userop.UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         new(big.Int).Set(DefaultCallGasLimit),
		VerificationGasLimit: verificationGasFor(initCode),
		PreVerificationGas:   new(big.Int).Set(DefaultPreVerificationGas),
		MaxFeePerGas:         fees.MaxFeePerGas,
		MaxPriorityFeePerGas: fees.MaxPriorityFeePerGas,
		Signature:            DummySignature,
	}

	entryPoint := e.entryPoint.Address()
	if e.sponsor != nil {
		sponsorship, err := e.sponsor.Sponsor(ctx, op, entryPoint, e.chainID)
		if err != nil {
			return nil, err
		}
		sponsorship.Apply(op)
	} else {
		gas, err := e.gas.EstimateUserOperationGas(ctx, op, entryPoint, nil)
		if err != nil {
			return nil, err
		}
		op.CallGasLimit = gas.CallGasLimit
		op.VerificationGasLimit = gas.VerificationGasLimit
		op.PreVerificationGas = gas.PreVerificationGas
	}

	e.logger.Info("user operation estimated",
		"sender", sender.Hex(),
		"nonce", nonce.String(),
		"calls", len(calls),
		"deploys", op.Deploys(),
		"sponsored", op.Sponsored(),
		"callGasLimit", op.CallGasLimit.String(),
		"maxFeePerGas", op.MaxFeePerGas.String(),
	)

	return &Estimate{
		Operation:   op,
		Fingerprint: fingerprintOf(callData),
		Calls:       len(calls),
		Sponsored:   op.Sponsored(),
	}, nil
}

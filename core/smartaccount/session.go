// Package smartaccount drives one smart account through the user operation
// lifecycle: batch, estimate, sign, submit and wait for inclusion.
package smartaccount

import (
	"context"
	"math/big"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/core/journal"
	"github.com/AvaProtocol/ap-userop/metrics"
	"github.com/AvaProtocol/ap-userop/model"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/batch"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/poller"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
	"github.com/AvaProtocol/ap-userop/pkg/timekeeper"
)

// Submitter is satisfied by *bundler.Client.
type Submitter interface {
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (common.Hash, error)
}

// OperationLookup is satisfied by *bundler.Client.
type OperationLookup interface {
	GetUserOperationByHash(ctx context.Context, hash common.Hash) (*bundler.UserOperationByHash, error)
}

// OperationSigner is satisfied by *signer.UserOpSigner.
type OperationSigner interface {
	Owner() common.Address
	Sign(op *userop.UserOperation) (*userop.UserOperation, common.Hash, error)
}

// Deps are the components a session is assembled from. Journal and Metrics are optional.
type Deps struct {
	Account    aa.AccountParams
	ChainID    *big.Int
	EntryPoint common.Address

	Chain     ChainReader
	Resolver  *aa.Resolver
	Estimator *Estimator
	Signer    OperationSigner
	Submitter Submitter
	// defaults to Submitter when it can look operations up
	Lookup OperationLookup
	Poller *poller.Poller
	Nonces *bundler.NonceManager

	Journal *journal.Journal
	Metrics metrics.MetricsGenerator
	Clock   clockwork.Clock
	Logger  sdklogging.Logger
}

// Session owns the pending batch of one smart account. One lifecycle runs at a time.
type Session struct {
	account    aa.AccountParams
	chainID    *big.Int
	entryPoint common.Address

	batch     *batch.Accumulator
	chain     ChainReader
	resolver  *aa.Resolver
	estimator *Estimator
	signer    OperationSigner
	submitter Submitter
	lookup    OperationLookup
	poller    *poller.Poller
	nonces    *bundler.NonceManager

	journal *journal.Journal
	metrics metrics.MetricsGenerator
	clock   clockwork.Clock
	logger  sdklogging.Logger
}

func NewSession(d Deps) (*Session, error) {
	if err := d.Account.Validate(); err != nil {
		return nil, err
	}
	switch {
	case d.Estimator == nil:
		return nil, aaerr.Newf(aaerr.ConfigurationError, "session needs an estimator")
	case d.Signer == nil:
		return nil, aaerr.Newf(aaerr.ConfigurationError, "session needs a signer")
	case d.Submitter == nil:
		return nil, aaerr.Newf(aaerr.ConfigurationError, "session needs a bundler")
	case d.Poller == nil:
		return nil, aaerr.Newf(aaerr.ConfigurationError, "session needs a receipt poller")
	case d.Resolver == nil:
		return nil, aaerr.Newf(aaerr.ConfigurationError, "session needs an address resolver")
	}
	if d.Signer.Owner() != d.Account.Owner {
		return nil, aaerr.New(aaerr.ConfigurationError, "signing key does not belong to the account owner", nil, map[string]interface{}{
			"owner":  d.Account.Owner.Hex(),
			"signer": d.Signer.Owner().Hex(),
		})
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Nonces == nil {
		d.Nonces = d.Estimator.nonces
	}
	if d.Lookup == nil {
		if l, ok := d.Submitter.(OperationLookup); ok {
			d.Lookup = l
		}
	}

	return &Session{
		account:    d.Account,
		chainID:    d.ChainID,
		entryPoint: d.EntryPoint,
		batch:      batch.New(),
		chain:      d.Chain,
		resolver:   d.Resolver,
		estimator:  d.Estimator,
		signer:     d.Signer,
		submitter:  d.Submitter,
		lookup:     d.Lookup,
		poller:     d.Poller,
		nonces:     d.Nonces,
		journal:    d.Journal,
		metrics:    d.Metrics,
		clock:      d.Clock,
		logger:     logger.EnsureLogger(d.Logger).With("owner", d.Account.Owner.Hex()),
	}, nil
}

// Clear empties the pending batch.
func (s *Session) Clear() {
	s.batch.Clear()
}

// AddCall queues a call and returns the pending batch.
func (s *Session) AddCall(target common.Address, value *big.Int, data []byte) []batch.PendingCall {
	return s.batch.AddCall(target, value, data)
}

func (s *Session) PendingCalls() []batch.PendingCall {
	return s.batch.Calls()
}

// Address is the counterfactual smart account address.
func (s *Session) Address(ctx context.Context) (common.Address, error) {
	return s.resolver.ResolveContext(ctx, s.account)
}

// NativeBalance is the smart account's balance in the chain's native currency.
func (s *Session) NativeBalance(ctx context.Context) (*big.Int, error) {
	address, err := s.Address(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.chain.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, aaerr.New(aaerr.EstimationFailed, "cannot read account balance", err, map[string]interface{}{
			"address": address.Hex(),
		})
	}
	return balance, nil
}

// Wallet describes the smart account as it currently is on chain.
func (s *Session) Wallet(ctx context.Context) (*model.SmartWallet, error) {
	address, err := s.Address(ctx)
	if err != nil {
		return nil, err
	}
	deployed, err := s.resolver.IsDeployed(ctx, address)
	if err != nil {
		return nil, err
	}
	balance, err := s.NativeBalance(ctx)
	if err != nil {
		return nil, err
	}
	deposit, err := s.estimator.entryPoint.BalanceOf(ctx, address)
	if err != nil {
		return nil, aaerr.New(aaerr.EstimationFailed, "cannot read entry point deposit", err, map[string]interface{}{
			"address": address.Hex(),
		})
	}
	return &model.SmartWallet{
		Owner:     s.account.Owner,
		Address:   address,
		Factory:   s.account.Factory,
		Index:     new(big.Int).Set(s.account.Index),
		ChainID:   s.chainID.Int64(),
		Deployed:  deployed,
		Balance:   balance,
		Deposit:   deposit,
		Sponsored: s.estimator.Sponsored(),
	}, nil
}

// VerifyAddress asks the factory for the account address and fails with
// InvalidAddressDerivationInput when it differs from the local derivation.
func (s *Session) VerifyAddress(ctx context.Context) (common.Address, error) {
	return s.resolver.Verify(ctx, s.account)
}

// Estimate prices the pending batch. The batch is read once; calls added afterwards
// make the estimate stale.
func (s *Session) Estimate(ctx context.Context) (*Estimate, error) {
	calls := s.batch.Calls()
	est, err := s.estimator.Estimate(ctx, s.account, calls)
	if err != nil {
		s.recordEstimation(aaerr.CodeOf(err).String())
		return nil, err
	}
	s.recordEstimation("ok")
	return est, nil
}

// Submission is a signed operation the bundler accepted.
type Submission struct {
	JournalID  string
	UserOpHash common.Hash
	Operation  *userop.UserOperation
	// when the bundler accepted it, on the session clock
	SubmittedAt time.Time
}

// Send signs est and hands it to the bundler. It refuses an estimate whose calls no
// longer match the pending batch.
func (s *Session) Send(ctx context.Context, est *Estimate) (*Submission, error) {
	signed, localHash, err := s.sign(est)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, est, signed, localHash)
}

func (s *Session) sign(est *Estimate) (*userop.UserOperation, common.Hash, error) {
	current, err := s.batch.Fingerprint()
	if err != nil {
		return nil, common.Hash{}, aaerr.New(aaerr.InvalidOperation, "cannot encode batched calls", err)
	}
	if current != est.Fingerprint {
		return nil, common.Hash{}, aaerr.New(aaerr.StaleEstimate, "pending calls changed after estimation", nil, map[string]interface{}{
			"estimated": est.Fingerprint.Hex(),
			"current":   current.Hex(),
		})
	}
	return s.signer.Sign(est.Operation)
}

func (s *Session) submit(ctx context.Context, est *Estimate, signed *userop.UserOperation, localHash common.Hash) (*Submission, error) {
	log := logger.ForAccount(s.logger, signed.Sender, s.chainID)
	entry := s.journalCreate(signed, est)

	hash, err := s.submitter.SendUserOperation(ctx, signed, s.entryPoint)
	if err != nil {
		s.recordSubmission(aaerr.CodeOf(err).String())
		s.journalUpdate(entry, func(op *model.Operation) {
			op.State = model.OperationFailed
			op.Reason = err.Error()
		})
		if aaerr.Is(err, aaerr.SubmissionRejected) {
			// the cached nonce may be the reason, the next estimate reads the chain again
			s.nonces.ResetNonce(signed.Sender)
		}
		return nil, err
	}
	s.recordSubmission("ok")

	if hash != localHash {
		log.Warn("bundler returned a different user operation hash, polling with the bundler's",
			"local", localHash.Hex(), "bundler", hash.Hex())
	}

	s.nonces.IncrementNonce(signed.Sender, signed.Nonce)
	s.journalUpdate(entry, func(op *model.Operation) {
		op.State = model.OperationSubmitted
		op.UserOpHash = hash.Hex()
	})

	log.Info("user operation submitted", "userOpHash", hash.Hex(), "nonce", signed.Nonce.String())
	return &Submission{
		JournalID:   entry,
		UserOpHash:  hash,
		Operation:   signed,
		SubmittedAt: s.clock.Now(),
	}, nil
}

// Result is the end state of one lifecycle.
type Result struct {
	State      poller.State
	UserOpHash common.Hash
	// nil unless State is Confirmed or Reverted
	Receipt   *bundler.UserOperationReceipt
	Operation *userop.UserOperation
	Attempts  int
	// set when a timed out operation is no longer known to the bundler
	Dropped bool
	Laps    []timekeeper.Lap
}

// Wait polls until sub is included, the poll deadline passes or ctx ends.
// TimedOut is a result, not an error: the operation may still land later.
func (s *Session) Wait(ctx context.Context, sub *Submission) (*Result, error) {
	outcome, err := s.poller.Wait(ctx, sub.UserOpHash)

	res := &Result{
		State:      outcome.State,
		UserOpHash: sub.UserOpHash,
		Receipt:    outcome.Receipt,
		Operation:  sub.Operation,
		Attempts:   outcome.Attempts,
	}
	if outcome.State == poller.TimedOut {
		held, lookupErr := s.bundlerHolds(ctx, sub.UserOpHash)
		if lookupErr != nil {
			s.logger.Warn("cannot look up timed out user operation", "userOpHash", sub.UserOpHash.Hex(), "error", lookupErr)
		}
		res.Dropped = s.lookup != nil && lookupErr == nil && !held
		if lookupErr == nil && !held && sub.Operation != nil {
			s.releaseNonce(sub.Operation)
		}
	}
	s.settle(sub.JournalID, outcome, res.Dropped)
	if outcome.Receipt != nil && s.metrics != nil {
		s.metrics.ObserveInclusion(s.clock.Since(sub.SubmittedAt).Seconds())
	}
	return res, err
}

// Run executes the whole lifecycle for the pending batch.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	watch := timekeeper.NewStopwatch(s.clock)

	est, err := s.Estimate(ctx)
	if err != nil {
		return nil, err
	}
	watch.Lap("estimate")

	signed, localHash, err := s.sign(est)
	if err != nil {
		return nil, err
	}
	watch.Lap("sign")

	sub, err := s.submit(ctx, est, signed, localHash)
	if err != nil {
		return nil, err
	}
	watch.Lap("submit")

	res, err := s.Wait(ctx, sub)
	watch.Lap("poll")
	if res != nil {
		res.Laps = watch.Laps()
	}

	s.logger.Info("user operation lifecycle finished",
		"userOpHash", sub.UserOpHash.Hex(),
		"state", res.State,
		"attempts", res.Attempts,
		"laps", watch.Laps(),
		"total", watch.Total(),
	)
	return res, err
}

// Resume waits again for an operation submitted earlier, typically one that timed out.
func (s *Session) Resume(ctx context.Context, hash common.Hash) (*Result, error) {
	sub := &Submission{UserOpHash: hash, SubmittedAt: s.clock.Now()}
	if s.journal != nil {
		if op, err := s.journal.FindByHash(hash.Hex()); err == nil {
			sub.JournalID = op.ID
		}
	}
	return s.Wait(ctx, sub)
}

// bundlerHolds reports whether the bundler still knows the operation behind hash.
func (s *Session) bundlerHolds(ctx context.Context, hash common.Hash) (bool, error) {
	if s.lookup == nil {
		return false, nil
	}
	found, err := s.lookup.GetUserOperationByHash(ctx, hash)
	if err != nil {
		return false, err
	}
	return found != nil, nil
}

// releaseNonce forgets the nonce reserved for op unless a newer operation was
// submitted after it, so the next estimate trusts the entry point again.
func (s *Session) releaseNonce(op *userop.UserOperation) {
	cached, ok := s.nonces.GetCachedNonce(op.Sender)
	if !ok || cached.Cmp(new(big.Int).Add(op.Nonce, big.NewInt(1))) != 0 {
		return
	}
	s.nonces.ResetNonce(op.Sender)
	logger.ForAccount(s.logger, op.Sender, s.chainID).Info("released nonce of timed out user operation", "nonce", op.Nonce.String())
}

func (s *Session) settle(journalID string, outcome *poller.Outcome, dropped bool) {
	if s.metrics != nil {
		s.metrics.AddPollAttempts(outcome.Attempts)
		s.metrics.IncOutcome(string(outcome.State))
	}
	s.journalUpdate(journalID, func(op *model.Operation) {
		op.State = journalState(outcome.State)
		op.Attempts += outcome.Attempts
		if r := outcome.Receipt; r != nil {
			op.TxHash = r.TransactionHash().Hex()
			op.Reason = r.Reason
			if r.ActualGasCost != nil {
				op.ActualGasCost = r.ActualGasCost.ToInt().String()
			}
		}
		if dropped {
			op.Reason = "no longer known to the bundler"
		}
	})
}

func journalState(state poller.State) model.OperationState {
	switch state {
	case poller.Confirmed:
		return model.OperationConfirmed
	case poller.Reverted:
		return model.OperationReverted
	case poller.TimedOut:
		return model.OperationTimedOut
	case poller.Cancelled:
		return model.OperationCancelled
	}
	return model.OperationSubmitted
}

func (s *Session) journalCreate(op *userop.UserOperation, est *Estimate) string {
	if s.journal == nil {
		return ""
	}
	entry := &model.Operation{
		Owner:      s.account.Owner.Hex(),
		Sender:     op.Sender.Hex(),
		EntryPoint: s.entryPoint.Hex(),
		ChainID:    s.chainID.Int64(),
		Nonce:      op.Nonce.String(),
		Calls:      est.Calls,
		Sponsored:  est.Sponsored,
		Deploys:    op.Deploys(),
	}
	if err := s.journal.Create(entry); err != nil {
		s.logger.Warn("cannot record operation in journal", "error", err)
		return ""
	}
	return entry.ID
}

func (s *Session) journalUpdate(id string, fn func(op *model.Operation)) {
	if s.journal == nil || id == "" {
		return
	}
	if _, err := s.journal.Update(id, fn); err != nil {
		s.logger.Warn("cannot update journal", "id", id, "error", err)
	}
}

func (s *Session) recordEstimation(status string) {
	if s.metrics == nil {
		return
	}
	mode := "self_funded"
	if s.estimator.Sponsored() {
		mode = "sponsored"
	}
	s.metrics.IncEstimation(mode, status)
}

func (s *Session) recordSubmission(status string) {
	if s.metrics != nil {
		s.metrics.IncSubmission(status)
	}
}

func fingerprintOf(callData []byte) common.Hash {
	return crypto.Keccak256Hash(callData)
}

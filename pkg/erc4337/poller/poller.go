// Package poller waits for a submitted user operation to be included.
package poller

import (
	"context"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"github.com/AvaProtocol/ap-userop/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
)

type State string

const (
	Submitted State = "submitted"
	Polling   State = "polling"
	Confirmed State = "confirmed"
	// Reverted means the operation was included but its execution failed.
	Reverted  State = "reverted"
	TimedOut  State = "timed_out"
	Cancelled State = "cancelled"
)

// Terminal reports whether no further polling can change the state.
func (s State) Terminal() bool {
	switch s {
	case Confirmed, Reverted, TimedOut, Cancelled:
		return true
	}
	return false
}

const (
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = 2 * time.Second
)

// ReceiptFetcher is satisfied by *bundler.Client.
type ReceiptFetcher interface {
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error)
}

type Config struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Outcome is the final state of one wait.
type Outcome struct {
	State    State
	Receipt  *bundler.UserOperationReceipt
	Attempts int
	Elapsed  time.Duration
}

// Poller queries the bundler at a fixed interval until a receipt shows up or the
// deadline passes. There is no backoff and no jitter.
type Poller struct {
	fetcher  ReceiptFetcher
	clock    clockwork.Clock
	timeout  time.Duration
	interval time.Duration
	logger   sdklogging.Logger
}

// New builds a poller. A nil clock means the real clock.
func New(fetcher ReceiptFetcher, cfg Config, clock clockwork.Clock, log sdklogging.Logger) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		clock:    clock,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		logger:   logger.EnsureLogger(log),
	}
}

// Wait polls for the receipt of hash. The deadline is checked before every attempt
// so TimedOut is never reported early. Lookup errors are logged and polling goes on.
// The returned error is non-nil only when ctx is cancelled.
func (p *Poller) Wait(ctx context.Context, hash common.Hash) (*Outcome, error) {
	start := p.clock.Now()
	deadline := start.Add(p.timeout)
	out := &Outcome{State: Submitted}

	for {
		if err := ctx.Err(); err != nil {
			out.State = Cancelled
			out.Elapsed = p.clock.Since(start)
			return out, err
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			out.State = TimedOut
			out.Elapsed = now.Sub(start)
			p.logger.Warn("user operation not included before deadline, it may still be pending",
				"userOpHash", hash.Hex(), "attempts", out.Attempts, "elapsed", out.Elapsed)
			return out, nil
		}

		out.State = Polling
		out.Attempts++
		receipt, err := p.fetcher.GetUserOperationReceipt(ctx, hash)
		switch {
		case err != nil:
			p.logger.Warn("receipt lookup failed", "userOpHash", hash.Hex(), "attempt", out.Attempts, "error", err)
		case receipt != nil:
			out.Receipt = receipt
			out.Elapsed = p.clock.Since(start)
			out.State = Confirmed
			if !receipt.Success {
				out.State = Reverted
			}
			p.logger.Info("user operation included", "userOpHash", hash.Hex(), "state", out.State,
				"txHash", receipt.TransactionHash().Hex(), "attempts", out.Attempts)
			return out, nil
		default:
			p.logger.Debug("receipt not available yet", "userOpHash", hash.Hex(), "attempt", out.Attempts)
		}

		wait := p.interval
		if remaining := deadline.Sub(p.clock.Now()); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			continue
		}

		timer := p.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

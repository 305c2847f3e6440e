package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/core/config"
	"github.com/AvaProtocol/ap-userop/core/smartaccount"
	"github.com/AvaProtocol/ap-userop/metrics"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/batch"
	"github.com/AvaProtocol/ap-userop/pkg/erc4337/poller"
)

var (
	sendTo          string
	sendValue       string
	sendData        string
	sendCalls       []string
	sendMetricsAddr string
	sendEstimate    bool

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Batch calls into one user operation and submit it",
		Long: `Build, price, sign and submit one user operation, then wait for its receipt.

A single call is given with --to, --value (in ether) and --data. Use --call
target,amount[,0xdata] once per call to batch several of them.

When a paymaster is configured the operation is sponsored, otherwise the
account pays for its own gas. --estimate-only stops before signing.`,
		Example: `  ap-userop send --to 0x000000000000000000000000000000000000dEaD --value 0.0001
  ap-userop send --call 0xabc...,0 --call 0xdef...,0.5,0xa9059cbb...`,
		RunE: runSend,
	}
)

func runSend(cmd *cobra.Command, args []string) error {
	calls, err := sendBatch()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sendMetricsAddr != "" {
		cfg.MetricsAddr = sendMetricsAddr
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	j, db, err := openJournal(cfg, clock)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := startMetrics(ctx, cfg, j)
	if err != nil {
		return err
	}

	opened, err := smartaccount.Open(ctx, cfg, smartaccount.Options{Journal: j, Metrics: m, Clock: clock})
	if err != nil {
		return err
	}
	defer opened.Close()

	for _, c := range calls {
		opened.AddCall(c.Target, c.Value, c.Data)
	}

	printer := newPrinter(cmd.OutOrStdout())
	out := cmd.OutOrStdout()

	if sendEstimate {
		est, err := opened.Estimate(ctx)
		if err != nil {
			return withRetryHint(err)
		}
		printer.Println(est.Operation)
		return nil
	}

	res, err := opened.Run(ctx)
	if err != nil {
		return withRetryHint(err)
	}

	fmt.Fprintf(out, "UserOp hash: %s\n", res.UserOpHash.Hex())
	fmt.Fprintf(out, "State:       %s after %d receipt lookups\n", res.State, res.Attempts)
	for _, lap := range res.Laps {
		fmt.Fprintf(out, "  %-8s %s\n", lap.Stage, lap.Duration.Round(time.Millisecond))
	}

	switch res.State {
	case poller.Confirmed, poller.Reverted:
		tx := res.Receipt.TransactionHash().Hex()
		fmt.Fprintf(out, "Tx hash:     %s\n", tx)
		if link := cfg.Chain.ExplorerTxURL(tx); link != "" {
			fmt.Fprintf(out, "Explorer:    %s\n", link)
		}
		if res.Receipt.ActualGasCost != nil {
			fmt.Fprintf(out, "Gas cost:    %s %s\n", formatEther(res.Receipt.ActualGasCost.ToInt()), cfg.Chain.NativeCurrency.Symbol)
		}
		if res.State == poller.Reverted {
			return fmt.Errorf("user operation reverted: %s", res.Receipt.Reason)
		}
	case poller.TimedOut:
		if res.Dropped {
			fmt.Fprintln(out, "The bundler dropped the operation, run send again to retry")
		} else {
			fmt.Fprintf(out, "No receipt yet, check later with: ap-userop receipt %s\n", res.UserOpHash.Hex())
		}
	}
	return nil
}

// withRetryHint tells the user when nothing was included and send can simply run again.
func withRetryHint(err error) error {
	code := aaerr.CodeOf(err)
	if !code.Retryable() {
		return err
	}
	return fmt.Errorf("%w\nnothing was submitted on chain (%s), run send again once the cause is resolved", err, code)
}

func sendBatch() ([]batch.PendingCall, error) {
	var calls []batch.PendingCall
	if sendTo != "" {
		c, err := newCall(sendTo, sendValue, sendData)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	for _, raw := range sendCalls {
		c, err := parseCall(raw)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("nothing to send, use --to or --call")
	}
	return calls, nil
}

// startMetrics serves /metrics when an address is configured and returns nil otherwise.
func startMetrics(ctx context.Context, cfg *config.Config, j metrics.JournalReader) (metrics.MetricsGenerator, error) {
	if cfg.MetricsAddr == "" {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(cfg.MetricsAddr, reg, cfg.Logger)
	if err := reg.Register(metrics.NewJournalCollector(j, cfg.Logger)); err != nil {
		return nil, fmt.Errorf("failed to register journal metrics: %w", err)
	}

	errC := m.Start(ctx, reg)
	go func() {
		if err, ok := <-errC; ok && err != nil {
			cfg.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	cfg.Logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	return m, nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Target of a single call")
	sendCmd.Flags().StringVar(&sendValue, "value", "0", "Ether sent with --to, e.g. 0.001")
	sendCmd.Flags().StringVar(&sendData, "data", "", "Hex call data for --to")
	sendCmd.Flags().StringArrayVar(&sendCalls, "call", nil, "Batched call as target,amount[,0xdata], repeatable")
	sendCmd.Flags().StringVar(&sendMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	sendCmd.Flags().BoolVar(&sendEstimate, "estimate-only", false, "Print the priced operation without signing or submitting it")
	rootCmd.AddCommand(sendCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/model"
)

var (
	historyLimit int
	historyAll   bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List user operations recorded in the local journal",
		Long: `List the operations this machine submitted, newest first. Only the configured
smart account is shown unless --all is set. Needs db_path in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DbPath == "" {
				return fmt.Errorf("no journal configured, set db_path")
			}

			j, db, err := openJournal(cfg, clockwork.NewRealClock())
			if err != nil {
				return err
			}
			defer db.Close()

			var (
				ops   []*model.Operation
				total int64 = -1
			)
			if historyAll {
				ops, err = j.List(historyLimit)
			} else {
				resolver, rerr := aa.NewResolver(nil, aa.ResolverConfig{Implementation: cfg.SmartAccount.Implementation}, cfg.Logger)
				if rerr != nil {
					return rerr
				}
				sender, rerr := resolver.Resolve(cfg.AccountParams())
				if rerr != nil {
					return rerr
				}
				ops, err = j.ListBySender(sender.Hex(), historyLimit)
				if err == nil {
					total, err = j.CountBySender(sender.Hex())
				}
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSTATE\tNONCE\tCALLS\tSPONSORED\tUSEROP HASH\tTX HASH")
			for _, op := range ops {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
					op.ID, time.UnixMilli(op.CreatedAt).Format("2006-01-02 15:04:05"), op.State, op.Nonce,
					op.Calls, op.Sponsored, op.UserOpHash, op.TxHash)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total >= 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d operations\n", len(ops), total)
			}
			return nil
		},
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of operations to show, 0 for all")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Show operations of every account in the journal")
	rootCmd.AddCommand(historyCmd)
}

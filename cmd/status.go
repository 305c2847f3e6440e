package cmd

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the local journal",
	Long:  `Show how many recorded operations ended in each state and which ones still wait for a receipt.`,
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

		stats, err := j.Stats()
		if err != nil {
			return err
		}
		pending, err := j.Pending()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Journal: %s\n\n", db.DbPath())
		for _, state := range model.OperationStates {
			if !state.Final() {
				continue
			}
			fmt.Fprintf(out, "  %-10s %d\n", state, stats[state])
		}
		fmt.Fprintf(out, "  %-10s %d\n", "pending", len(pending))

		for _, op := range pending {
			fmt.Fprintf(out, "\n  %s %s nonce %s, check with: ap-userop receipt %s", op.ID, op.State, op.Nonce, op.UserOpHash)
		}
		if len(pending) > 0 {
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

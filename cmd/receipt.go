package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/core/smartaccount"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt <userOpHash>",
	Short: "Wait for the receipt of a submitted user operation",
	Long: `Poll the bundler for a user operation submitted earlier, typically one that
timed out during "send". The journal entry is updated when one exists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[0]
		if len(common.FromHex(raw)) != common.HashLength {
			return fmt.Errorf("invalid user operation hash %q", raw)
		}
		hash := common.HexToHash(raw)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		clock := clockwork.NewRealClock()
		j, db, err := openJournal(cfg, clock)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := contextOf(cmd)
		opened, err := smartaccount.Open(ctx, cfg, smartaccount.Options{Journal: j, Clock: clock})
		if err != nil {
			return err
		}
		defer opened.Close()

		res, err := opened.Resume(ctx, hash)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "State: %s after %d receipt lookups\n", res.State, res.Attempts)
		if res.Receipt != nil {
			newPrinter(out).Println(res.Receipt)
		}
		if res.Dropped {
			fmt.Fprintln(out, "The bundler no longer knows this operation, it was dropped")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(receiptCmd)
}

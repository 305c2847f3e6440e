package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/core/chainio/aa"
	"github.com/AvaProtocol/ap-userop/core/smartaccount"
)

var (
	addressOffline bool
	addressVerify  bool

	addressCmd = &cobra.Command{
		Use:   "address",
		Short: "Show the smart account address",
		Long: `Derive the counterfactual address of the configured owner's smart account.
The address is the same before and after deployment.

Use --offline to derive it without any RPC call, this needs smart_account.implementation.
Use --verify to check the derivation against the factory's getAddress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if addressOffline && addressVerify {
				return fmt.Errorf("--verify needs the chain, it cannot be combined with --offline")
			}

			if addressOffline {
				resolver, err := aa.NewResolver(nil, aa.ResolverConfig{Implementation: cfg.SmartAccount.Implementation}, cfg.Logger)
				if err != nil {
					return err
				}
				address, err := resolver.ResolveContext(contextOf(cmd), cfg.AccountParams())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), address.Hex())
				return nil
			}

			ctx := contextOf(cmd)
			opened, err := smartaccount.Open(ctx, cfg, smartaccount.Options{})
			if err != nil {
				return err
			}
			defer opened.Close()

			if addressVerify {
				if _, err := opened.VerifyAddress(ctx); err != nil {
					return err
				}
			}

			wallet, err := opened.Wallet(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address:   %s\n", wallet.Address.Hex())
			fmt.Fprintf(out, "Owner:     %s\n", wallet.Owner.Hex())
			fmt.Fprintf(out, "Chain:     %s (%d)\n", cfg.Chain.Name, wallet.ChainID)
			fmt.Fprintf(out, "Deployed:  %t\n", wallet.Deployed)
			fmt.Fprintf(out, "Balance:   %s %s\n", formatEther(wallet.Balance), cfg.Chain.NativeCurrency.Symbol)
			fmt.Fprintf(out, "Deposit:   %s %s\n", formatEther(wallet.Deposit), cfg.Chain.NativeCurrency.Symbol)
			fmt.Fprintf(out, "Sponsored: %t\n", wallet.Sponsored)
			if addressVerify {
				fmt.Fprintln(out, "Verified:  factory getAddress matches")
			}
			return nil
		},
	}
)

func init() {
	addressCmd.Flags().BoolVar(&addressOffline, "offline", false, "Derive the address locally without contacting the chain")
	addressCmd.Flags().BoolVar(&addressVerify, "verify", false, "Check the derived address against the factory")
	rootCmd.AddCommand(addressCmd)
}

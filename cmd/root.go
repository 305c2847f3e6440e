package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/core/backup"
	"github.com/AvaProtocol/ap-userop/core/config"
	"github.com/AvaProtocol/ap-userop/core/journal"
	"github.com/AvaProtocol/ap-userop/core/migrator"
	"github.com/AvaProtocol/ap-userop/migrations"
	"github.com/AvaProtocol/ap-userop/storage"
)

const defaultConfigPath = "config/ap-userop.yaml"

// rootCmd represents the base command when called without any subcommands
var (
	configPath string
	envFile    string

	rootCmd = &cobra.Command{
		Use:   "ap-userop",
		Short: "Send ERC-4337 user operations from a smart account",
		Long: `ap-userop batches calls for an Etherspot modular smart account, prices them
with a paymaster or the bundler, signs with the owner key, submits to a bundler
and waits for the receipt.

Secrets come from the environment or a .env file:
  WALLET_PRIVATE_KEY, API_KEY, BUNDLER_URL, PAYMASTER_URL, RPC_URL, CHAIN_PRESET

Such as "ap-userop address" or "ap-userop send --to 0x... --value 0.001"
`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file, ./.env is used when present")
}

// loadConfig reads the .env file and the config file. A missing default config file
// is fine, everything can come from the environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	path := configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.NewConfig(path)
}

// openJournal opens the journal at db_path and applies pending migrations, taking a
// backup into <db_path>-backup first. Without db_path the journal lives in memory.
func openJournal(cfg *config.Config, clock clockwork.Clock) (*journal.Journal, storage.Storage, error) {
	if cfg.DbPath == "" {
		db, err := storage.NewInMemory()
		if err != nil {
			return nil, nil, err
		}
		return journal.New(db, clock, cfg.Logger), db, nil
	}

	db, err := storage.NewWithPath(cfg.DbPath)
	if err != nil {
		return nil, nil, err
	}
	backupService := backup.NewService(cfg.Logger, db, filepath.Clean(cfg.DbPath)+"-backup", clock)
	if err := migrator.NewMigrator(db, backupService, migrations.Migrations, cfg.Logger).Run(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return journal.New(db, clock, cfg.Logger), db, nil
}

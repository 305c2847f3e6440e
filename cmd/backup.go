package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-userop/core/backup"
	"github.com/AvaProtocol/ap-userop/storage"
)

var (
	backupDir        string
	periodicInterval int
	dbPath           string
	restoreFile      string

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Backup the operation journal",
		Long: `Backup the badger journal to a directory.

Backups are stored as /backup_dir/yy-mm-dd-hh-mm/journal.backup.
Use --db-path to point at the journal directory, db_path from the config is used otherwise.
Use --interval to keep running and back up periodically (minutes, 0 means one-time backup).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := journalPath()
			if err != nil {
				return err
			}
			db, err := storage.NewWithPath(path)
			if err != nil {
				return err
			}
			defer db.Close()

			service := backup.NewService(nil, db, backupDir, nil)
			if periodicInterval <= 0 {
				file, err := service.PerformBackup(contextOf(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup completed successfully to %s\n", file)
				return nil
			}

			if err := service.StartPeriodicBackup(time.Duration(periodicInterval) * time.Minute); err != nil {
				return err
			}
			defer service.StopPeriodicBackup()
			fmt.Fprintf(cmd.OutOrStdout(), "Backing up %s every %d minutes to %s\n", path, periodicInterval, backupDir)
			ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Restore the operation journal from a backup",
		Long: `Load a backup written by "backup" into the journal directory.

Use --db-path to specify the journal directory to restore to.
Use --file to specify the backup file to restore from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := journalPath()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("failed to create journal directory: %w", err)
			}
			db, err := storage.NewWithPath(path)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := backup.Restore(contextOf(cmd), db, restoreFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Restore completed successfully")
			return nil
		},
	}
)

func journalPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.DbPath == "" {
		return "", fmt.Errorf("no journal configured, use --db-path or set db_path")
	}
	return cfg.DbPath, nil
}

func init() {
	backupCmd.Flags().StringVar(&dbPath, "db-path", "", "Path to the journal directory")
	backupCmd.Flags().StringVar(&backupDir, "dir", "./backup", "Directory to store backups")
	backupCmd.Flags().IntVar(&periodicInterval, "interval", 0, "Run backups periodically (minutes, 0 for one-time)")
	rootCmd.AddCommand(backupCmd)

	restoreCmd.Flags().StringVar(&dbPath, "db-path", "", "Path to the journal directory")
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "Backup file to restore from (required)")
	restoreCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(restoreCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"mysql-auto-backup/internal/display"
	"mysql-auto-backup/internal/restore"

	"github.com/spf13/cobra"
)

var (
	restoreFile   string
	restoreLatest bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load a backup into the job's server",
	Long: `Restore one artifact into the server of the selected job config.

Without --file the job's backups are listed and one is chosen interactively.
When stdin is not a terminal, or with --latest, the newest backup is used.
The server parameters recorded in the dump header are applied through
--init-command. Encrypted artifacts are decrypted with the job's passphrase.

Examples:
  mysql-auto-backup restore --config shop
  mysql-auto-backup restore --config shop --file backups/shop/backup_shop_all_2024-03-01_02-00-00.sql.gz`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "artifact to restore")
	restoreCmd.Flags().BoolVar(&restoreLatest, "latest", false, "restore the newest backup without prompting")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.selectJob()
	if err != nil {
		return err
	}

	p := display.NewPrinter(cmd.OutOrStdout(), noColor)
	path := restoreFile
	if path == "" {
		artifacts, err := restore.List(job.Backup.BackupDir, job.Name, a.logger, job.Siblings...)
		if err != nil {
			return err
		}
		choice, err := restore.Select(artifacts, os.Stdin, cmd.OutOrStdout(), !restoreLatest && restore.IsInteractive())
		if err != nil {
			return fmt.Errorf("[%s] %w in %s", job.Name, err, job.Backup.BackupDir)
		}
		path = choice.Path
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	p.Info("Restoring %s into %s:%d", path, job.Database.Host, job.Database.Port)
	err = withShutdown(func(ctx context.Context) error {
		return restore.NewRestorer(nil, nil, debug, a.logger).Restore(ctx, job, path)
	})
	if err != nil {
		p.Error("%v", err)
		return errJobsFailed
	}
	p.Success("Restore of %s completed", job.Name)
	return nil
}

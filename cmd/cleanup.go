package cmd

import (
	"time"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/display"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete backups older than days_to_keep",
	Long: `Apply retention to each selected job without running a backup.

Only files named like the job's own artifacts are considered. A job with
days_to_keep of 0 is left alone.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	p := display.NewPrinter(cmd.OutOrStdout(), noColor || quiet)
	failed := false
	now := time.Now()
	for _, job := range a.jobs {
		deleted, err := backup.CleanupOldBackups(job.Backup.BackupDir, job.Name, job.Backup.DaysToKeep, now, job.Siblings...)
		for _, path := range deleted {
			a.logger.WithConfig(job.Name).Infof("Deleted old backup: %s", path)
		}
		if err != nil {
			failed = true
			p.Error("%s: %v", job.Name, err)
			continue
		}
		p.Success("%s: %d old backups deleted", job.Name, len(deleted))
	}
	if failed {
		return errJobsFailed
	}
	return nil
}

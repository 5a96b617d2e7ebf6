package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/display"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run the selected backups now",
	Long: `Run every selected, enabled job config now, at most four at a time.

The exit status is 1 when any backup failed.`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	var runs []*backup.Run
	err = withShutdown(func(ctx context.Context) error {
		jobs := a.jobs[:0:0]
		for _, job := range a.jobs {
			if !job.Backup.Enabled {
				a.logger.WithConfig(job.Name).Info("Backup disabled, skipping")
				continue
			}
			jobs = append(jobs, job)
		}
		if len(jobs) == 0 {
			return fmt.Errorf("no enabled job configs found")
		}
		runs = a.runJobs(ctx, jobs)
		return nil
	})
	if err != nil {
		return err
	}

	if !printRuns(display.NewPrinter(cmd.OutOrStdout(), noColor || quiet), runs) {
		return errJobsFailed
	}
	return nil
}

// printRuns summarizes runs and reports whether all succeeded.
func printRuns(p *display.Printer, runs []*backup.Run) bool {
	ok := true
	for _, run := range runs {
		switch {
		case !run.Success:
			ok = false
			p.Error("%s: %s", run.ConfigName, firstLine(run.Message))
		case len(run.SkippedTables) > 0:
			p.Warn("%s: %s (skipped %d tables)", run.ConfigName, fileLabel(run.ArtifactPath), len(run.SkippedTables))
		default:
			p.Success("%s: %s", run.ConfigName, fileLabel(run.ArtifactPath))
		}
	}
	return ok
}

func fileLabel(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return filepath.Base(path)
	}
	return fmt.Sprintf("%s (%.2f MB)", filepath.Base(path), float64(info.Size())/1024/1024)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

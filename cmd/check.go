package cmd

import (
	"context"
	"errors"

	"mysql-auto-backup/internal/notify"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report the last backup of each job",
	Long: `Send the report for each selected job's most recent run.

A job without a status record triggers an "unknown" alert. A run that is still
going triggers a reminder. Otherwise the outcome is sent and the mail time is
recorded. Schedule this at report_time when backups run before it.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	return withShutdown(func(ctx context.Context) error {
		return a.checkAll(ctx)
	})
}

// checkAll runs the report check for every job and joins the failures.
func (a *app) checkAll(ctx context.Context) error {
	notifier := notify.NewNotifier(a.logger, debug)
	var errs []error
	for _, job := range a.jobs {
		if err := notify.NewChecker(a.store(job), notifier, a.logger).Check(ctx, job); err != nil {
			a.logger.WithConfig(job.Name).Errorf("Status check failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

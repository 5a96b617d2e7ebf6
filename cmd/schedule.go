package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/display"
	"mysql-auto-backup/internal/schedule"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups and checks at their configured times",
	Long: `Stay in the foreground and run each job at its backup_time, falling back
to the project's backup_time. Jobs sharing a time run together through the
worker pool. When the project sets report_time a status check runs then.

Stop with Ctrl-C or SIGTERM; running backups finish their cleanup first.`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.buildDaemon()
	if err != nil {
		return err
	}

	p := display.NewPrinter(cmd.OutOrStdout(), noColor || quiet)
	now := time.Now()
	for _, name := range d.Names() {
		if next, ok := d.Next(name, now); ok {
			p.Info("%-40s next run %s", name, next.Format("2006-01-02 15:04"))
		}
	}
	return withShutdown(d.Run)
}

// buildDaemon registers one backup entry per distinct backup time and the report check.
func (a *app) buildDaemon() (*schedule.Daemon, error) {
	groups, err := schedule.Group(a.jobs, a.project.Backup.BackupTime)
	if err != nil {
		return nil, err
	}

	d := schedule.NewDaemon(a.logger)
	specs := make([]string, 0, len(groups))
	for spec := range groups {
		specs = append(specs, spec)
	}
	sort.Strings(specs)

	for _, spec := range specs {
		jobs := groups[spec]
		if err := d.Add(taskName(jobs), spec, func(ctx context.Context) {
			runs := a.runJobs(ctx, jobs)
			for _, run := range runs {
				if !run.Success {
					a.logger.WithConfig(run.ConfigName).Errorf("Scheduled backup failed: %s", firstLine(run.Message))
				}
			}
		}); err != nil {
			return nil, err
		}
	}

	if at := a.project.Backup.ReportTime; at != "" {
		spec, err := schedule.Spec(at)
		if err != nil {
			return nil, err
		}
		if err := d.Add("check", spec, func(ctx context.Context) {
			if err := a.checkAll(ctx); err != nil {
				a.logger.Errorf("Scheduled check failed: %v", err)
			}
		}); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func taskName(jobs []*config.JobConfig) string {
	if len(jobs) == 1 {
		return "backup " + jobs[0].Name
	}
	return fmt.Sprintf("backup %s +%d", jobs[0].Name, len(jobs)-1)
}

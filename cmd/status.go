package cmd

import (
	"encoding/json"
	"path/filepath"
	"time"

	"mysql-auto-backup/internal/display"
	"mysql-auto-backup/internal/notify"
	"mysql-auto-backup/internal/status"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded run of each job",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status records as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	var records []*status.Record
	for _, job := range a.jobs {
		rec, err := a.store(job).Load(job.Name)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &status.Record{ConfigName: job.Name}
		}
		records = append(records, rec)
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	p := display.NewPrinter(cmd.OutOrStdout(), noColor)
	renderStatus(p, records, time.Now())
	return nil
}

// renderStatus prints one table row per record.
func renderStatus(p *display.Printer, records []*status.Record, now time.Time) {
	if len(records) == 0 {
		p.Muted("No job configs found")
		return
	}
	theme := p.Theme()
	tbl := display.NewTable("CONFIG", "STATE", "LAST RUN", "FILE", "REPORTED").ForPrinter(p)
	for _, rec := range records {
		state, icon, c := "unknown", display.IconUnknown, theme.Muted
		if !rec.LastRun.IsZero() || rec.Running {
			switch notify.CategoryOf(rec) {
			case notify.CategorySuccess:
				state, icon, c = "success", display.IconSuccess, nil
			case notify.CategoryPartial:
				state, icon, c = "partial", display.IconWarning, theme.Warning
			case notify.CategoryRunning:
				state, icon, c = "running "+now.Sub(rec.StartTime.Time).Round(time.Minute).String(), display.IconRunning, theme.Warning
			default:
				state, icon, c = "failed", display.IconError, theme.Error
			}
		}
		lastRun, file, reported := "-", "-", "-"
		if !rec.LastRun.IsZero() {
			lastRun = rec.LastRun.Format("2006-01-02 15:04:05")
		}
		if rec.BackupFile != "" {
			file = filepath.Base(rec.BackupFile)
		}
		if !rec.MailSentTime.IsZero() {
			reported = rec.MailSentTime.Format("2006-01-02 15:04")
		}
		tbl.AddRow(c, rec.ConfigName, p.Icons().Render(icon)+" "+state, lastRun, file, reported)
	}
	tbl.Render(p.Writer())
}

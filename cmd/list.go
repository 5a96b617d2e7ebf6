package cmd

import (
	"fmt"

	"mysql-auto-backup/internal/display"
	"mysql-auto-backup/internal/restore"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups of each job",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	p := display.NewPrinter(cmd.OutOrStdout(), noColor)
	tbl := display.NewTable("CONFIG", "CREATED", "SIZE", "FILE").ForPrinter(p)
	tbl.SetAlignment(2, display.AlignRight)

	for _, job := range a.jobs {
		artifacts, err := restore.List(job.Backup.BackupDir, job.Name, a.logger, job.Siblings...)
		if err != nil {
			return err
		}
		for _, art := range artifacts {
			name := art.Name
			if art.Encrypted {
				name += " " + p.Icons().Render(display.IconLocked)
			}
			tbl.AddRow(nil,
				job.Name,
				art.Time.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%.2f MB", float64(art.Size)/1024/1024),
				name)
		}
	}

	if tbl.Len() == 0 {
		p.Muted("No backups found")
		return nil
	}
	tbl.Render(p.Writer())
	return nil
}

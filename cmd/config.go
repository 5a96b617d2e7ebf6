package cmd

import (
	"fmt"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/display"

	"github.com/spf13/cobra"
)

var (
	initDir   string
	initForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample project config and job config",
	Long: `Write config.yaml and backup_configs/example.yaml into --dir.

Existing files are kept unless --force is given. Passwords in the samples are
placeholders; prefer defaults_file or environment overrides such as
MYSQL_AUTO_BACKUP_EMAIL_SMTP_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := config.WriteSamples(initDir, initForce)
		p := display.NewPrinter(cmd.OutOrStdout(), noColor)
		for _, path := range written {
			p.Success("Wrote %s", path)
		}
		if err != nil {
			return fmt.Errorf("config init: %w", err)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load every job config and report problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		files, err := config.NewLoader(projectConfig, configsDir, a.logger).FindJobFiles(a.project, configFilter)
		if err != nil {
			return err
		}
		p := display.NewPrinter(cmd.OutOrStdout(), noColor)
		if len(a.jobs) < len(files) {
			p.Error("%d of %d job configs are invalid (see log)", len(files)-len(a.jobs), len(files))
			return errJobsFailed
		}
		p.Success("%d job configs are valid", len(a.jobs))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&initDir, "dir", ".", "directory to write the samples to")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

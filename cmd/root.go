package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/errors"
	"mysql-auto-backup/internal/logging"
	"mysql-auto-backup/internal/notify"
	"mysql-auto-backup/internal/status"
	"mysql-auto-backup/internal/storage"

	"github.com/spf13/cobra"
)

// LogFileName is the rotated log written under the project's log dir.
const LogFileName = "mysql-auto-backup.log"

// CLI flag variables
var (
	projectConfig string
	configFilter  string
	configsDir    string
	debug         bool
	verbose       bool
	quiet         bool
	logFile       string
	logFormat     string
	noColor       bool
)

// errJobsFailed makes the process exit with status 1 after output was already printed.
var errJobsFailed = fmt.Errorf("one or more backups failed")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysql-auto-backup",
	Short: "Automated MySQL backups with self-healing retries",
	Long: `MySQL Auto Backup dumps MySQL servers with mysqldump, directly or through an
SSH tunnel. Dumps that fail on missing or unreadable tables are retried with those
tables excluded. Artifacts are compressed, optionally encrypted, copied offsite
and reported by email, webhook or Slack.

Running without a command is the same as "backup".

Examples:
  # Back up every configuration in backup_configs/
  mysql-auto-backup

  # Back up selected configurations
  mysql-auto-backup backup --config "prod_*"
  mysql-auto-backup backup --config shop,crm

  # Send the daily report for runs that finished before report_time
  mysql-auto-backup check

  # Run in the foreground at each configuration's backup_time
  mysql-auto-backup schedule`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBackup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if err != errJobsFailed {
			fmt.Fprintln(os.Stderr, "Error:", errors.FormatUserError(err))
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&projectConfig, "project-config", "config.yaml", "project config file (yaml or ini)")
	pf.StringVarP(&configFilter, "config", "c", "", "job configs to run: a glob or a comma separated list (default all)")
	pf.StringVar(&configsDir, "configs-dir", "", "job config directory (default backup_configs/ next to the project config)")
	pf.BoolVar(&debug, "debug", false, "debug logging, unmasked commands and no notifications")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	pf.StringVar(&logFile, "log-file", "", "also write logs to this file")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	pf.BoolVar(&noColor, "no-color", false, "disable color output")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// app is the state shared by commands after configuration is loaded.
type app struct {
	logger  *logging.Logger
	project *config.ProjectConfig
	jobs    []*config.JobConfig

	mu     sync.Mutex
	stores map[string]*status.FileStore
}

func newLogger(file string) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:   logging.ParseLevel(verbose, quiet, debug),
		Output:  os.Stderr,
		Format:  logFormat,
		LogFile: file,
	})
}

// loadApp reads the project config and the selected jobs. With no --log-file
// the log goes to the project's log dir.
func loadApp() (*app, error) {
	logger, err := newLogger(logFile)
	if err != nil {
		return nil, err
	}

	project, jobs, err := config.NewLoader(projectConfig, configsDir, logger).LoadJobs(configFilter)
	if err != nil {
		logger.Close()
		return nil, err
	}

	if logFile == "" && project.Logging.Dir != "" {
		dir := project.Logging.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(project.Root, dir)
		}
		fileLogger, err := logging.NewLogger(logging.Config{
			Level:      logging.ParseLevel(verbose, quiet, debug),
			Output:     os.Stderr,
			Format:     logFormat,
			LogFile:    filepath.Join(dir, LogFileName),
			MaxSizeMB:  project.Logging.MaxSizeMB,
			MaxBackups: project.Logging.MaxBackups,
		})
		if err != nil {
			logger.Warnf("File logging disabled: %v", err)
		} else {
			logger.Close()
			logger = fileLogger
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	a := &app{logger: logger, project: project, jobs: jobs}
	for _, job := range jobs {
		a.store(job)
	}
	return a, nil
}

func (a *app) close() {
	a.logger.Close()
}

// store returns the status store of a job. Jobs with the same status dir share
// one store so concurrent workers write under a single lock.
func (a *app) store(job *config.JobConfig) *status.FileStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stores == nil {
		a.stores = make(map[string]*status.FileStore)
	}
	s, ok := a.stores[job.StatusDir]
	if !ok {
		s = status.NewFileStore(job.StatusDir)
		a.stores[job.StatusDir] = s
	}
	return s
}

// runner builds the backup job runner for job with the real collaborators.
func (a *app) runner(job *config.JobConfig) *backup.Job {
	return backup.NewJob(backup.Dependencies{
		Store:    a.store(job),
		Notifier: notify.NewNotifier(a.logger, debug),
		Offsite: func(ctx context.Context, targets []string, path string) ([]string, error) {
			return storage.PushAll(ctx, targets, path, a.logger)
		},
	}, debug, a.logger)
}

// runJobs backs up every job through the worker pool.
func (a *app) runJobs(ctx context.Context, jobs []*config.JobConfig) []*backup.Run {
	return backup.RunAll(ctx, jobs, a.project.Backup.Workers, func(ctx context.Context, job *config.JobConfig) *backup.Run {
		return a.runner(job).Run(ctx, job)
	})
}

// withShutdown runs fn with a context cancelled on SIGINT/SIGTERM.
func withShutdown(fn func(ctx context.Context) error) error {
	handler := errors.NewGracefulShutdownHandler()
	ctx, cancel := handler.Start(context.Background())
	defer func() {
		cancel()
		handler.Stop()
	}()
	return fn(ctx)
}

// selectJob returns the single job a command operates on.
func (a *app) selectJob() (*config.JobConfig, error) {
	switch len(a.jobs) {
	case 0:
		return nil, fmt.Errorf("no valid job configs found")
	case 1:
		return a.jobs[0], nil
	}
	names := make([]string, len(a.jobs))
	for i, j := range a.jobs {
		names[i] = j.Name
	}
	return nil, fmt.Errorf("several job configs match (%v); pick one with --config", names)
}

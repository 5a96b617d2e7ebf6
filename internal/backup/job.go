package backup

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/database"
	"mysql-auto-backup/internal/logging"
	"mysql-auto-backup/internal/status"
	"mysql-auto-backup/internal/tunnel"
)

// ServerConn is an open driver connection used for probing and inspection.
type ServerConn interface {
	database.Inspector
	ServerVersion(ctx context.Context) database.Version
	Close() error
}

// Connector opens a ServerConn.
type Connector func(ctx context.Context, params database.Params) (ServerConn, error)

// TunnelOpener opens an SSH tunnel and returns its local port.
type TunnelOpener func(ctx context.Context, cfg *config.SSHConfig) (int, io.Closer, error)

// Notifier delivers the outcome of a run.
type Notifier interface {
	Notify(ctx context.Context, job *config.JobConfig, rec *status.Record)
}

// OffsiteFunc uploads path to every target and returns the remote URLs that succeeded.
type OffsiteFunc func(ctx context.Context, targets []string, path string) ([]string, error)

// Dependencies are the collaborators of Job. Nil fields get working defaults,
// except Store, Notifier and Offsite which are skipped when nil.
type Dependencies struct {
	Runner        ProcessRunner
	Connect       Connector
	OpenTunnel    TunnelOpener
	ClientVersion func(ctx context.Context, binary string) (database.Version, error)
	Store         status.Store
	Notifier      Notifier
	Offsite       OffsiteFunc
	Now           func() time.Time
}

// SSHTunnelOpener opens tunnels with the tunnel package.
func SSHTunnelOpener(logger *logging.Logger) TunnelOpener {
	return func(ctx context.Context, cfg *config.SSHConfig) (int, io.Closer, error) {
		t, err := tunnel.Open(ctx, cfg, logger)
		if err != nil {
			return 0, nil, err
		}
		return t.LocalPort, t, nil
	}
}

// WrapTunnelError tags err from a TunnelOpener with the bastion address.
func WrapTunnelError(cfg *config.SSHConfig, err error) *BackupError {
	return NewTunnelError("ssh tunnel failed", err).
		WithContext("bastion", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}

// Job runs one backup configuration end to end.
type Job struct {
	deps   Dependencies
	logger *logging.Logger
	debug  bool
}

// NewJob creates a runner. debug disables credential masking in logged commands.
func NewJob(deps Dependencies, debug bool, logger *logging.Logger) *Job {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if deps.Runner == nil {
		deps.Runner = ExecRunner{}
	}
	if deps.Connect == nil {
		deps.Connect = func(ctx context.Context, params database.Params) (ServerConn, error) {
			c, err := database.Open(ctx, params, logger)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if deps.OpenTunnel == nil {
		deps.OpenTunnel = SSHTunnelOpener(logger)
	}
	if deps.ClientVersion == nil {
		deps.ClientVersion = database.ClientVersion
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Job{deps: deps, logger: logger, debug: debug}
}

// Run executes job and always returns a terminal run.
func (j *Job) Run(ctx context.Context, job *config.JobConfig) (run *Run) {
	run = NewRun(job.Name, j.deps.Now())
	log := j.logger.WithConfig(job.Name)

	defer func() {
		if r := recover(); r != nil {
			run.Fail(fmt.Sprintf("[%s] backup raised an exception: %v", job.Name, r), j.deps.Now())
			log.Errorf("Backup panicked: %v", r)
			j.save(run)
		}
	}()

	run.Message = fmt.Sprintf("[%s] backup in progress...", job.Name)
	j.save(run)

	j.execute(ctx, job, run)
	j.complete(ctx, job, run)
	return run
}

func (j *Job) execute(ctx context.Context, job *config.JobConfig, run *Run) {
	log := j.logger.WithConfig(job.Name)
	db := job.Database

	if job.TunnelEnabled() {
		port, closer, err := j.deps.OpenTunnel(ctx, job.SSH)
		if err != nil {
			run.Fail(fmt.Sprintf("[%s] connectivity failure: %v", job.Name, WrapTunnelError(job.SSH, err)), j.deps.Now())
			log.Error(run.Message)
			return
		}
		defer closer.Close()
		db.Host = "127.0.0.1"
		db.Port = port
	}

	if err := os.MkdirAll(job.Backup.BackupDir, 0o755); err != nil {
		run.Fail(fmt.Sprintf("[%s] backup failed: cannot create %s: %v", job.Name, job.Backup.BackupDir, err), j.deps.Now())
		log.Error(run.Message)
		return
	}

	opts := FinisherOptions{}
	compression, err := ParseCompressionType(job.Backup.Compression)
	if err != nil {
		run.Fail(fmt.Sprintf("[%s] backup failed: %v", job.Name, err), j.deps.Now())
		return
	}
	opts.Compression = compression
	if job.Encryption.Enabled {
		pass, err := ResolvePassphrase(job.Encryption.PassphraseEnv)
		if err != nil {
			run.Fail(fmt.Sprintf("[%s] backup failed: %v", job.Name, err), j.deps.Now())
			log.Error(run.Message)
			return
		}
		opts.Passphrase = pass
	}

	var conn ServerConn
	server := database.Version{}
	c, err := j.deps.Connect(ctx, database.Params{
		Host:         db.Host,
		Port:         db.Port,
		User:         db.User,
		Password:     db.Password,
		DefaultsFile: db.DefaultsFile,
	})
	if err != nil {
		log.Warnf("Server version probe failed, assuming an old server: %v", err)
	} else {
		conn = c
		defer conn.Close()
		server = conn.ServerVersion(ctx)
	}
	log.Infof("MySQL server version: %s", server)

	binary := ResolveBinary(job.Backup.MySQLBinDir, "mysqldump")
	if client, err := j.deps.ClientVersion(ctx, binary); err != nil {
		log.Debugf("Could not detect mysqldump version: %v", err)
	} else if !server.IsZero() && client.Major > server.Major {
		log.Warnf("mysqldump %s is newer than server %s; the dump may need compatibility retries", client, server)
	}

	cmd := BuildDumpCommand(CommandOptions{
		ConfigName: job.Name,
		Binary:     binary,
		Database:   db,
		Server:     server,
		BackupDir:  job.Backup.BackupDir,
		Timestamp:  run.StartTime,
	})

	if names := db.Databases(); len(names) > 0 {
		if conn != nil {
			NewPreflight(job.Name, conn, j.logger).Apply(ctx, run, cmd, names)
		} else {
			log.Warn("Skipping table pre-check: no database connection")
		}
	}

	j.logger.LogCommand(job.Name, cmd.Binary, Sanitize(cmd.Args(), j.debug))
	result := NewLoop(j.deps.Runner, job.Backup.DumpTimeout, j.logger).Run(ctx, run, cmd)
	if result.State != StateSucceeded {
		run.Fail(fmt.Sprintf("[%s] backup failed: %s", job.Name, result.LastStderr), j.deps.Now())
		log.Error(run.Message)
		return
	}

	var source VariableSource
	if conn != nil {
		source = conn
	}
	artifact := ArtifactName(cmd.ResultFile, job.Backup.Compression)
	if err := NewFinisher(source, opts, j.logger).Finish(ctx, run, cmd.ResultFile, artifact); err != nil {
		log.Errorf("Finishing artifact failed: %v", err)
	}
}

// complete handles everything after the run reached its outcome.
func (j *Job) complete(ctx context.Context, job *config.JobConfig, run *Run) {
	log := j.logger.WithConfig(job.Name)

	if run.Success && len(job.Backup.Offsite) > 0 && j.deps.Offsite != nil {
		urls, err := j.deps.Offsite(ctx, job.Backup.Offsite, run.ArtifactPath)
		run.Offsite = urls
		if err != nil {
			run.Message += fmt.Sprintf("\nwarning: offsite upload failed: %v", err)
			log.Warnf("Offsite upload failed: %v", err)
		}
	}

	j.save(run)

	now := j.deps.Now()
	if j.deps.Notifier != nil && ReportDue(job, now) {
		j.deps.Notifier.Notify(ctx, job, run.Record())
		run.MailSentTime = now
		if j.deps.Store != nil {
			if err := j.deps.Store.MarkMailSent(job.Name, now); err != nil {
				log.Warnf("Failed to record mail time: %v", err)
			}
		}
	}

	if run.Success {
		deleted, err := CleanupOldBackups(job.Backup.BackupDir, job.Name, job.Backup.DaysToKeep, now, job.Siblings...)
		if err != nil {
			log.Warnf("Retention cleanup incomplete: %v", err)
		}
		for _, path := range deleted {
			log.Infof("Deleted old backup: %s", path)
		}
	}
}

func (j *Job) save(run *Run) {
	if j.deps.Store == nil {
		return
	}
	if err := j.deps.Store.Save(run.Record()); err != nil {
		j.logger.WithConfig(run.ConfigName).Errorf("Failed to save status: %v", err)
	}
}

// ReportDue reports whether a finished run should be notified right away.
// With report_time set, only runs after today's report time qualify.
func ReportDue(job *config.JobConfig, now time.Time) bool {
	if !job.NotificationsEnabled() {
		return false
	}
	if job.Backup.ReportTime == "" {
		return true
	}
	hour, minute, err := config.ParseClock(job.Backup.ReportTime)
	if err != nil {
		return false
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	return now.After(due)
}

package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/logging"
)

// DefaultInitCommands apply when an artifact carries no parameter header.
var DefaultInitCommands = []string{
	"SET innodb_strict_mode=0",
	"SET GLOBAL innodb_file_per_table=1",
	"SET GLOBAL innodb_file_format=Barracuda",
	"SET GLOBAL innodb_large_prefix=1",
}

// headerCommands maps header variables onto init statements, in order.
var headerCommands = []struct {
	name   string
	format string
}{
	{"character_set_server", "SET GLOBAL character_set_server='%s'"},
	{"character_set_database", "SET character_set_database='%s'"},
	{"collation_server", "SET GLOBAL collation_server='%s'"},
	{"innodb_file_format", "SET GLOBAL innodb_file_format='%s'"},
	{"innodb_large_prefix", "SET GLOBAL innodb_large_prefix=%s"},
	{"innodb_file_per_table", "SET GLOBAL innodb_file_per_table=%s"},
	{"sql_mode", "SET GLOBAL sql_mode='%s'"},
}

// InitCommands builds the mysql --init-command statements for a header.
func InitCommands(vars map[string]string) []string {
	var cmds []string
	for _, hc := range headerCommands {
		if v, ok := vars[hc.name]; ok && v != "" {
			cmds = append(cmds, fmt.Sprintf(hc.format, strings.ReplaceAll(v, "'", "''")))
		}
	}
	if len(cmds) == 0 {
		return append([]string(nil), DefaultInitCommands...)
	}
	return cmds
}

// BuildArgs assembles the mysql client arguments for a restore.
func BuildArgs(db config.DatabaseConfig, vars map[string]string) []string {
	charset := vars["character_set_server"]
	if charset == "" {
		charset = "utf8mb4"
	}
	var args []string
	if db.DefaultsFile != "" {
		args = append(args, "--defaults-file="+db.DefaultsFile)
	}
	args = append(args,
		"--host="+db.Host,
		"--port="+strconv.Itoa(db.Port),
		"--user="+db.User,
	)
	if db.DefaultsFile == "" {
		args = append(args, "--password="+db.Password)
	}
	return append(args,
		"--default-character-set="+charset,
		"--init-command="+strings.Join(InitCommands(vars), ";"),
		"--max-allowed-packet=1G",
	)
}

// Runner executes a binary with stdin attached.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, stdin io.Reader) (backup.ProcessResult, error)
}

// ExecRunner runs the mysql client with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, binary string, args []string, stdin io.Reader) (backup.ProcessResult, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = stdin
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return backup.ProcessResult{Stderr: stderr.String()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return backup.ProcessResult{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}, nil
	}
	return backup.ProcessResult{ExitCode: -1, Stderr: stderr.String()}, err
}

// Restorer loads artifacts into the server described by a job.
type Restorer struct {
	runner     Runner
	openTunnel backup.TunnelOpener
	logger     *logging.Logger
	debug      bool
}

// NewRestorer creates a Restorer. Nil runner and opener get the real implementations.
func NewRestorer(runner Runner, opener backup.TunnelOpener, debug bool, logger *logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if opener == nil {
		opener = backup.SSHTunnelOpener(logger)
	}
	return &Restorer{runner: runner, openTunnel: opener, logger: logger, debug: debug}
}

// Restore decrypts and decompresses path into a temporary file and pipes it to mysql.
func (r *Restorer) Restore(ctx context.Context, job *config.JobConfig, path string) error {
	log := r.logger.WithConfig(job.Name)
	db := job.Database

	if job.TunnelEnabled() {
		port, closer, err := r.openTunnel(ctx, job.SSH)
		if err != nil {
			return fmt.Errorf("[%s] connectivity failure: %w", job.Name, backup.WrapTunnelError(job.SSH, err))
		}
		defer closer.Close()
		db.Host = "127.0.0.1"
		db.Port = port
	}

	tmp, err := os.MkdirTemp("", "mysql-restore-*")
	if err != nil {
		return backup.NewStorageError("failed to create temp dir", err)
	}
	defer os.RemoveAll(tmp)

	src := path
	if backup.IsEncrypted(path) {
		pass, err := backup.ResolvePassphrase(job.Encryption.PassphraseEnv)
		if err != nil {
			return err
		}
		decrypted := filepath.Join(tmp, "artifact")
		if err := backup.DecryptFile(path, decrypted, pass); err != nil {
			return err
		}
		src = decrypted
	}

	plain := filepath.Join(tmp, "restore.sql")
	if err := backup.DecompressFile(src, plain); err != nil {
		return err
	}

	vars, err := backup.ReadHeader(plain)
	if err != nil {
		log.Warnf("Ignoring unreadable parameter header: %v", err)
	}
	if len(vars) == 0 {
		log.Info("No parameter header found, using default init commands")
	}

	binary := backup.ResolveBinary(job.Backup.MySQLBinDir, "mysql")
	args := BuildArgs(db, vars)
	r.logger.LogCommand(job.Name, binary, backup.Sanitize(args, r.debug))

	f, err := os.Open(plain)
	if err != nil {
		return err
	}
	defer f.Close()

	done := r.logger.LogOperationStart("restore", map[string]interface{}{
		"config": job.Name,
		"file":   filepath.Base(path),
	})
	res, err := r.runner.Run(ctx, binary, args, f)
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("mysql exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	done(err)
	if err != nil {
		return fmt.Errorf("[%s] restore failed: %w", job.Name, err)
	}
	return nil
}

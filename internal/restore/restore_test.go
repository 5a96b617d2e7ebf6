package restore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/config"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

type capturingRunner struct {
	binary string
	args   []string
	stdin  string
	result backup.ProcessResult
	err    error
}

func (c *capturingRunner) Run(_ context.Context, binary string, args []string, stdin io.Reader) (backup.ProcessResult, error) {
	c.binary = binary
	c.args = args
	data, _ := io.ReadAll(stdin)
	c.stdin = string(data)
	return c.result, c.err
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func restoreJob() *config.JobConfig {
	return &config.JobConfig{
		Name: "shop",
		Database: config.DatabaseConfig{
			Host:     "db.internal",
			Port:     3306,
			User:     "backup",
			Password: "s3cret",
		},
		Backup: config.BackupConfig{MySQLBinDir: "/opt/mysql/bin"},
	}
}

func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte("x"), size), 0o600))
	return p
}

// writeArtifact writes a compressed dump with an optional parameter header.
func writeArtifact(t *testing.T, dir string, vars map[string]string, body string) string {
	t.Helper()
	var buf bytes.Buffer
	if vars != nil {
		require.NoError(t, backup.WriteHeader(&buf, vars))
	}
	buf.WriteString(body)
	plain := filepath.Join(dir, "plain.sql")
	require.NoError(t, os.WriteFile(plain, buf.Bytes(), 0o600))

	artifact := filepath.Join(dir, "backup_shop_all_2024-03-01_02-00-00.sql.gz")
	require.NoError(t, backup.CompressFile(plain, artifact, backup.CompressionTypeGzip))
	return artifact
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("backup_shop_app_crm_2024-03-01_02-30-15.sql.zst.enc")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 2, 30, 15, 0, time.Local), ts)

	_, err = ParseTimestamp("backup_shop_notes.sql.gz")
	assert.Error(t, err)
	_, err = ParseTimestamp("backup_shop_all_yesterday_night.sql.gz")
	assert.Error(t, err)
	_, err = ParseTimestamp("readme.txt")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "backup_shop_all_2024-03-01_02-00-00.sql.gz", 10)
	touch(t, dir, "backup_shop_all_2024-03-03_02-00-00.sql.zst.enc", 20)
	touch(t, dir, "backup_shop_all_2024-03-02_02-00-00.sql.lz4", 30)
	touch(t, dir, "backup_shop_broken.sql.gz", 1)
	touch(t, dir, "backup_other_all_2024-03-04_02-00-00.sql.gz", 1)

	artifacts, err := List(dir, "shop", nil)
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	assert.Equal(t, "backup_shop_all_2024-03-03_02-00-00.sql.zst.enc", artifacts[0].Name)
	assert.True(t, artifacts[0].Encrypted)
	assert.Equal(t, int64(20), artifacts[0].Size)
	assert.Equal(t, "backup_shop_all_2024-03-02_02-00-00.sql.lz4", artifacts[1].Name)
	assert.Equal(t, "backup_shop_all_2024-03-01_02-00-00.sql.gz", artifacts[2].Name)
}

func TestList_SkipsSiblingArtifacts(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "backup_shop_all-databases_2024-03-01_02-00-00.sql.gz", 10)
	touch(t, dir, "backup_shop_eu_all-databases_2024-03-02_02-00-00.sql.gz", 10)

	artifacts, err := List(dir, "shop", nil, "shop_eu")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "backup_shop_all-databases_2024-03-01_02-00-00.sql.gz", artifacts[0].Name)

	artifacts, err = List(dir, "shop_eu", nil)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "backup_shop_eu_all-databases_2024-03-02_02-00-00.sql.gz", artifacts[0].Name)
}

func TestList_EmptyDir(t *testing.T) {
	artifacts, err := List(t.TempDir(), "shop", nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestSelect(t *testing.T) {
	artifacts := []Artifact{
		{Name: "newest", Time: time.Now()},
		{Name: "middle", Time: time.Now().Add(-time.Hour)},
		{Name: "oldest", Time: time.Now().Add(-2 * time.Hour)},
	}

	t.Run("non-interactive picks newest", func(t *testing.T) {
		got, err := Select(artifacts, strings.NewReader("3\n"), io.Discard, false)
		require.NoError(t, err)
		assert.Equal(t, "newest", got.Name)
	})

	t.Run("numbered choice", func(t *testing.T) {
		var out bytes.Buffer
		got, err := Select(artifacts, strings.NewReader("2\n"), &out, true)
		require.NoError(t, err)
		assert.Equal(t, "middle", got.Name)
		assert.Contains(t, out.String(), " 3) oldest")
	})

	t.Run("empty line is default", func(t *testing.T) {
		got, err := Select(artifacts, strings.NewReader("\n"), io.Discard, true)
		require.NoError(t, err)
		assert.Equal(t, "newest", got.Name)
	})

	t.Run("invalid then valid", func(t *testing.T) {
		var out bytes.Buffer
		got, err := Select(artifacts, strings.NewReader("9\nabc\n3\n"), &out, true)
		require.NoError(t, err)
		assert.Equal(t, "oldest", got.Name)
		assert.Contains(t, out.String(), `Invalid choice "9"`)
	})

	t.Run("invalid at eof", func(t *testing.T) {
		_, err := Select(artifacts, strings.NewReader("7"), io.Discard, true)
		assert.Error(t, err)
	})

	t.Run("nothing to select", func(t *testing.T) {
		_, err := Select(nil, strings.NewReader(""), io.Discard, true)
		assert.Error(t, err)
	})
}

func TestInitCommands(t *testing.T) {
	assert.Equal(t, DefaultInitCommands, InitCommands(map[string]string{}))
	assert.Equal(t, DefaultInitCommands, InitCommands(map[string]string{"character_set_client": "utf8"}))

	got := InitCommands(map[string]string{
		"character_set_server":  "utf8mb4",
		"collation_server":      "utf8mb4_general_ci",
		"innodb_large_prefix":   "ON",
		"innodb_file_per_table": "ON",
		"sql_mode":              "STRICT_TRANS_TABLES",
	})
	assert.Equal(t, []string{
		"SET GLOBAL character_set_server='utf8mb4'",
		"SET GLOBAL collation_server='utf8mb4_general_ci'",
		"SET GLOBAL innodb_large_prefix=ON",
		"SET GLOBAL innodb_file_per_table=ON",
		"SET GLOBAL sql_mode='STRICT_TRANS_TABLES'",
	}, got)
}

func TestBuildArgs(t *testing.T) {
	db := restoreJob().Database

	args := BuildArgs(db, map[string]string{"character_set_server": "latin1"})
	assert.Equal(t, []string{
		"--host=db.internal",
		"--port=3306",
		"--user=backup",
		"--password=s3cret",
		"--default-character-set=latin1",
		"--init-command=SET GLOBAL character_set_server='latin1'",
		"--max-allowed-packet=1G",
	}, args)

	db.DefaultsFile = "/etc/mysql/backup.cnf"
	args = BuildArgs(db, nil)
	assert.Equal(t, "--defaults-file=/etc/mysql/backup.cnf", args[0])
	assert.NotContains(t, args, "--password=s3cret")
	assert.Contains(t, args, "--default-character-set=utf8mb4")
	assert.Contains(t, args, "--init-command="+strings.Join(DefaultInitCommands, ";"))
}

func TestRestorer_Restore(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, map[string]string{"character_set_server": "utf8mb4"}, "CREATE TABLE t (id int);\n")

	runner := &capturingRunner{}
	r := NewRestorer(runner, nil, false, nil)
	require.NoError(t, r.Restore(context.Background(), restoreJob(), artifact))

	assert.Equal(t, filepath.Join("/opt/mysql/bin", "mysql"), strings.TrimSuffix(runner.binary, ".exe"))
	assert.Contains(t, runner.args, "--init-command=SET GLOBAL character_set_server='utf8mb4'")
	assert.Contains(t, runner.stdin, "CREATE TABLE t (id int);")
	assert.Contains(t, runner.stdin, "START DATABASE PARAMETERS")
}

func TestRestorer_Encrypted(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, nil, "INSERT INTO t VALUES (1);\n")
	encrypted := artifact + backup.EncryptedExtension
	require.NoError(t, backup.EncryptFile(artifact, encrypted, "hunter2"))

	t.Setenv("MAB_TEST_RESTORE_PASS", "hunter2")
	job := restoreJob()
	job.Encryption = config.EncryptionConfig{Enabled: true, PassphraseEnv: "MAB_TEST_RESTORE_PASS"}

	runner := &capturingRunner{}
	require.NoError(t, NewRestorer(runner, nil, false, nil).Restore(context.Background(), job, encrypted))
	assert.Equal(t, "INSERT INTO t VALUES (1);\n", runner.stdin)
	assert.Contains(t, runner.args, "--init-command="+strings.Join(DefaultInitCommands, ";"))

	t.Setenv("MAB_TEST_RESTORE_PASS", "wrong")
	err := NewRestorer(runner, nil, false, nil).Restore(context.Background(), job, encrypted)
	var be *backup.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backup.BackupErrorTypeEncryption, be.Type)
}

func TestRestorer_ClientFailure(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, nil, "SELECT 1;\n")
	runner := &capturingRunner{result: backup.ProcessResult{ExitCode: 1, Stderr: "ERROR 1045 (28000): Access denied\n"}}

	err := NewRestorer(runner, nil, false, nil).Restore(context.Background(), restoreJob(), artifact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[shop] restore failed")
	assert.Contains(t, err.Error(), "Access denied")
}

func TestRestorer_Tunnel(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, nil, "SELECT 1;\n")
	job := restoreJob()
	job.SSH = &config.SSHConfig{Enabled: true, Host: "bastion", Port: 22, User: "ops"}

	closed := false
	opener := func(context.Context, *config.SSHConfig) (int, io.Closer, error) {
		return 4406, closerFunc(func() error { closed = true; return nil }), nil
	}
	runner := &capturingRunner{}
	require.NoError(t, NewRestorer(runner, opener, false, nil).Restore(context.Background(), job, artifact))
	assert.Contains(t, runner.args, "--host=127.0.0.1")
	assert.Contains(t, runner.args, "--port=4406")
	assert.True(t, closed)

	failing := func(context.Context, *config.SSHConfig) (int, io.Closer, error) {
		return 0, nil, errors.New("no route to host")
	}
	err := NewRestorer(runner, failing, false, nil).Restore(context.Background(), job, artifact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[shop] connectivity failure")
	var be *backup.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backup.BackupErrorTypeTunnel, be.Type)
	assert.Contains(t, err.Error(), "no route to host")
}

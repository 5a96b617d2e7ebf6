package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/display"
	"mysql-auto-backup/internal/logging"
	"mysql-auto-backup/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = `backup:
  backup_root_path: backups
  status_dir: status
  backup_time: "02:00"
  report_time: "08:30"
logging:
  dir: ""
`

const testShopJob = `database:
  host: db.internal
  user: backup
  password: secret
backup:
  backup_dir: shop
  days_to_keep: 7
`

const testCRMJob = `database:
  host: crm.internal
  user: backup
  password: secret
backup:
  backup_dir: crm
  backup_time: "03:15"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newProject writes a project with the shop and crm jobs and returns its directory.
func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), testProject)
	writeFile(t, filepath.Join(dir, config.DefaultConfigsDir, "shop.yaml"), testShopJob)
	writeFile(t, filepath.Join(dir, config.DefaultConfigsDir, "crm.yaml"), testCRMJob)
	return dir
}

// execute runs the root command with args after resetting flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	projectConfig, configFilter, configsDir = "config.yaml", "", ""
	debug, verbose, quiet, noColor = false, false, true, true
	logFile, logFormat = "", "text"
	statusJSON, restoreFile, restoreLatest = false, "", false
	initDir, initForce = ".", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mysql-auto-backup version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestConfigInitCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "config", "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "config.yaml")
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, config.DefaultConfigsDir, "example.yaml"))

	_, err = execute(t, "config", "init", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--dir", dir, "--force")
	assert.NoError(t, err)
}

func TestConfigValidateCommand(t *testing.T) {
	dir := newProject(t)
	out, err := execute(t, "config", "validate", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "2 job configs are valid")

	writeFile(t, filepath.Join(dir, config.DefaultConfigsDir, "broken.yaml"), "database:\n  host: x\n")
	out, err = execute(t, "config", "validate", "--project-config", filepath.Join(dir, "config.yaml"))
	assert.Equal(t, errJobsFailed, err)
	assert.Contains(t, out, "1 of 3 job configs are invalid")
}

func TestStatusCommand(t *testing.T) {
	dir := newProject(t)
	store := status.NewFileStore(filepath.Join(dir, "status"))
	require.NoError(t, store.Save(&status.Record{
		ConfigName: "shop",
		LastRun:    time.Date(2024, 3, 1, 2, 0, 0, 0, time.Local),
		Success:    true,
		Message:    "[shop] backup successful",
		BackupFile: filepath.Join(dir, "backups", "shop", "backup_shop_all_2024-03-01_02-00-00.sql.gz"),
	}))

	out, err := execute(t, "status", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "[OK] success")
	assert.Contains(t, out, "backup_shop_all_2024-03-01_02-00-00.sql.gz")
	assert.Contains(t, out, "[?] unknown")

	out, err = execute(t, "status", "--json", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	var records []status.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "crm", records[0].ConfigName)
	assert.Equal(t, "shop", records[1].ConfigName)
	assert.True(t, records[1].Success)
}

func TestListCommand(t *testing.T) {
	dir := newProject(t)
	shopDir := filepath.Join(dir, "backups", "shop")
	writeFile(t, filepath.Join(shopDir, "backup_shop_all_2024-03-01_02-00-00.sql.gz"), "x")
	writeFile(t, filepath.Join(shopDir, "backup_shop_all_2024-03-02_02-00-00.sql.gz.enc"), "y")

	out, err := execute(t, "list", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "2024-03-02_02-00-00.sql.gz.enc [enc]")
	assert.Contains(t, lines[3], "2024-03-01 02:00:00")

	out, err = execute(t, "list", "--config", "crm", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "No backups found")
}

func TestCleanupCommand(t *testing.T) {
	dir := newProject(t)
	shopDir := filepath.Join(dir, "backups", "shop")
	old := filepath.Join(shopDir, "backup_shop_all_2024-01-01_02-00-00.sql.gz")
	fresh := filepath.Join(shopDir, "backup_shop_all_2024-03-01_02-00-00.sql.gz")
	writeFile(t, old, "x")
	writeFile(t, fresh, "y")
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	out, err := execute(t, "cleanup", "--config", "shop", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "shop: 1 old backups deleted")
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestCleanupCommand_LeavesSiblingBackups(t *testing.T) {
	dir := newProject(t)
	writeFile(t, filepath.Join(dir, config.DefaultConfigsDir, "shop_eu.yaml"), testShopJob)
	shopDir := filepath.Join(dir, "backups", "shop")
	own := filepath.Join(shopDir, "backup_shop_all-databases_2024-01-01_02-00-00.sql.gz")
	sibling := filepath.Join(shopDir, "backup_shop_eu_all-databases_2024-01-01_02-00-00.sql.gz")
	past := time.Now().AddDate(0, 0, -30)
	for _, path := range []string{own, sibling} {
		writeFile(t, path, "x")
		require.NoError(t, os.Chtimes(path, past, past))
	}

	out, err := execute(t, "cleanup", "--config", "shop", "--project-config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "shop: 1 old backups deleted")
	assert.NoFileExists(t, own)
	assert.FileExists(t, sibling)
}

func TestApp_SharesStorePerStatusDir(t *testing.T) {
	a := &app{logger: logging.NewNopLogger()}
	shop := &config.JobConfig{Name: "shop", StatusDir: "/var/lib/backup/status"}
	crm := &config.JobConfig{Name: "crm", StatusDir: "/var/lib/backup/status"}
	other := &config.JobConfig{Name: "erp", StatusDir: "/srv/erp/status"}

	assert.Same(t, a.store(shop), a.store(crm))
	assert.NotSame(t, a.store(shop), a.store(other))
	assert.Len(t, a.stores, 2)
}

func TestRestoreCommand_NoBackups(t *testing.T) {
	dir := newProject(t)
	_, err := execute(t, "restore", "--latest", "--config", "shop", "--project-config", filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backups found")

	_, err = execute(t, "restore", "--project-config", filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "several job configs match")
}

func TestBuildDaemon(t *testing.T) {
	dir := newProject(t)
	project, jobs, err := config.NewLoader(filepath.Join(dir, "config.yaml"), "", logging.NewNopLogger()).LoadJobs("")
	require.NoError(t, err)

	a := &app{logger: logging.NewNopLogger(), project: project, jobs: jobs}
	d, err := a.buildDaemon()
	require.NoError(t, err)
	assert.Equal(t, []string{"backup crm", "backup shop", "check"}, d.Names())

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	next, ok := d.Next("backup crm", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 2, 3, 15, 0, 0, time.Local), next)
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	p := display.NewPrinter(&out, true)

	ok := printRuns(p, []*backup.Run{
		{ConfigName: "shop", Success: true, ArtifactPath: "/nonexistent/backup_shop.sql.gz"},
		{ConfigName: "crm", Success: true, ArtifactPath: "/nonexistent/backup_crm.sql.gz", SkippedTables: []string{"crm.t"}},
	})
	assert.True(t, ok)
	assert.Contains(t, out.String(), "[OK] shop: backup_shop.sql.gz")
	assert.Contains(t, out.String(), "[!] crm: backup_crm.sql.gz (skipped 1 tables)")

	out.Reset()
	ok = printRuns(p, []*backup.Run{
		{ConfigName: "shop", Message: "[shop] backup failed: boom\ndetails"},
	})
	assert.False(t, ok)
	assert.Equal(t, "[X] shop: [shop] backup failed: boom\n", out.String())
}

func TestTaskName(t *testing.T) {
	one := []*config.JobConfig{{Name: "shop"}}
	three := []*config.JobConfig{{Name: "shop"}, {Name: "crm"}, {Name: "erp"}}
	assert.Equal(t, "backup shop", taskName(one))
	assert.Equal(t, "backup shop +2", taskName(three))
}

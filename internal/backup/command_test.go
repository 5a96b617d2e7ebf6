package backup

import (
	"path/filepath"
	"testing"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/database"

	"github.com/stretchr/testify/assert"
)

var testTimestamp = time.Date(2024, 3, 5, 7, 8, 9, 0, time.Local)

func TestBuildDumpCommand(t *testing.T) {
	base := config.DatabaseConfig{Host: "db.example.com", Port: 3306, User: "backup", Password: "secret"}
	dir := filepath.Join("var", "backups")

	tests := []struct {
		name     string
		db       config.DatabaseConfig
		server   database.Version
		want     []string
		wantFile string
	}{
		{
			name:   "mysql 5.7 all databases",
			db:     base,
			server: database.Version{Major: 5, Minor: 7, Patch: 42},
			want: []string{
				"--host=db.example.com", "--port=3306", "--user=backup", "--password=secret",
				"--single-transaction", "--no-tablespaces", "--column-statistics=0",
				"--all-databases",
			},
			wantFile: "backup_shop_all-databases_2024-03-05_07-08-09.sql",
		},
		{
			name: "mysql 8.0.13 explicit databases",
			db: func() config.DatabaseConfig {
				d := base
				d.DatabaseNames = " app , ,logs"
				return d
			}(),
			server: database.Version{Major: 8, Minor: 0, Patch: 13},
			want: []string{
				"--host=db.example.com", "--port=3306", "--user=backup", "--password=secret",
				"--single-transaction", "--no-tablespaces",
				"--routines", "--triggers", "--events",
				"--databases", "app", "logs",
			},
			wantFile: "backup_shop_ app , ,logs_2024-03-05_07-08-09.sql",
		},
		{
			name:   "mysql 8.0.12 has no stored objects",
			db:     base,
			server: database.Version{Major: 8, Minor: 0, Patch: 12},
			want: []string{
				"--host=db.example.com", "--port=3306", "--user=backup", "--password=secret",
				"--single-transaction", "--no-tablespaces", "--all-databases",
			},
			wantFile: "backup_shop_all-databases_2024-03-05_07-08-09.sql",
		},
		{
			name: "defaults file replaces password",
			db: func() config.DatabaseConfig {
				d := base
				d.DefaultsFile = "/etc/mysql/backup.cnf"
				return d
			}(),
			server: database.Version{Major: 5, Minor: 6},
			want: []string{
				"--defaults-file=/etc/mysql/backup.cnf",
				"--host=db.example.com", "--port=3306", "--user=backup",
				"--single-transaction", "--no-tablespaces", "--column-statistics=0",
				"--all-databases",
			},
			wantFile: "backup_shop_all-databases_2024-03-05_07-08-09.sql",
		},
		{
			name:   "unknown version",
			db:     base,
			server: database.Version{},
			want: []string{
				"--host=db.example.com", "--port=3306", "--user=backup", "--password=secret",
				"--single-transaction", "--no-tablespaces", "--column-statistics=0",
				"--all-databases",
			},
			wantFile: "backup_shop_all-databases_2024-03-05_07-08-09.sql",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := BuildDumpCommand(CommandOptions{
				ConfigName: "shop",
				Binary:     "mysqldump",
				Database:   tt.db,
				Server:     tt.server,
				BackupDir:  dir,
				Timestamp:  testTimestamp,
			})
			wantFile := filepath.Join(dir, tt.wantFile)
			assert.Equal(t, append(tt.want, "--result-file="+wantFile), cmd.Args())
			assert.Equal(t, wantFile, cmd.ResultFile)
			assert.Equal(t, "mysqldump", cmd.Binary)
		})
	}
}

func TestDumpCommand_IgnoreTableDeduplicates(t *testing.T) {
	cmd := &DumpCommand{args: []string{"--all-databases"}}
	assert.True(t, cmd.IgnoreTable("shop.orders"))
	assert.False(t, cmd.IgnoreTable("shop.orders"))
	assert.True(t, cmd.IgnoreTable("shop.items"))
	assert.Equal(t, []string{"--all-databases", "--ignore-table=shop.orders", "--ignore-table=shop.items"}, cmd.Args())
}

func TestDumpCommand_ArgsIsACopy(t *testing.T) {
	cmd := &DumpCommand{args: []string{"--all-databases"}}
	args := cmd.Args()
	args[0] = "changed"
	assert.Equal(t, []string{"--all-databases"}, cmd.Args())
}

func TestDumpCommand_DropStoredObjects(t *testing.T) {
	cmd := &DumpCommand{args: []string{"--host=h", "--routines", "--triggers", "--events", "--all-databases"}}
	cmd.DropStoredObjects()
	assert.Equal(t, []string{"--host=h", "--all-databases"}, cmd.Args())
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "x.sql.gz", ArtifactName("x.sql", "gzip"))
	assert.Equal(t, "x.sql.gz", ArtifactName("x.sql", ""))
	assert.Equal(t, "x.sql.zst", ArtifactName("x.sql", "zstd"))
	assert.Equal(t, "x.sql.lz4", ArtifactName("x.sql", "LZ4"))
	assert.Equal(t, "x.sql", ArtifactName("x.sql", "none"))
	assert.Empty(t, CompressionExtension("none"))
}

func TestResolveBinary(t *testing.T) {
	got := ResolveBinary(filepath.Join("opt", "mysql", "bin"), "mysqldump")
	assert.Contains(t, got, filepath.Join("opt", "mysql", "bin", "mysqldump"))
	assert.NotEmpty(t, ResolveBinary("", "mysqldump"))
}

func TestSanitize(t *testing.T) {
	args := []string{
		"--host=db.example.com",
		"--port=3306",
		"--user=backup_operator",
		"--password=hunter2",
		"--defaults-file=/etc/my.cnf",
		"-psecret",
		"--single-transaction",
	}

	got := Sanitize(args, false)
	assert.Equal(t, []string{
		"--host=db***com",
		"--port=3306",
		"--user=ba***tor",
		"--password=***",
		"--defaults-file=***",
		"-p***",
		"--single-transaction",
	}, got)
	assert.Equal(t, "--password=hunter2", args[3], "input must not be modified")

	assert.Equal(t, args, Sanitize(args, true))
}

func TestMaskMiddle(t *testing.T) {
	tests := map[string]string{
		"":             "***",
		"root":         "***",
		"admin":        "***",
		"admins":       "ad***ins",
		"192.168.1.10": "19***.10",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskMiddle(in), in)
	}
}

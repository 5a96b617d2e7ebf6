package backup

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/database"
)

// TimestampLayout is the timestamp embedded in artifact names.
const TimestampLayout = "2006-01-02_15-04-05"

// CommandOptions is everything BuildDumpCommand needs.
type CommandOptions struct {
	ConfigName string
	Binary     string
	Database   config.DatabaseConfig
	Server     database.Version
	BackupDir  string
	Timestamp  time.Time
}

// BuildDumpCommand assembles the initial mysqldump arguments.
func BuildDumpCommand(opts CommandOptions) *DumpCommand {
	db := opts.Database
	args := []string{
		"--host=" + db.Host,
		"--port=" + strconv.Itoa(db.Port),
		"--user=" + db.User,
		"--password=" + db.Password,
		"--single-transaction",
		"--no-tablespaces",
	}

	if opts.Server.Less(database.Version{Major: 8}) {
		args = append(args, "--column-statistics=0")
	}

	if db.DefaultsFile != "" {
		withDefaults := []string{"--defaults-file=" + db.DefaultsFile}
		for _, a := range args {
			if !strings.HasPrefix(a, "--password") {
				withDefaults = append(withDefaults, a)
			}
		}
		args = withDefaults
	}

	if opts.Server.AtLeast(8, 0, 13) {
		args = append(args, "--routines", "--triggers", "--events")
	}

	if names := db.Databases(); len(names) > 0 {
		args = append(args, "--databases")
		args = append(args, names...)
	} else {
		args = append(args, "--all-databases")
	}

	resultFile := ResultFileName(opts.BackupDir, opts.ConfigName, db.DatabaseSpec(), opts.Timestamp)
	args = append(args, "--result-file="+resultFile)

	return &DumpCommand{Binary: opts.Binary, args: args, ResultFile: resultFile}
}

// ResultFileName is the uncompressed dump path.
func ResultFileName(dir, configName, dbSpec string, ts time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("backup_%s_%s_%s.sql", configName, dbSpec, ts.Format(TimestampLayout)))
}

// CompressionExtension maps a codec name to its file suffix.
func CompressionExtension(compression string) string {
	switch strings.ToLower(compression) {
	case "zstd":
		return ".zst"
	case "lz4":
		return ".lz4"
	case "none":
		return ""
	default:
		return ".gz"
	}
}

// ArtifactName is the compressed artifact path for a dump written to resultFile.
func ArtifactName(resultFile, compression string) string {
	return resultFile + CompressionExtension(compression)
}

// ResolveBinary locates a MySQL client tool in binDir, or on PATH when binDir is empty.
func ResolveBinary(binDir, name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}
	if binDir != "" {
		return filepath.Join(binDir, name)
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

// Sanitize masks credentials and hosts in args unless debug is set.
func Sanitize(args []string, debug bool) []string {
	if debug {
		return append([]string(nil), args...)
	}

	out := make([]string, len(args))
	for i, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--password="):
			arg = "--password=***"
		case strings.HasPrefix(arg, "--defaults-file="):
			arg = "--defaults-file=***"
		case strings.HasPrefix(arg, "--user="):
			arg = "--user=" + maskMiddle(strings.TrimPrefix(arg, "--user="))
		case strings.HasPrefix(arg, "--host="):
			arg = "--host=" + maskMiddle(strings.TrimPrefix(arg, "--host="))
		case strings.HasPrefix(arg, "-p") && !strings.HasPrefix(arg, "--"):
			arg = "-p***"
		}
		out[i] = arg
	}
	return out
}

// maskMiddle keeps the first 2 and last 3 characters.
func maskMiddle(s string) string {
	r := []rune(s)
	if len(r) <= 5 {
		return "***"
	}
	return string(r[:2]) + "***" + string(r[len(r)-3:])
}

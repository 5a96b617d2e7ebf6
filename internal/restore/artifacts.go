// Package restore loads a backup artifact back into MySQL.
package restore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mysql-auto-backup/internal/backup"
	"mysql-auto-backup/internal/logging"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Artifact is a backup file on disk.
type Artifact struct {
	Path      string
	Name      string
	Time      time.Time
	Size      int64
	Encrypted bool
}

// List returns the artifacts of configName in dir, newest first.
// Files whose timestamp cannot be parsed are skipped, as are those of siblings.
func List(dir, configName string, logger *logging.Logger, siblings ...string) ([]Artifact, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	matches, err := filepath.Glob(filepath.Join(dir, "backup_"+configName+"_*.sql*"))
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		name := filepath.Base(path)
		if backup.ClaimedBySibling(name, siblings) {
			continue
		}
		ts, err := ParseTimestamp(name)
		if err != nil {
			logger.WithConfig(configName).Warnf("Skipping %s: %v", name, err)
			continue
		}
		artifacts = append(artifacts, Artifact{
			Path:      path,
			Name:      name,
			Time:      ts,
			Size:      info.Size(),
			Encrypted: backup.IsEncrypted(name),
		})
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].Time.After(artifacts[j].Time)
	})
	return artifacts, nil
}

// ParseTimestamp reads the timestamp from the last two "_" fields of an artifact name.
func ParseTimestamp(name string) (time.Time, error) {
	stem, _, ok := strings.Cut(name, ".sql")
	if !ok {
		return time.Time{}, fmt.Errorf("not a dump file")
	}
	fields := strings.Split(stem, "_")
	if len(fields) < 4 {
		return time.Time{}, fmt.Errorf("no timestamp in name")
	}
	raw := strings.Join(fields[len(fields)-2:], "_")
	ts, err := time.ParseInLocation(backup.TimestampLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return ts, nil
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Select shows a numbered menu on out and reads the choice from in.
// When interactive is false the newest artifact is returned without prompting.
func Select(artifacts []Artifact, in io.Reader, out io.Writer, interactive bool) (Artifact, error) {
	if len(artifacts) == 0 {
		return Artifact{}, fmt.Errorf("no backups found")
	}
	if !interactive {
		return artifacts[0], nil
	}

	header := color.New(color.FgCyan, color.Bold)
	index := color.New(color.FgYellow)
	dim := color.New(color.Faint)

	header.Fprintln(out, "Available backups:")
	for i, a := range artifacts {
		lock := ""
		if a.Encrypted {
			lock = " [encrypted]"
		}
		fmt.Fprintf(out, "  %s %s %s%s\n",
			index.Sprintf("%2d)", i+1),
			a.Name,
			dim.Sprintf("(%s, %.2f MB)", a.Time.Format("2006-01-02 15:04:05"), float64(a.Size)/1024/1024),
			lock)
	}

	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "Select backup [1-%d] (default 1): ", len(artifacts))
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil && err != io.EOF {
				return Artifact{}, err
			}
			return artifacts[0], nil
		}
		n, convErr := strconv.Atoi(line)
		if convErr == nil && n >= 1 && n <= len(artifacts) {
			return artifacts[n-1], nil
		}
		color.New(color.FgRed).Fprintf(out, "Invalid choice %q\n", line)
		if err != nil {
			return Artifact{}, fmt.Errorf("no valid selection")
		}
	}
}

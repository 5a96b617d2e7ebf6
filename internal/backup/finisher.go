package backup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mysql-auto-backup/internal/logging"
)

// VariableSource reads server variables for the dump header.
type VariableSource interface {
	GlobalVariables(ctx context.Context, names []string) (map[string]string, error)
}

// FinisherOptions configures post-processing of a successful dump.
type FinisherOptions struct {
	Compression CompressionType
	// Passphrase enables encryption when non-empty.
	Passphrase string
}

// Finisher turns the raw result file into the final artifact.
type Finisher struct {
	source VariableSource
	opts   FinisherOptions
	logger *logging.Logger
}

// NewFinisher creates a finisher. source may be nil, in which case no header is written.
func NewFinisher(source VariableSource, opts FinisherOptions, logger *logging.Logger) *Finisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Compression == "" {
		opts.Compression = CompressionTypeGzip
	}
	return &Finisher{source: source, opts: opts, logger: logger}
}

// Finish writes the header, compresses, optionally encrypts and validates the artifact.
// run is completed either way; the error reports why it failed.
func (f *Finisher) Finish(ctx context.Context, run *Run, tempPath, artifactPath string) error {
	log := f.logger.WithConfig(run.ConfigName)

	if f.source != nil {
		vars, err := f.source.GlobalVariables(ctx, HeaderVariables)
		if err != nil {
			log.Warnf("Failed to read server variables: %v", err)
		}
		if len(vars) > 0 {
			if err := prependHeader(tempPath, vars); err != nil {
				log.Warnf("Failed to write parameter header: %v", err)
			} else {
				log.Debugf("Wrote %d server variables to dump header", len(vars))
			}
		}
	}

	// An uncompressed artifact is the dump itself.
	if artifactPath != tempPath {
		if err := CompressFile(tempPath, artifactPath, f.opts.Compression); err != nil {
			os.Remove(tempPath)
			run.Fail(fmt.Sprintf("[%s] backup compression failed: %v", run.ConfigName, err), time.Now())
			return err
		}
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			log.Warnf("Failed to remove temporary dump %s: %v", tempPath, err)
		}
	}

	if f.opts.Passphrase != "" {
		encrypted := artifactPath + EncryptedExtension
		if err := EncryptFile(artifactPath, encrypted, f.opts.Passphrase); err != nil {
			os.Remove(artifactPath)
			run.Fail(fmt.Sprintf("[%s] backup encryption failed: %v", run.ConfigName, err), time.Now())
			return err
		}
		os.Remove(artifactPath)
		artifactPath = encrypted
	}

	info, err := os.Stat(artifactPath)
	if err != nil || info.Size() == 0 {
		run.Fail(fmt.Sprintf("[%s] backup file missing or empty", run.ConfigName), time.Now())
		return NewValidationError("backup file missing or empty", err).WithContext("path", artifactPath)
	}

	run.Running = false
	run.Success = true
	run.ArtifactPath = artifactPath
	run.EndTime = time.Now()
	run.Message = SuccessMessage(run.ConfigName, artifactPath, info.Size(), run.SkippedTables)
	log.Info(run.Message)
	return nil
}

// SuccessMessage formats the fully or partially successful outcome.
func SuccessMessage(configName, path string, size int64, skipped []string) string {
	mb := float64(size) / 1024 / 1024
	if len(skipped) == 0 {
		return fmt.Sprintf("[%s] backup fully successful: %s (%.2f MB)", configName, path, mb)
	}
	return fmt.Sprintf("[%s] backup partially successful: %s (%.2f MB)\nskipped tables: %s",
		configName, path, mb, strings.Join(skipped, ", "))
}

// prependHeader rewrites path with the parameter block in front of its content.
func prependHeader(path string, vars map[string]string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".header_*.sql")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w := bufio.NewWriter(tmp)
	if err = WriteHeader(w, vars); err != nil {
		return err
	}
	if _, err = io.Copy(w, in); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Rename(tmp.Name(), path)
}

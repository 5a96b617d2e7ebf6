// Package storage copies finished artifacts to offsite targets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"mysql-auto-backup/internal/logging"
)

// Uploader pushes one local file to a remote location.
type Uploader interface {
	// Push uploads localPath and returns the URL of the remote copy.
	Push(ctx context.Context, localPath string) (string, error)
}

// Schemes lists the supported target URL schemes.
var Schemes = []string{"s3", "gs", "azure", "smb", "file"}

// New builds an uploader for target, e.g. s3://bucket/prefix or file:///mnt/backups.
func New(target string) (Uploader, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid offsite target %q: %w", target, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		return NewS3(u)
	case "gs":
		return NewGCS(u)
	case "azure":
		return NewAzure(u)
	case "smb":
		return NewSMB(u)
	case "file":
		return NewFile(u)
	case "":
		return nil, fmt.Errorf("offsite target %q has no scheme", target)
	}
	return nil, fmt.Errorf("unsupported offsite scheme %q", u.Scheme)
}

// PushAll uploads localPath to every target. Every target is attempted; the
// returned URLs are the successful copies and the error joins the failures.
func PushAll(ctx context.Context, targets []string, localPath string, logger *logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var (
		urls []string
		errs []error
	)
	for _, target := range targets {
		display := redact(target)
		up, err := New(target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		done := logger.LogOperationStart("offsite_upload", map[string]interface{}{
			"target": display,
			"file":   filepath.Base(localPath),
		})
		remote, err := up.Push(ctx, localPath)
		done(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", display, err))
			continue
		}
		urls = append(urls, remote)
	}
	return urls, errors.Join(errs...)
}

// objectKey joins a URL path prefix and the artifact's base name.
func objectKey(prefix, localPath string) string {
	return strings.TrimPrefix(path.Join(strings.Trim(prefix, "/"), filepath.Base(localPath)), "/")
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	return u.Redacted()
}

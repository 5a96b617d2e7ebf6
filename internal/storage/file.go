package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// FileUploader copies artifacts into a local or mounted directory.
type FileUploader struct {
	Dir string
}

// NewFile parses a file:// target.
func NewFile(u *url.URL) (*FileUploader, error) {
	dir := u.Path
	if u.Host != "" && u.Host != "localhost" {
		// file://relative/dir
		dir = filepath.Join(u.Host, u.Path)
	}
	if dir == "" {
		return nil, fmt.Errorf("file target needs a directory")
	}
	return &FileUploader{Dir: filepath.FromSlash(dir)}, nil
}

// Push copies localPath into Dir through a temporary name.
func (f *FileUploader) Push(ctx context.Context, localPath string) (string, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", f.Dir, err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst := filepath.Join(f.Dir, filepath.Base(localPath))
	tmp, err := os.CreateTemp(f.Dir, ".upload_*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

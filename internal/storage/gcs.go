package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader writes to gs://bucket/prefix. The credentials query parameter names
// a service account file; without it application default credentials apply.
type GCSUploader struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
	Endpoint        string
}

// NewGCS parses a gs:// target.
func NewGCS(u *url.URL) (*GCSUploader, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("gs target needs a bucket")
	}
	q := u.Query()
	return &GCSUploader{
		Bucket:          u.Host,
		Prefix:          u.Path,
		CredentialsFile: q.Get("credentials"),
		Endpoint:        q.Get("endpoint"),
	}, nil
}

func (g *GCSUploader) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if g.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.CredentialsFile))
	}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	return opts
}

// Push streams localPath into the bucket.
func (g *GCSUploader) Push(ctx context.Context, localPath string) (string, error) {
	client, err := storage.NewClient(ctx, g.clientOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to create GCS client: %w", err)
	}
	defer client.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %q: %w", localPath, err)
	}
	defer f.Close()

	key := objectKey(g.Prefix, localPath)
	w := client.Bucket(g.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.Bucket, key), nil
}

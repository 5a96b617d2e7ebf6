package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Uploader writes to s3://bucket/prefix. Credentials come from the default
// AWS chain; the query may set region, endpoint and path_style.
type S3Uploader struct {
	Bucket string
	Prefix string
	config aws.Config
}

// NewS3 parses an s3:// target.
func NewS3(u *url.URL) (*S3Uploader, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("s3 target needs a bucket")
	}
	q := u.Query()
	cfg := aws.Config{}
	if region := q.Get("region"); region != "" {
		cfg.Region = aws.String(region)
	}
	if endpoint := q.Get("endpoint"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if ps := q.Get("path_style"); ps != "" {
		force, err := strconv.ParseBool(ps)
		if err != nil {
			return nil, fmt.Errorf("invalid path_style %q: %w", ps, err)
		}
		cfg.S3ForcePathStyle = aws.Bool(force)
	}
	return &S3Uploader{Bucket: u.Host, Prefix: u.Path, config: cfg}, nil
}

// Push uploads localPath with the multipart s3manager uploader.
func (s *S3Uploader) Push(ctx context.Context, localPath string) (string, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            s.config,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create AWS session: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %q: %w", localPath, err)
	}
	defer f.Close()

	key := objectKey(s.Prefix, localPath)
	uploader := s3manager.NewUploader(sess)
	if _, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

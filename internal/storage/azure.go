package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureKeyEnv holds the storage account key unless the target's key_env names another variable.
const AzureKeyEnv = "AZURE_STORAGE_KEY"

// AzureUploader writes to azure://account/container/prefix.
type AzureUploader struct {
	Account   string
	Container string
	Prefix    string
	Endpoint  string
	keyEnv    string
}

// NewAzure parses an azure:// target.
func NewAzure(u *url.URL) (*AzureUploader, error) {
	container, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if u.Host == "" || container == "" {
		return nil, fmt.Errorf("azure target needs account and container")
	}
	q := u.Query()
	up := &AzureUploader{
		Account:   u.Host,
		Container: container,
		Prefix:    prefix,
		Endpoint:  q.Get("endpoint"),
		keyEnv:    q.Get("key_env"),
	}
	if up.Endpoint == "" {
		up.Endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", up.Account)
	}
	if up.keyEnv == "" {
		up.keyEnv = AzureKeyEnv
	}
	return up, nil
}

// Push uploads localPath as a block blob.
func (a *AzureUploader) Push(ctx context.Context, localPath string) (string, error) {
	key := os.Getenv(a.keyEnv)
	if key == "" {
		return "", fmt.Errorf("azure account key not set in %s", a.keyEnv)
	}
	credential, err := azblob.NewSharedKeyCredential(a.Account, key)
	if err != nil {
		return "", fmt.Errorf("failed to create Azure credentials: %w", err)
	}
	endpoint, err := url.Parse(a.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid Azure endpoint: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	containerURL := azblob.NewServiceURL(*endpoint, pipeline).NewContainerURL(a.Container)
	name := objectKey(a.Prefix, localPath)
	blobURL := containerURL.NewBlockBlobURL(name)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read input file %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
	}); err != nil {
		return "", fmt.Errorf("failed to upload to Azure: %w", err)
	}
	return fmt.Sprintf("azure://%s/%s/%s", a.Account, a.Container, name), nil
}

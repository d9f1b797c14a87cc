// Package azureblob uploads Zarr stores to an Azure Blob Storage container using a SAS token.
package azureblob

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

type Config struct {
	AccountName string
	Container   string
	SASToken    string
	// Endpoint overrides https://<account>.blob.core.windows.net.
	Endpoint   string
	HTTPClient *http.Client
}

type Uploader struct {
	cfg    Config
	logger *slog.Logger
}

var _ storage.Uploader = (*Uploader)(nil)

func New(cfg Config, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{cfg: cfg, logger: logger}
}

func Factory(cfg Config, logger *slog.Logger) storage.Factory {
	return func(storage.Options) (storage.Uploader, error) {
		return New(cfg, logger), nil
	}
}

func (u *Uploader) Name() string { return string(storage.AzureBlob) }

func (u *Uploader) CheckCredentials() error {
	var missing []string
	if u.cfg.AccountName == "" && u.cfg.Endpoint == "" {
		missing = append(missing, "AZURE_ACCOUNT_NAME")
	}
	if u.cfg.Container == "" {
		missing = append(missing, "AZURE_BLOB_CONTAINER_NAME")
	}
	if u.cfg.SASToken == "" {
		missing = append(missing, "AZURE_SAS_CREDENTIAL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: Missing Azure credentials (%s)", storage.ErrCredentialsMissing, strings.Join(missing, ", "))
	}
	return nil
}

func (u *Uploader) serviceURL() string {
	if u.cfg.Endpoint != "" {
		return strings.TrimRight(u.cfg.Endpoint, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", u.cfg.AccountName)
}

// Upload writes every file as "<basename>/<relpath>" and returns the
// container URL of the store prefix.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	if err := u.CheckCredentials(); err != nil {
		return "", err
	}
	files, err := storage.Files(localPath)
	if err != nil {
		return "", err
	}

	opts := &azblob.ClientOptions{}
	if u.cfg.HTTPClient != nil {
		opts.ClientOptions = azcore.ClientOptions{Transport: u.cfg.HTTPClient}
	}
	sas := strings.TrimPrefix(u.cfg.SASToken, "?")
	client, err := azblob.NewClientWithNoCredential(u.serviceURL()+"?"+sas, opts)
	if err != nil {
		return "", fmt.Errorf("azure client: %w", err)
	}

	base := filepath.Base(localPath)
	for _, f := range files {
		name := base + "/" + f.Rel
		if err := u.put(ctx, client, f.Path, name); err != nil {
			return "", fmt.Errorf("upload blob %s/%s: %w", u.cfg.Container, name, err)
		}
	}

	uri := u.serviceURL() + u.cfg.Container + "/" + base
	u.logger.InfoContext(ctx, "uploaded store to azure blob storage",
		"uri", uri,
		"blobs", len(files),
		"bytes", storage.TotalSize(files),
	)
	return uri, nil
}

func (u *Uploader) put(ctx context.Context, client *azblob.Client, path, name string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()
	_, err = client.UploadFile(ctx, u.cfg.Container, name, fh, nil)
	return err
}

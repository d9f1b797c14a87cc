// Package local is the no-op uploader used by the CLI when no bucket is given:
// the store stays where it was written and its absolute path is the link.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

type Uploader struct {
	logger *slog.Logger
}

var _ storage.Uploader = (*Uploader)(nil)

func New(logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{logger: logger}
}

func Factory(logger *slog.Logger) storage.Factory {
	return func(storage.Options) (storage.Uploader, error) { return New(logger), nil }
}

func (u *Uploader) Name() string { return string(storage.Local) }

func (u *Uploader) CheckCredentials() error { return nil }

// RetainsLocal reports that the local artifact is the deliverable.
func (u *Uploader) RetainsLocal() bool { return true }

func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", localPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("stat store: %w", err)
	}
	u.logger.InfoContext(ctx, "store kept on local disk", "path", abs)
	return abs, nil
}

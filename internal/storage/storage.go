// Package storage defines the cloud upload capability and the provider registry.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrCredentialsMissing = errors.New("missing cloud storage credentials")
	ErrUnknownProvider    = errors.New("unknown cloud storage provider")
)

type Provider string

const (
	AWSS3     Provider = "AWS_S3"
	AzureBlob Provider = "AZURE_BLOB_STORAGE"
	Local     Provider = "LOCAL"
)

func ParseProvider(s string) (Provider, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch Provider(norm) {
	case AWSS3, "AWS", "S3":
		return AWSS3, nil
	case AzureBlob, "AZURE", "AZURE_BLOB":
		return AzureBlob, nil
	case Local:
		return Local, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Uploader copies a local store directory to object storage.
type Uploader interface {
	Name() string
	// CheckCredentials fails with ErrCredentialsMissing before any work is done.
	CheckCredentials() error
	Upload(ctx context.Context, localPath string) (uri string, err error)
}

// Retainer is implemented by uploaders whose output is the local artifact itself.
type Retainer interface {
	RetainsLocal() bool
}

// Options are per-run overrides for provider configuration.
type Options struct {
	Bucket string
}

type Factory func(opts Options) (Uploader, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[Provider]Factory{}}
}

func (r *Registry) Register(p Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

func (r *Registry) For(p Provider, opts Options) (Uploader, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	return f(opts)
}

func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type File struct {
	Path string // absolute or caller-relative path on disk
	Rel  string // slash-separated path below the walked root
	Size int64
}

// Files lists regular files under root in lexical order.
func Files(root string) ([]File, error) {
	var out []File
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, File{Path: p, Rel: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

func TotalSize(files []File) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}

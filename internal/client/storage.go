package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/veoflow/api/internal/config"
)

// StorageClient defines the interface for object storage operations
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

// NewStorageClient builds the backend selected by cfg.Driver.
func NewStorageClient(cfg *config.StorageConfig) (StorageClient, error) {
	switch cfg.Driver {
	case "r2", "s3":
		return NewR2Client(&cfg.R2)
	case "minio":
		return NewMinIOClient(&cfg.MinIO)
	case "", "disk":
		return NewDiskStorage(&cfg.Disk)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// DiskStorage keeps objects on the local filesystem, served under PublicURL.
type DiskStorage struct {
	root      string
	publicURL string
}

// NewDiskStorage creates the root directory if needed.
func NewDiskStorage(cfg *config.DiskConfig) (*DiskStorage, error) {
	root := cfg.Root
	if root == "" {
		return nil, fmt.Errorf("disk storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &DiskStorage{
		root:      root,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Root is the directory objects are written to.
func (s *DiskStorage) Root() string {
	return s.root
}

func (s *DiskStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return s.GetPublicURL(key), nil
}

func (s *DiskStorage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetSignedURL returns the public URL; local files are not access controlled.
func (s *DiskStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return s.GetPublicURL(key), nil
}

func (s *DiskStorage) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/%s", s.publicURL, strings.TrimLeft(key, "/"))
}

func (s *DiskStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// readerSize reports the length of in-memory readers, -1 otherwise.
func readerSize(body io.Reader) int64 {
	switch r := body.(type) {
	case *bytes.Reader:
		return int64(r.Len())
	case *bytes.Buffer:
		return int64(r.Len())
	case *strings.Reader:
		return int64(r.Len())
	}
	return -1
}

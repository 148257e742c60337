package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mediaflow/internal/fileutil"
)

// FileStore keeps objects under a local bucket directory.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at dir, creating it when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file store requires a bucket directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve bucket directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket directory: %w", err)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) Name() string { return "filesystem" }

// Root returns the bucket directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) Put(ctx context.Context, localPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	if _, err := fileutil.CopyFileVerified(localPath, dst); err != nil {
		return "", fmt.Errorf("store %s: %w", cleaned, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (s *FileStore) Get(ctx context.Context, remoteURL, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(remoteURL)
	if err != nil || u.Scheme != "file" {
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, remoteURL)
	}
	src := filepath.FromSlash(u.Path)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if _, err := fileutil.CopyFileVerified(src, localPath); err != nil {
		return fmt.Errorf("fetch %s: %w", remoteURL, err)
	}
	return nil
}

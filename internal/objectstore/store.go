package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"mediaflow/internal/config"
)

var (
	ErrUnsupportedURL = errors.New("unsupported remote url")
	ErrInvalidKey     = errors.New("invalid object key")
)

// Store uploads local files under namespaced keys and downloads remote URLs.
type Store interface {
	Put(ctx context.Context, localPath, key string) (string, error)
	Get(ctx context.Context, remoteURL, localPath string) error
	Name() string
}

// New builds the store selected by cfg.Storage. It returns nil when sync is
// disabled.
func New(cfg *config.Config) (Store, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	switch cfg.Storage.Backend {
	case config.StorageFilesystem:
		store, err := NewFileStore(cfg.Storage.BucketDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageS3:
		store, err := NewS3Store(S3Options{
			Endpoint:      cfg.Storage.Endpoint,
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			UseSSL:        cfg.Storage.UseSSL,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("storage.backend: unsupported value %q", cfg.Storage.Backend)
	}
}

// IsRemoteURL reports whether value already points at remote storage rather
// than a local path.
func IsRemoteURL(value string) bool {
	if !strings.Contains(value, "://") {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return len(u.Scheme) > 1
}

// Key joins namespace, stage, and file name into an object key.
func Key(namespace, stage, name string) string {
	return path.Join(namespace, stage, path.Base(strings.ReplaceAll(name, "\\", "/")))
}

func cleanKey(key string) (string, error) {
	cleaned := path.Clean(strings.TrimLeft(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

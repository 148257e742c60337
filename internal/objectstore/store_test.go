package objectstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/testsupport"
)

func TestFileStorePutGet(t *testing.T) {
	store, err := objectstore.NewFileStore(filepath.Join(t.TempDir(), "bucket"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	src := filepath.Join(t.TempDir(), "audio.wav")
	testsupport.WriteFile(t, src, 4096)
	ctx := context.Background()

	remote, err := store.Put(ctx, src, objectstore.Key("job-1", "extract_audio", src))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(remote, "file://") || !strings.HasSuffix(remote, "job-1/extract_audio/audio.wav") {
		t.Fatalf("unexpected url %q", remote)
	}
	if !objectstore.IsRemoteURL(remote) {
		t.Fatalf("%q should be recognised as remote", remote)
	}

	dst := filepath.Join(t.TempDir(), "copy", "audio.wav")
	if err := store.Get(ctx, remote, dst); err != nil {
		t.Fatalf("Get: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil || info.Size() != 4096 {
		t.Fatalf("downloaded file = %v, %v", info, err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := objectstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	src := filepath.Join(t.TempDir(), "a.txt")
	testsupport.WriteFile(t, src, 1)
	if _, err := store.Put(context.Background(), src, "../outside"); !errors.Is(err, objectstore.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if err := store.Get(context.Background(), "s3://bucket/key", filepath.Join(t.TempDir(), "x")); !errors.Is(err, objectstore.ErrUnsupportedURL) {
		t.Fatalf("expected ErrUnsupportedURL, got %v", err)
	}
}

func TestIsRemoteURL(t *testing.T) {
	cases := map[string]bool{
		"/w/a.wav":                  false,
		"relative/a.wav":            false,
		"C:\\w\\a.wav":              false,
		"file:///bucket/a.wav":      true,
		"s3://bucket/a.wav":         true,
		"https://cdn.example/a.wav": true,
		"":                          false,
	}
	for value, want := range cases {
		if got := objectstore.IsRemoteURL(value); got != want {
			t.Fatalf("IsRemoteURL(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := objectstore.New(cfg)
	if err != nil || store != nil {
		t.Fatalf("disabled storage should yield nil store, got %v, %v", store, err)
	}

	cfg.Storage.Enabled = true
	store, err = objectstore.New(cfg)
	if err != nil || store == nil || store.Name() != "filesystem" {
		t.Fatalf("expected filesystem store, got %v, %v", store, err)
	}

	cfg.Storage.Backend = config.StorageS3
	cfg.Storage.Endpoint = "minio.local:9000"
	cfg.Storage.Bucket = "media"
	store, err = objectstore.New(cfg)
	if err != nil || store == nil || store.Name() != "s3" {
		t.Fatalf("expected s3 store, got %v, %v", store, err)
	}
}

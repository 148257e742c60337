package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFileVerified copies src to dst and returns the hex SHA-256 of the
// content. The data is written to a temporary sibling, re-read and compared
// against the source digest, then renamed over dst. dst is never left
// holding a partial object.
func CopyFileVerified(src, dst string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("source %s is not a regular file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.partial")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	srcSum := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(in, srcSum))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	if written != info.Size() {
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d", info.Size(), written)
	}

	want := hex.EncodeToString(srcSum.Sum(nil))
	got, err := FileSHA256(tmpPath)
	if err != nil {
		return "", err
	}
	if got != want {
		return "", fmt.Errorf("copy digest mismatch for %s", src)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", err
	}
	return want, nil
}

// FileSHA256 returns the hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

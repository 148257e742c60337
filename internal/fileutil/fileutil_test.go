package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "audio.wav")
	dst := filepath.Join(dir, "copy.wav")
	if err := os.WriteFile(src, []byte("pcm frames"), 0o644); err != nil {
		t.Fatal(err)
	}

	sum, err := CopyFileVerified(src, dst)
	if err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "pcm frames" {
		t.Fatalf("content mismatch: %q", got)
	}
	want, err := FileSHA256(src)
	if err != nil {
		t.Fatal(err)
	}
	if sum != want || len(sum) != 64 {
		t.Fatalf("digest = %q, want %q", sum, want)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".partial") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestCopyFileVerifiedReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(dst, []byte("old and much longer content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "new" {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestCopyFileVerifiedRejectsBadSources(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")
	for name, src := range map[string]string{
		"missing":   filepath.Join(dir, "nope"),
		"directory": dir,
	} {
		if _, err := CopyFileVerified(src, dst); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("destination should not exist: %v", err)
	}
}

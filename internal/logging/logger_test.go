package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "mediaflow.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Fatalf("expected message in log file, got %q", data)
	}
}

func TestConsoleHandlerLiftsJobPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithJobID(context.Background(), "0123456789abcdef")
	ctx = services.WithStage(ctx, "asr")
	logger = logging.NewComponentLogger(logging.WithContext(ctx, logger), "executor")
	logger.Info("stage started", logging.Int("attempt", 2))

	line := buf.String()
	for _, want := range []string{"[job 01234567/asr]", "executor: stage started", "attempt=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("info logs should not carry source, got %q", line)
	}
}

func TestJSONHandlerFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("dropped")
	logging.WarnWithContext(logger, "sync failed", "artifact_sync_failed", logging.String("field", "audio_path"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["level"] != "warn" || rec[logging.FieldEventType] != "artifact_sync_failed" {
		t.Fatalf("unexpected record %#v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", rec)
	}
	if rec[logging.FieldErrorHint] == "" || rec[logging.FieldImpact] == "" {
		t.Fatalf("expected defaults injected, got %#v", rec)
	}
}

func TestNewRejectsUnknownFormatAndLevel(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
	if _, err := logging.New(logging.Options{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
}

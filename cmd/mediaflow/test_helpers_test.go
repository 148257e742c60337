package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaflow/internal/config"
	"mediaflow/internal/testsupport"
)

const echoScript = `input=$(cat)
case "$input" in
  *'"name":"ada"'*) echo '{"greeting":"hello ada"}' ;;
  *) echo "unexpected input: $input" >&2; exit 2 ;;
esac`

const echoPipeline = `
stages:
  - name: greet
    worker:
      command: ["{{bin}}/greet"]
    inputs:
      - name: name
        required: true
`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithStubWorker("greet", echoScript),
		testsupport.WithPipeline(echoPipeline),
	)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	fullArgs := args
	if configPath != "" {
		fullArgs = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(fullArgs)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

const (
	stderrTailBytes = 4096
	killGrace       = 5 * time.Second
)

// ExecWorker runs a command per invocation. Params go to stdin as a JSON
// object and the command must print a JSON object on stdout.
type ExecWorker struct {
	command []string
	env     map[string]string
}

// NewExecWorker returns a worker running command with extra env variables.
func NewExecWorker(command []string, env map[string]string) (*ExecWorker, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("exec worker requires a command")
	}
	return &ExecWorker{command: append([]string(nil), command...), env: env}, nil
}

// Command returns the argv the worker runs.
func (w *ExecWorker) Command() []string { return append([]string(nil), w.command...) }

func (w *ExecWorker) Run(ctx context.Context, req Request) (map[string]any, error) {
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	stdin, err := json.Marshal(params)
	if err != nil {
		return nil, &Error{Stage: req.Stage, Message: "encode params", Err: err}
	}

	cmd := commandContext(ctx, w.command[0], w.command[1:]...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Dir = req.WorkDir
	cmd.Env = w.environ(req)
	cmd.WaitDelay = killGrace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		message := tail(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return nil, classify(ctx, req.Stage, message, exitCode, err)
	}
	return decodeOutput(req.Stage, stdout.Bytes())
}

// Check verifies the command can be found.
func (w *ExecWorker) Check(context.Context) error {
	if _, err := exec.LookPath(w.command[0]); err != nil {
		return fmt.Errorf("command %q not found: %w", w.command[0], err)
	}
	return nil
}

func (w *ExecWorker) environ(req Request) []string {
	env := os.Environ()
	keys := make([]string, 0, len(w.env))
	for key := range w.env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+os.ExpandEnv(w.env[key]))
	}
	env = append(env, EnvWorkDir+"="+req.WorkDir)
	if req.JobID != "" {
		env = append(env, "MEDIAFLOW_JOB_ID="+req.JobID)
	}
	return append(env, "MEDIAFLOW_STAGE="+req.Stage)
}

func decodeOutput(stage string, raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	// Workers may log before the result; the last line holds the object.
	if idx := bytes.LastIndexByte(raw, '\n'); idx >= 0 && !json.Valid(raw) {
		raw = bytes.TrimSpace(raw[idx+1:])
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Stage: stage, Message: "worker output is not a JSON object", Err: err}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}

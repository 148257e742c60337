package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

type checker interface {
	Check(ctx context.Context) error
}

type namer interface {
	Name() string
}

// CheckObjectStore pings the remote object store when it supports a check.
// It uses a 10-second timeout and a single attempt.
func CheckObjectStore(ctx context.Context, store any) Result {
	name := "Object store"
	if n, ok := store.(namer); ok {
		name = fmt.Sprintf("Object store (%s)", n.Name())
	}
	c, ok := store.(checker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: "no remote check"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Check(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckWorkers reports one result per stage worker.
func CheckWorkers(ctx context.Context, source HealthSource, stages []string) []Result {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health := source.Health(checkCtx, stages)
	results := make([]Result, 0, len(health))
	for _, h := range health {
		r := Result{Name: "Worker " + h.Stage, Passed: h.Ready, Detail: h.Detail}
		if r.Passed && r.Detail == "" {
			r.Detail = "ready"
		}
		results = append(results, r)
	}
	return results
}

// summarizeError produces a human-readable summary for remote check failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (endpoint unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (endpoint unreachable)"
	}
	return err.Error()
}

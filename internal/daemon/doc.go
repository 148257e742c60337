// Package daemon coordinates the long-running mediaflow process.
//
// It wires configuration, job storage, the workflow manager, and the HTTP API
// into a single lifecycle with flock-based locking to prevent multiple
// instances against one state directory. Startup runs preflight checks and
// logs any that fail; the API keeps serving so operators can inspect jobs
// even while a worker is unavailable.
//
// Keep orchestration logic here: stage execution lives in stageexec and job
// scheduling in workflow, while the daemon focuses on startup, shutdown, and
// the transport surface.
package daemon

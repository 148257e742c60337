// Package main hosts the mediaflow CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the daemon process, job submission and
// inspection, foreground stage execution, retry and cancel, manual artifact
// sync, lock inspection, and configuration scaffolding. Commands open the job
// database directly; SQLite serializes writers, and foreground runs claim a
// job before executing it so a running daemon never picks up the same job.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main

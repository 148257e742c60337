// Package api defines the wire-format types and the job service behind the
// HTTP API. Handlers in the daemon translate requests into JobService calls
// and render the DTOs declared here, so the CLI and remote clients share one
// vocabulary without reaching into store internals.
//
// Jobs are rendered with jobs.View, which maps the internal "success" stage
// status to "completed" and keeps stages in execution order.
//
// StatusCode maps domain errors onto HTTP status codes; keep that table in
// sync when executor or store sentinels change.
package api

// Package preflight provides readiness checks for the filesystem paths,
// object store, and stage workers that mediaflow depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check. A
//     failed check does not stop the daemon; stages that need the missing
//     dependency fail with a descriptive error instead.
//   - The CLI "mediaflow status" command prints the same results.
//
// Storage checks are gated by the storage toggle; disabled features are skipped.
package preflight

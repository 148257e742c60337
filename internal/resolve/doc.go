// Package resolve computes a stage's effective input parameters.
//
// Each field is looked up through a fixed, ordered list of strategies:
// explicit per-invocation overrides, the job's raw input payload, the output
// of the declared fallback stage, and process-wide defaults. The first hit
// wins. When nothing resolves a required field the resolver returns a
// MissingParameterError listing every source it consulted, in order.
//
// String values may reference other stages through templates such as
// {{ output "asr" "transcript_path" }} or {{ input "language" }}. A reference
// to a stage that is absent, not yet successful, or lacks the field fails
// with ErrTemplateReference instead of rendering an empty string.
package resolve

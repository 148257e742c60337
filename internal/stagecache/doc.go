// Package stagecache decides whether a stage can skip execution and reuse a
// previously recorded result.
//
// A fingerprint over the stage's declared cache fields locates a candidate
// record; CanReuse then checks that every field the caller needs is present
// in that record. Only nil and the empty string count as absent. Zero, false,
// and empty collections are real values.
package stagecache

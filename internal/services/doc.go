// Package services holds the small cross-cutting helpers shared by the
// executor, workers and the API: context values (job id, stage, request id)
// and the error markers plus Wrap used to classify stage failures.
package services

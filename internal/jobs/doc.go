// Package jobs owns the durable job context: the Job aggregate, its ordered
// stage executions, and the SQLite store that persists them.
//
// Every write goes through Store.Mutate, which applies a function to a deep
// copy of the latest snapshot and commits it with a compare-and-swap on the
// row version. Readers therefore always decode a complete snapshot and never
// observe a half-written stage record. The same database also carries the
// stage cache index and the resource lease table used by the GPU lock.
package jobs

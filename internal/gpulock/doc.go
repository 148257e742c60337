// Package gpulock serializes access to the single shared accelerator across
// every stage of every job.
//
// The lock is an external, inspectable record rather than an in-process
// mutex. LeaseLocker stores a lease row (holder, token, expiry) in the job
// database; holders renew it while they run and a crashed holder's lease is
// reclaimed once it expires. FileLocker uses an advisory flock, which the
// kernel drops when the holding process dies. Both acquire by bounded
// polling and fail with ErrResourceUnavailable when the wait times out.
//
// Guard wraps the critical section: acquire, renew in the background, run,
// and release on every exit path.
package gpulock

// Package workflow runs submitted jobs in the background.
//
// The Manager polls the job store for pending work, claims each job so no
// other loop picks it up, and hands it to the stage executor in its own
// goroutine, bounded by workflow.max_concurrent_jobs. A heartbeat monitor
// fails running stages whose executor stopped reporting, so an interrupted
// job can be retried instead of staying "running" forever.
package workflow

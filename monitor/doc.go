// Package monitor provides the background reclaim loops: the lease
// Monitor that detects orphaned running jobs and returns them to the
// backlog (or fails them once out of retries), and the retention
// Sweeper that deletes terminal jobs past their TTL.
package monitor

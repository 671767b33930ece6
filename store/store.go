// Package store defines the aggregate backend interface. The job package
// owns the record contract (job.Store) and the admission contract
// (job.Backlog); a single backend — memory, Redis, or Postgres —
// implements both plus lifecycle.
package store

import (
	"context"

	"github.com/toolplane/jobq/job"
)

// Backend is the aggregate persistence interface a jobq deployment plugs
// in. Swapping the in-memory backlog for an external broker means
// swapping the Backend; nothing above this boundary changes.
type Backend interface {
	job.Store
	job.Backlog

	// Migrate runs schema migrations, where the backend has a schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}

package jobq

import "time"

// Config holds configuration for the Core.
type Config struct {
	// Concurrency is the number of worker goroutines claiming jobs.
	Concurrency int

	// LeaseDuration is how long a worker's exclusive claim on a job
	// remains valid without completion. Jobs whose lease expires are
	// presumed orphaned and reclaimed by the monitor.
	LeaseDuration time.Duration

	// MonitorInterval is how often the lease monitor scans for
	// expired leases.
	MonitorInterval time.Duration

	// TerminalTTL is how long terminal jobs (succeeded, failed,
	// cancelled) are retained before the sweeper deletes them.
	// Zero disables retention sweeping.
	TerminalTTL time.Duration

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// BackoffBase and BackoffMax parameterize the default exponential
	// retry backoff: base * 2^retryCount, capped at max.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		LeaseDuration:   30 * time.Second,
		MonitorInterval: 5 * time.Second,
		TerminalTTL:     time.Hour,
		SweepInterval:   time.Minute,
		ShutdownTimeout: 30 * time.Second,
		BackoffBase:     500 * time.Millisecond,
		BackoffMax:      time.Minute,
	}
}

package cron

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Entry is a snapshot of one scheduled enqueue.
type Entry struct {
	// Name uniquely identifies the entry.
	Name string `json:"name"`
	// TaskType is the registered task type enqueued on each firing.
	TaskType string `json:"task_type"`
	// Schedule is the cron expression as given to Add.
	Schedule string `json:"schedule"`
	// Payload is the opaque payload passed to every enqueued job.
	Payload []byte `json:"payload,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
}

// entry is the scheduler's mutable record behind an Entry snapshot.
type entry struct {
	name     string
	taskType string
	expr     string
	payload  []byte
	schedule cronlib.Schedule

	lastRunAt *time.Time
	nextRunAt time.Time
}

func (e *entry) snapshot() Entry {
	return Entry{
		Name:      e.name,
		TaskType:  e.taskType,
		Schedule:  e.expr,
		Payload:   e.payload,
		LastRunAt: e.lastRunAt,
		NextRunAt: e.nextRunAt,
	}
}

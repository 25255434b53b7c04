// Package store provides the JobRepo interface and model for durable job scheduling.
package store

import (
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusLocked    JobStatus = "locked"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DefaultMaxAttempts bounds retries before a job is parked as failed.
const DefaultMaxAttempts = 3

// Job represents a durable job record that replaces in-memory timers.
//
// Key is a correlation identifier (here: a task ID) grouping jobs tied to the
// same external entity. For any (Name, Key) pair at most one job is
// non-terminal at a time; UpsertJob enforces this.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	RunAt       time.Time  `json:"run_at"`
	Recurrence  string     `json:"recurrence"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LockedUntil *time.Time `json:"locked_until"`
	LockedBy    string     `json:"locked_by"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobRepo defines the interface for durable job persistence.
//
// Every operation is atomic with respect to concurrent callers, including
// callers in other processes sharing the same database.
type JobRepo interface {
	// UpsertJob atomically cancels any scheduled job for (name, key) and
	// inserts a fresh scheduled job, so the pair never holds two pending
	// entries. A job already locked by a worker is left to run to
	// completion; cancellation only prevents future execution. Recurrence,
	// when non-empty, is a cron expression used to re-enqueue the job after
	// each successful run.
	UpsertJob(name, key string, runAt time.Time, recurrence, payloadJSON string) (string, error)

	// CancelJobsByKey transitions all scheduled jobs with the given key to
	// cancelled and returns how many were cancelled. An empty name matches
	// jobs of any name (used when a task is deleted). Key must be non-empty.
	CancelJobsByKey(name, key string) (int, error)

	// ClaimDueJobs atomically moves up to limit scheduled jobs with
	// run_at <= now to locked, stamping lockedBy=workerID and
	// lockedUntil=now+lease, and returns them. No two concurrent callers
	// ever observe the same job.
	ClaimDueJobs(now time.Time, limit int, workerID string, lease time.Duration) ([]Job, error)

	// CompleteJob marks a locked job as completed.
	CompleteJob(id string) error

	// FailJob records a failed attempt. The job returns to scheduled at
	// nextRunAt while attempts remain, otherwise it is parked as failed.
	FailJob(id string, errMsg string, nextRunAt time.Time) error

	// ReapExpiredLeases returns locked jobs whose lease expired before now
	// to scheduled (crash recovery) and reports how many were reaped.
	ReapExpiredLeases(now time.Time) (int, error)

	// GetJob retrieves a single job by ID. Returns nil when absent.
	GetJob(id string) (*Job, error)

	// ListJobsByKey returns all jobs for (name, key), any status. An empty
	// name matches jobs of any name.
	ListJobsByKey(name, key string) ([]Job, error)
}

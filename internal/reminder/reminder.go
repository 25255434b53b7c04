// Package reminder wires due-date notifications to the durable job queue.
//
// Every task with a due date gets at most one pending reminder job keyed by
// the task ID. The reconciler keeps that job in sync with task edits, and a
// daily sweep backfills reminders for tasks that slipped through (for
// example, tasks created while the process was down).
package reminder

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job names used on the queue. The reminder key is always the task ID, so
// scheduling is idempotent per task.
const (
	JobDueReminder   = "due-reminder"
	JobSweepDueDates = "sweep-due-dates"
	JobActiveUsers   = "update-active-users"
)

const (
	// LeadTime is how far before the due date a reminder fires.
	LeadTime = 24 * time.Hour
	// SweepHorizon is how far ahead the daily sweep looks for due tasks.
	SweepHorizon = 24 * time.Hour
	// SweepDelay spaces sweep-scheduled reminders a little into the future
	// so a large backlog does not fire in the same poll cycle as the sweep.
	SweepDelay = 5 * time.Minute

	// DefaultSweepSchedule runs the sweep every morning at 09:00.
	DefaultSweepSchedule = "0 9 * * *"
	// ActiveUsersSchedule refreshes the active-users gauge every 5 minutes.
	ActiveUsersSchedule = "*/5 * * * *"
)

// Payload is the JSON body stored with a due-reminder job.
type Payload struct {
	TaskID    string    `json:"taskId"`
	OwnerID   string    `json:"ownerId"`
	Recipient string    `json:"recipient"`
	Title     string    `json:"title"`
	DueDate   time.Time `json:"dueDate"`
}

// EncodePayload marshals a reminder payload for storage on a job row.
func EncodePayload(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode reminder payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload unmarshals a job payload back into a reminder payload.
func DecodePayload(payloadJSON string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return p, fmt.Errorf("failed to decode reminder payload: %w", err)
	}
	return p, nil
}

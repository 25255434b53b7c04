package reminder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/store"
)

// Reconciler keeps the reminder job for a task in sync with the task's
// current state. It is called after every mutation that can affect when, or
// whether, a reminder should fire.
type Reconciler struct {
	jobs store.JobRepo
	now  func() time.Time
}

// NewReconciler creates a reconciler over the given job repository.
func NewReconciler(jobs store.JobRepo) *Reconciler {
	return &Reconciler{jobs: jobs, now: time.Now}
}

// TaskChanged recomputes the reminder for a task. Completed tasks and tasks
// without a due date lose their pending reminder; everything else gets a
// fresh reminder at dueDate minus the lead time, unless that moment has
// already passed. Upserting unconditionally keeps the call idempotent: an
// edit that does not move the due date simply replaces the job with an
// identical one.
func (r *Reconciler) TaskChanged(task *models.Task, ownerEmail string) error {
	if task.Completed || task.DueDate == nil {
		return r.cancel(task.ID)
	}
	notifyAt := task.DueDate.Add(-LeadTime)
	if !notifyAt.After(r.now()) {
		// Too close to (or past) the due date for the standing reminder;
		// the daily sweep still covers tasks due within its horizon.
		return r.cancel(task.ID)
	}
	payload, err := EncodePayload(Payload{
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		Recipient: ownerEmail,
		Title:     task.Title,
		DueDate:   *task.DueDate,
	})
	if err != nil {
		return err
	}
	jobID, err := r.jobs.UpsertJob(JobDueReminder, task.ID, notifyAt, "", payload)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder for task %s: %w", task.ID, err)
	}
	slog.Debug("Reconciler.TaskChanged: reminder scheduled", "taskID", task.ID, "jobID", jobID, "runAt", notifyAt)
	return nil
}

// TaskRemoved cancels any pending jobs keyed by the task, regardless of name.
func (r *Reconciler) TaskRemoved(taskID string) error {
	n, err := r.jobs.CancelJobsByKey("", taskID)
	if err != nil {
		return fmt.Errorf("failed to cancel jobs for task %s: %w", taskID, err)
	}
	if n > 0 {
		slog.Debug("Reconciler.TaskRemoved: jobs cancelled", "taskID", taskID, "count", n)
	}
	return nil
}

func (r *Reconciler) cancel(taskID string) error {
	if _, err := r.jobs.CancelJobsByKey(JobDueReminder, taskID); err != nil {
		return fmt.Errorf("failed to cancel reminder for task %s: %w", taskID, err)
	}
	return nil
}

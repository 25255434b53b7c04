package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yokoshima228/todo/internal/metrics"
	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/notify"
	"github.com/yokoshima228/todo/internal/store"
)

// Notifier executes due-reminder jobs: it re-checks the task and delivers
// the notification through the configured sender.
type Notifier struct {
	store  store.Store
	sender notify.Sender
	m      *metrics.Metrics
}

// NewNotifier creates the due-reminder job handler.
func NewNotifier(st store.Store, sender notify.Sender, m *metrics.Metrics) *Notifier {
	return &Notifier{store: st, sender: sender, m: m}
}

// HandleDueReminder is the handler for due-reminder jobs. The task is
// re-read at execution time: if it was completed or deleted after the job
// was claimed, the reminder is dropped without error.
func (n *Notifier) HandleDueReminder(ctx context.Context, payload string) error {
	p, err := DecodePayload(payload)
	if err != nil {
		return err
	}
	task, err := n.store.GetTask(p.TaskID, p.OwnerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load task %s: %w", p.TaskID, err)
	}
	if task == nil || task.Completed || task.DueDate == nil {
		slog.Debug("Notifier.HandleDueReminder: task no longer needs a reminder", "taskID", p.TaskID)
		return nil
	}

	subject, text, html := renderReminder(task)
	if err := n.sender.Deliver(ctx, p.Recipient, subject, text, html); err != nil {
		n.m.Errors.WithLabelValues("reminder").Inc()
		return fmt.Errorf("failed to deliver reminder for task %s: %w", p.TaskID, err)
	}
	n.m.RemindersSent.Inc()
	slog.Info("Notifier.HandleDueReminder: reminder delivered", "taskID", p.TaskID, "to", p.Recipient)
	return nil
}

func renderReminder(task *models.Task) (subject, text, html string) {
	due := task.DueDate.Format("Mon, 02 Jan 2006 15:04")
	subject = fmt.Sprintf("Reminder: %q is due soon", task.Title)
	text = fmt.Sprintf("Your task %q is due on %s.", task.Title, due)
	if task.Notes != "" {
		text += "\n\nNotes: " + task.Notes
	}
	html = fmt.Sprintf("<p>Your task <strong>%s</strong> is due on %s.</p>", task.Title, due)
	return subject, text, html
}

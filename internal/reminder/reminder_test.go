package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yokoshima228/todo/internal/metrics"
	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/notify"
	"github.com/yokoshima228/todo/internal/store"
)

type fakeSender struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

var _ notify.Sender = (*fakeSender)(nil)

func (f *fakeSender) Deliver(ctx context.Context, to, subject, text, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, to)
	return nil
}

func pendingJobs(t *testing.T, repo store.JobRepo, name, key string) []store.Job {
	t.Helper()
	jobs, err := repo.ListJobsByKey(name, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var pending []store.Job
	for _, j := range jobs {
		if !j.Status.Terminal() {
			pending = append(pending, j)
		}
	}
	return pending
}

func makeTask(owner *models.User, due *time.Time) *models.Task {
	return &models.Task{
		ID:      "t_reminder",
		Title:   "renew passport",
		DueDate: due,
		OwnerID: owner.ID,
	}
}

func TestReconcilerSchedulesReminder(t *testing.T) {
	st := store.NewInMemoryStore()
	recon := NewReconciler(st)

	owner := &models.User{Email: "alice@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(48 * time.Hour)
	task := makeTask(owner, &due)

	if err := recon.TaskChanged(task, owner.Email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending := pendingJobs(t, st, JobDueReminder, task.ID)
	if len(pending) != 1 {
		t.Fatalf("pending reminders = %d, want 1", len(pending))
	}
	job := pending[0]
	wantRunAt := due.Add(-LeadTime)
	if !job.RunAt.Equal(wantRunAt) {
		t.Errorf("runAt = %v, want %v", job.RunAt, wantRunAt)
	}
	payload, err := DecodePayload(job.PayloadJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.TaskID != task.ID || payload.Recipient != "alice@example.com" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestReconcilerIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	recon := NewReconciler(st)

	owner := &models.User{Email: "bob@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(48 * time.Hour)
	task := makeTask(owner, &due)

	for i := 0; i < 3; i++ {
		if err := recon.TaskChanged(task, owner.Email); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if pending := pendingJobs(t, st, JobDueReminder, task.ID); len(pending) != 1 {
		t.Errorf("pending reminders after repeated reconciles = %d, want 1", len(pending))
	}
}

func TestReconcilerCancelsWhenCompleted(t *testing.T) {
	st := store.NewInMemoryStore()
	recon := NewReconciler(st)

	owner := &models.User{Email: "carol@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(48 * time.Hour)
	task := makeTask(owner, &due)

	if err := recon.TaskChanged(task, owner.Email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.Completed = true
	if err := recon.TaskChanged(task, owner.Email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending := pendingJobs(t, st, JobDueReminder, task.ID); len(pending) != 0 {
		t.Errorf("pending reminders after completion = %d, want 0", len(pending))
	}
}

func TestReconcilerCancelsWhenDueDateCleared(t *testing.T) {
	st := store.NewInMemoryStore()
	recon := NewReconciler(st)

	owner := &models.User{Email: "dave@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(48 * time.Hour)
	task := makeTask(owner, &due)

	if err := recon.TaskChanged(task, owner.Email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task.DueDate = nil
	if err := recon.TaskChanged(task, owner.Email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending := pendingJobs(t, st, JobDueReminder, task.ID); len(pending) != 0 {
		t.Errorf("pending reminders after clearing due date = %d, want 0", len(pending))
	}
}

func TestReconcilerSkipsPastLeadTime(t *testing.T) {
	st := store.NewInMemoryStore()
	recon := NewReconciler(st)
	recon.now = func() time.Time {
		return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	}

	owner := &models.User{Email: "erin@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Due in 2 hours: the 24-hour lead moment is already in the past.
	due := time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	task := makeTask(owner, &due)

	if err := recon.TaskChanged(task, owner.Email); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending := pendingJobs(t, st, JobDueReminder, task.ID); len(pending) != 0 {
		t.Errorf("pending reminders for near-due task = %d, want 0", len(pending))
	}
}

func TestTaskRemovedCancelsAllJobs(t *testing.T) {
	st := store.NewInMemoryStore()
	recon := NewReconciler(st)

	if _, err := st.UpsertJob(JobDueReminder, "t_gone", time.Now().Add(time.Hour), "", "{}"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := st.UpsertJob("some-other-job", "t_gone", time.Now().Add(time.Hour), "", "{}"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := recon.TaskRemoved("t_gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending := pendingJobs(t, st, "", "t_gone"); len(pending) != 0 {
		t.Errorf("pending jobs after removal = %d, want 0", len(pending))
	}
}

func TestSweeperSchedulesReminders(t *testing.T) {
	st := store.NewInMemoryStore()
	sweeper := NewSweeper(st, metrics.New())

	owner := &models.User{Email: "frank@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(2 * time.Hour)
	task := &models.Task{Title: "pay rent", DueDate: &due, OwnerID: owner.ID}
	if err := st.CreateTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := time.Now()
	if err := sweeper.SweepDueDates(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending := pendingJobs(t, st, JobDueReminder, task.ID)
	if len(pending) != 1 {
		t.Fatalf("pending reminders after sweep = %d, want 1", len(pending))
	}
	job := pending[0]
	if job.RunAt.Before(before.Add(SweepDelay-time.Minute)) || job.RunAt.After(before.Add(SweepDelay+time.Minute)) {
		t.Errorf("sweep reminder runAt = %v, want about %v out", job.RunAt, SweepDelay)
	}
	payload, err := DecodePayload(job.PayloadJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Recipient != "frank@example.com" || payload.OwnerID != owner.ID {
		t.Errorf("payload = %+v", payload)
	}

	// A second sweep replaces the pending reminder instead of adding one.
	if err := sweeper.SweepDueDates(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending := pendingJobs(t, st, JobDueReminder, task.ID); len(pending) != 1 {
		t.Errorf("pending reminders after second sweep = %d, want 1", len(pending))
	}
}

func TestSweeperIgnoresDistantAndCompletedTasks(t *testing.T) {
	st := store.NewInMemoryStore()
	sweeper := NewSweeper(st, metrics.New())

	owner := &models.User{Email: "grace@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	far := time.Now().Add(72 * time.Hour)
	soon := time.Now().Add(time.Hour)
	distant := &models.Task{Title: "distant", DueDate: &far, OwnerID: owner.ID}
	done := &models.Task{Title: "done", DueDate: &soon, Completed: true, OwnerID: owner.ID}
	for _, task := range []*models.Task{distant, done} {
		if err := st.CreateTask(task); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := sweeper.SweepDueDates(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending := pendingJobs(t, st, JobDueReminder, distant.ID); len(pending) != 0 {
		t.Error("sweep scheduled a reminder for a task outside the horizon")
	}
	if pending := pendingJobs(t, st, JobDueReminder, done.ID); len(pending) != 0 {
		t.Error("sweep scheduled a reminder for a completed task")
	}
}

func TestSweeperUpdatesActiveUsers(t *testing.T) {
	st := store.NewInMemoryStore()
	m := metrics.New()
	sweeper := NewSweeper(st, m)

	owner := &models.User{Email: "heidi@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := &models.Task{Title: "anything", OwnerID: owner.ID}
	if err := st.CreateTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := sweeper.UpdateActiveUsers(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNotifierDeliversReminder(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &fakeSender{}
	notifier := NewNotifier(st, sender, metrics.New())

	owner := &models.User{Email: "ivan@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(24 * time.Hour)
	task := &models.Task{Title: "file taxes", DueDate: &due, OwnerID: owner.ID}
	if err := st.CreateTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, err := EncodePayload(Payload{
		TaskID: task.ID, OwnerID: owner.ID, Recipient: owner.Email, Title: task.Title, DueDate: due,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := notifier.HandleDueReminder(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.delivered) != 1 || sender.delivered[0] != "ivan@example.com" {
		t.Errorf("delivered = %v", sender.delivered)
	}
}

func TestNotifierSkipsStaleReminder(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &fakeSender{}
	notifier := NewNotifier(st, sender, metrics.New())

	owner := &models.User{Email: "judy@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(24 * time.Hour)
	task := &models.Task{Title: "water plants", DueDate: &due, Completed: true, OwnerID: owner.ID}
	if err := st.CreateTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, _ := EncodePayload(Payload{
		TaskID: task.ID, OwnerID: owner.ID, Recipient: owner.Email, Title: task.Title, DueDate: due,
	})

	// Completed after the job was scheduled: drop without error.
	if err := notifier.HandleDueReminder(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.delivered) != 0 {
		t.Errorf("delivered = %v, want none", sender.delivered)
	}

	// Deleted entirely: also drop without error.
	if _, err := st.DeleteTask(task.ID, owner.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := notifier.HandleDueReminder(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNotifierReturnsDeliveryError(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &fakeSender{err: errors.New("relay down")}
	notifier := NewNotifier(st, sender, metrics.New())

	owner := &models.User{Email: "kate@example.com"}
	if err := st.CreateUser(owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	due := time.Now().Add(24 * time.Hour)
	task := &models.Task{Title: "book flight", DueDate: &due, OwnerID: owner.ID}
	if err := st.CreateTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, _ := EncodePayload(Payload{
		TaskID: task.ID, OwnerID: owner.ID, Recipient: owner.Email, Title: task.Title, DueDate: due,
	})
	if err := notifier.HandleDueReminder(context.Background(), payload); err == nil {
		t.Fatal("expected delivery error to propagate so the job retries")
	}
}

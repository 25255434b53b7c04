package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yokoshima228/todo/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "todo.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s Store, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "x"}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return u
}

func TestSQLiteUserRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	u := createTestUser(t, s, "alice@example.com")
	if u.ID == "" {
		t.Fatal("user ID not generated")
	}

	got, err := s.GetUser(u.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q", got.Email)
	}

	byEmail, err := s.GetUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("lookup by email returned %s, want %s", byEmail.ID, u.ID)
	}

	dup := &models.User{Email: "alice@example.com", PasswordHash: "y"}
	if err := s.CreateUser(dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate email error = %v, want ErrDuplicateEmail", err)
	}
}

func TestSQLiteTaskCRUD(t *testing.T) {
	s := newTestSQLiteStore(t)
	owner := createTestUser(t, s, "bob@example.com")
	other := createTestUser(t, s, "eve@example.com")

	due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	task := &models.Task{
		Title:   "write report",
		DueDate: &due,
		Notes:   "quarterly numbers",
		Tags:    []string{"work", "urgent"},
		OwnerID: owner.ID,
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("priority defaulted to %q, want medium", task.Priority)
	}

	got, err := s.GetTask(task.ID, owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "write report" || got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("task round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "work" {
		t.Errorf("tags = %v", got.Tags)
	}

	// Other owners must not see the task.
	if _, err := s.GetTask(task.ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-owner get = %v, want ErrNotFound", err)
	}

	got.Completed = true
	got.DueDate = nil
	if err := s.UpdateTask(got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err := s.GetTask(task.ID, owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Completed || updated.DueDate != nil {
		t.Errorf("update not persisted: %+v", updated)
	}

	deleted, err := s.DeleteTask(task.ID, owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted.ID != task.ID {
		t.Errorf("deleted task ID = %s, want %s", deleted.ID, task.ID)
	}
	if _, err := s.GetTask(task.ID, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteTaskOrdering(t *testing.T) {
	s := newTestSQLiteStore(t)
	owner := createTestUser(t, s, "carol@example.com")

	maxOrder, err := s.MaxTaskOrder(owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxOrder != -1 {
		t.Errorf("max order with no tasks = %d, want -1", maxOrder)
	}

	var ids []string
	for i, title := range []string{"first", "second", "third"} {
		task := &models.Task{Title: title, OwnerID: owner.ID, Order: i}
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, task.ID)
	}

	maxOrder, err = s.MaxTaskOrder(owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxOrder != 2 {
		t.Errorf("max order = %d, want 2", maxOrder)
	}

	reversed := []string{ids[2], ids[1], ids[0]}
	if err := s.ReorderTasks(owner.ID, reversed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tasks, err := s.ListTasks(owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("listed %d tasks, want 3", len(tasks))
	}
	for i, id := range reversed {
		if tasks[i].ID != id {
			t.Errorf("position %d has task %s, want %s", i, tasks[i].ID, id)
		}
	}
}

func TestSQLiteDeleteCompletedTasks(t *testing.T) {
	s := newTestSQLiteStore(t)
	owner := createTestUser(t, s, "dave@example.com")

	open := &models.Task{Title: "keep me", OwnerID: owner.ID}
	doneA := &models.Task{Title: "done a", Completed: true, OwnerID: owner.ID}
	doneB := &models.Task{Title: "done b", Completed: true, OwnerID: owner.ID}
	for _, task := range []*models.Task{open, doneA, doneB} {
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	deleted, err := s.DeleteCompletedTasks(owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d tasks, want 2", len(deleted))
	}
	remaining, err := s.ListTasks(owner.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != open.ID {
		t.Errorf("remaining tasks = %+v, want only the open task", remaining)
	}
}

func TestSQLiteListDueTasks(t *testing.T) {
	s := newTestSQLiteStore(t)
	owner := createTestUser(t, s, "erin@example.com")

	now := time.Now().UTC().Truncate(time.Second)
	soon := now.Add(2 * time.Hour)
	far := now.Add(72 * time.Hour)
	past := now.Add(-time.Hour)

	dueSoon := &models.Task{Title: "due soon", DueDate: &soon, OwnerID: owner.ID}
	dueFar := &models.Task{Title: "due far", DueDate: &far, OwnerID: owner.ID}
	overdue := &models.Task{Title: "overdue", DueDate: &past, OwnerID: owner.ID}
	doneSoon := &models.Task{Title: "done soon", DueDate: &soon, Completed: true, OwnerID: owner.ID}
	noDue := &models.Task{Title: "no due date", OwnerID: owner.ID}
	for _, task := range []*models.Task{dueSoon, dueFar, overdue, doneSoon, noDue} {
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	due, err := s.ListDueTasks(now, 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("listed %d due tasks, want 1: %+v", len(due), due)
	}
	if due[0].TaskID != dueSoon.ID {
		t.Errorf("due task = %s, want %s", due[0].TaskID, dueSoon.ID)
	}
	if due[0].OwnerID != owner.ID || due[0].OwnerEmail != "erin@example.com" {
		t.Errorf("owner join mismatch: %+v", due[0])
	}
}

func TestSQLiteCountActiveOwners(t *testing.T) {
	s := newTestSQLiteStore(t)
	a := createTestUser(t, s, "a@example.com")
	b := createTestUser(t, s, "b@example.com")
	createTestUser(t, s, "idle@example.com")

	for _, owner := range []*models.User{a, b} {
		task := &models.Task{Title: "task", OwnerID: owner.ID}
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := s.CountActiveOwners(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("active owners = %d, want 2", n)
	}

	n, err = s.CountActiveOwners(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("active owners in the future = %d, want 0", n)
	}
}

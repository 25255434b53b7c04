// Package store provides storage backends for the todo application.
//
// This file implements the in-memory store used by tests and DSN-less
// development runs. All operations are guarded by a single mutex, which
// makes every store and job operation atomic with respect to concurrent
// callers within the process.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/util"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type InMemoryStore struct {
	mu    sync.Mutex
	users map[string]models.User
	tasks map[string]models.Task
	jobs  map[string]Job
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]models.User),
		tasks: make(map[string]models.Task),
		jobs:  make(map[string]Job),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreateUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = util.GenerateUserID()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = *u
	return nil
}

func (s *InMemoryStore) GetUser(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *InMemoryStore) GetUserByEmail(email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) CreateTask(t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = util.GenerateTaskID()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Tags == nil {
		t.Tags = []string{}
	}
	s.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (s *InMemoryStore) GetTask(id, ownerID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	found := cloneTask(t)
	return &found, nil
}

func (s *InMemoryStore) ListTasks(ownerID string) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []models.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			tasks = append(tasks, cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return tasks, nil
}

func (s *InMemoryStore) UpdateTask(t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[t.ID]
	if !ok || existing.OwnerID != t.OwnerID {
		return ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.Order = existing.Order
	t.UpdatedAt = time.Now()
	if t.Tags == nil {
		t.Tags = []string{}
	}
	s.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (s *InMemoryStore) DeleteTask(id, ownerID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	delete(s.tasks, id)
	deleted := cloneTask(t)
	return &deleted, nil
}

func (s *InMemoryStore) DeleteCompletedTasks(ownerID string) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []models.Task
	for id, t := range s.tasks {
		if t.OwnerID == ownerID && t.Completed {
			deleted = append(deleted, cloneTask(t))
			delete(s.tasks, id)
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) ReorderTasks(ownerID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i, id := range orderedIDs {
		t, ok := s.tasks[id]
		if !ok || t.OwnerID != ownerID {
			continue
		}
		t.Order = i
		t.UpdatedAt = now
		s.tasks[id] = t
	}
	return nil
}

func (s *InMemoryStore) MaxTaskOrder(ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := -1
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && t.Order > max {
			max = t.Order
		}
	}
	return max, nil
}

func (s *InMemoryStore) ListDueTasks(now time.Time, horizon time.Duration) ([]models.DueTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(horizon)
	var due []models.DueTask
	for _, t := range s.tasks {
		if t.Completed || t.DueDate == nil {
			continue
		}
		if !t.DueDate.After(now) || t.DueDate.After(cutoff) {
			continue
		}
		owner, ok := s.users[t.OwnerID]
		if !ok {
			continue
		}
		due = append(due, models.DueTask{
			TaskID:     t.ID,
			Title:      t.Title,
			DueDate:    *t.DueDate,
			OwnerID:    t.OwnerID,
			OwnerEmail: owner.Email,
		})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueDate.Before(due[j].DueDate) })
	return due, nil
}

func (s *InMemoryStore) CountActiveOwners(since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make(map[string]struct{})
	for _, t := range s.tasks {
		if !t.CreatedAt.Before(since) || !t.UpdatedAt.Before(since) {
			owners[t.OwnerID] = struct{}{}
		}
	}
	return len(owners), nil
}

func cloneTask(t models.Task) models.Task {
	if t.Tags != nil {
		tags := make([]string, len(t.Tags))
		copy(tags, t.Tags)
		t.Tags = tags
	}
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

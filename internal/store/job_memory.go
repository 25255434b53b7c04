package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/yokoshima228/todo/internal/util"
)

// Compile-time check that InMemoryStore implements JobRepo.
var _ JobRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) UpsertJob(name, key string, runAt time.Time, recurrence, payloadJSON string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, j := range s.jobs {
		if j.Name == name && j.Key == key && j.Status == JobStatusScheduled {
			j.Status = JobStatusCancelled
			j.UpdatedAt = now
			s.jobs[id] = j
		}
	}

	id := util.GenerateJobID()
	s.jobs[id] = Job{
		ID:          id,
		Name:        name,
		Key:         key,
		RunAt:       runAt,
		Recurrence:  recurrence,
		PayloadJSON: payloadJSON,
		Status:      JobStatusScheduled,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *InMemoryStore) CancelJobsByKey(name, key string) (int, error) {
	if key == "" {
		return 0, fmt.Errorf("cancel by key requires a non-empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for id, j := range s.jobs {
		if j.Key != key || j.Status != JobStatusScheduled {
			continue
		}
		if name != "" && j.Name != name {
			continue
		}
		j.Status = JobStatusCancelled
		j.UpdatedAt = now
		s.jobs[id] = j
		n++
	}
	return n, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int, workerID string, lease time.Duration) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusScheduled && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	lockedUntil := now.Add(lease)
	for i := range due {
		j := due[i]
		j.Status = JobStatusLocked
		lu := lockedUntil
		j.LockedUntil = &lu
		j.LockedBy = workerID
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		due[i] = j
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != JobStatusLocked {
		return fmt.Errorf("complete job %s: %w", id, ErrInvalidTransition)
	}
	j.Status = JobStatusCompleted
	j.LockedUntil = nil
	j.LockedBy = ""
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != JobStatusLocked {
		return fmt.Errorf("fail job %s: %w", id, ErrInvalidTransition)
	}
	j.Attempts++
	j.LastError = errMsg
	j.LockedUntil = nil
	j.LockedBy = ""
	j.UpdatedAt = time.Now()
	if j.Attempts >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusScheduled
		j.RunAt = nextRunAt
	}
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) ReapExpiredLeases(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Status != JobStatusLocked || j.LockedUntil == nil || !j.LockedUntil.Before(now) {
			continue
		}
		j.Status = JobStatusScheduled
		j.LockedUntil = nil
		j.LockedBy = ""
		j.UpdatedAt = now
		s.jobs[id] = j
		n++
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	found := j
	return &found, nil
}

func (s *InMemoryStore) ListJobsByKey(name, key string) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for _, j := range s.jobs {
		if j.Key != key {
			continue
		}
		if name != "" && j.Name != name {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, nil
}

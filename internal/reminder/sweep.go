package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yokoshima228/todo/internal/metrics"
	"github.com/yokoshima228/todo/internal/store"
)

// Sweeper backfills reminder jobs for tasks that are due soon but have no
// pending reminder, and refreshes the active-users gauge.
type Sweeper struct {
	store store.Store
	m     *metrics.Metrics
	now   func() time.Time
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(st store.Store, m *metrics.Metrics) *Sweeper {
	return &Sweeper{store: st, m: m, now: time.Now}
}

// SweepDueDates scans for open tasks due within the horizon and schedules a
// reminder for each a few minutes out. Upserting by task ID means tasks that
// already carry a pending reminder simply get it replaced, so running the
// sweep twice does not double-notify.
func (s *Sweeper) SweepDueDates(ctx context.Context, payload string) error {
	now := s.now()
	due, err := s.store.ListDueTasks(now, SweepHorizon)
	if err != nil {
		return fmt.Errorf("failed to list due tasks: %w", err)
	}
	runAt := now.Add(SweepDelay)
	scheduled := 0
	for _, t := range due {
		body, err := EncodePayload(Payload{
			TaskID:    t.TaskID,
			OwnerID:   t.OwnerID,
			Recipient: t.OwnerEmail,
			Title:     t.Title,
			DueDate:   t.DueDate,
		})
		if err != nil {
			return err
		}
		if _, err := s.store.UpsertJob(JobDueReminder, t.TaskID, runAt, "", body); err != nil {
			return fmt.Errorf("failed to schedule sweep reminder for task %s: %w", t.TaskID, err)
		}
		scheduled++
	}
	slog.Info("Sweeper.SweepDueDates: sweep complete", "dueTasks", len(due), "scheduled", scheduled)
	return nil
}

// UpdateActiveUsers sets the active-users gauge to the number of owners with
// task activity in the last 24 hours.
func (s *Sweeper) UpdateActiveUsers(ctx context.Context, payload string) error {
	n, err := s.store.CountActiveOwners(s.now().Add(-24 * time.Hour))
	if err != nil {
		return fmt.Errorf("failed to count active owners: %w", err)
	}
	s.m.ActiveUsers.Set(float64(n))
	return nil
}

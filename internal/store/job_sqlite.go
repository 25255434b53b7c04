package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/yokoshima228/todo/internal/util"
)

// Compile-time check that SQLiteStore implements JobRepo.
var _ JobRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) UpsertJob(name, key string, runAt time.Time, recurrence, payloadJSON string) (string, error) {
	id := util.GenerateJobID()
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("upsert job begin failed: %w", err)
	}
	defer tx.Rollback()

	// Retire any pending entry for the same (name, key) before inserting the
	// replacement. Locked jobs are left alone: they run to completion.
	res, err := tx.Exec(
		`UPDATE jobs SET status = 'cancelled', updated_at = ? WHERE name = ? AND key = ? AND status = 'scheduled'`,
		now, name, key,
	)
	if err != nil {
		return "", fmt.Errorf("upsert job retire failed: %w", err)
	}
	retired, _ := res.RowsAffected()

	_, err = tx.Exec(
		`INSERT INTO jobs (id, name, key, run_at, recurrence, payload_json, status, attempts, max_attempts, locked_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'scheduled', 0, ?, '', ?, ?)`,
		id, name, key, runAt, recurrence, nilIfEmpty(payloadJSON), DefaultMaxAttempts, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("upsert job insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("upsert job commit failed: %w", err)
	}
	slog.Debug("SQLiteStore.UpsertJob", "id", id, "name", name, "key", key, "runAt", runAt, "retired", retired)
	return id, nil
}

func (s *SQLiteStore) CancelJobsByKey(name, key string) (int, error) {
	if key == "" {
		return 0, fmt.Errorf("cancel by key requires a non-empty key")
	}
	now := time.Now()
	var (
		res sql.Result
		err error
	)
	if name == "" {
		res, err = s.db.Exec(
			`UPDATE jobs SET status = 'cancelled', updated_at = ? WHERE key = ? AND status = 'scheduled'`,
			now, key,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE jobs SET status = 'cancelled', updated_at = ? WHERE name = ? AND key = ? AND status = 'scheduled'`,
			now, name, key,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("cancel jobs by key failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Debug("SQLiteStore.CancelJobsByKey", "name", name, "key", key, "cancelled", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) ClaimDueJobs(now time.Time, limit int, workerID string, lease time.Duration) ([]Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'scheduled' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs query failed: %w", err)
	}

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim due jobs iteration failed: %w", err)
	}
	rows.Close()

	lockedUntil := now.Add(lease)
	for i := range jobs {
		res, err := tx.Exec(
			`UPDATE jobs SET status = 'locked', locked_until = ?, locked_by = ?, updated_at = ? WHERE id = ? AND status = 'scheduled'`,
			lockedUntil, workerID, now, jobs[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark job locked failed: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("job %s vanished during claim", jobs[i].ID)
		}
		jobs[i].Status = JobStatusLocked
		lu := lockedUntil
		jobs[i].LockedUntil = &lu
		jobs[i].LockedBy = workerID
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim commit failed: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) CompleteJob(id string) error {
	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'completed', locked_until = NULL, locked_by = '', updated_at = ? WHERE id = ? AND status = 'locked'`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete job %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *SQLiteStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	now := time.Now()

	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempts++
	var res sql.Result
	if attempts >= maxAttempts {
		res, err = s.db.Exec(
			`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, locked_until = NULL, locked_by = '', updated_at = ? WHERE id = ? AND status = 'locked'`,
			attempts, errMsg, now, id,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE jobs SET status = 'scheduled', attempts = ?, last_error = ?, run_at = ?, locked_until = NULL, locked_by = '', updated_at = ? WHERE id = ? AND status = 'locked'`,
			attempts, errMsg, nextRunAt, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fail job %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (s *SQLiteStore) ReapExpiredLeases(now time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'scheduled', locked_until = NULL, locked_by = '', updated_at = ? WHERE status = 'locked' AND locked_until < ?`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.ReapExpiredLeases", "reaped", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}

func (s *SQLiteStore) ListJobsByKey(name, key string) ([]Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if name == "" {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE key = ? ORDER BY created_at ASC`, key)
	} else {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE name = ? AND key = ? ORDER BY created_at ASC`, name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs by key failed: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs iteration failed: %w", err)
	}
	return jobs, nil
}

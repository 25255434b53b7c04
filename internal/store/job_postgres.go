package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/yokoshima228/todo/internal/util"
)

// Compile-time check that PostgresStore implements JobRepo.
var _ JobRepo = (*PostgresStore)(nil)

func (s *PostgresStore) UpsertJob(name, key string, runAt time.Time, recurrence, payloadJSON string) (string, error) {
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
		`UPDATE jobs SET status = 'cancelled', updated_at = $1 WHERE name = $2 AND key = $3 AND status = 'scheduled'`,
		now, name, key,
	)
	if err != nil {
		return "", fmt.Errorf("upsert job retire failed: %w", err)
	}
	retired, _ := res.RowsAffected()

	_, err = tx.Exec(
		`INSERT INTO jobs (id, name, key, run_at, recurrence, payload_json, status, attempts, max_attempts, locked_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', 0, $7, '', $8, $9)`,
		id, name, key, runAt, recurrence, nilIfEmpty(payloadJSON), DefaultMaxAttempts, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("upsert job insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("upsert job commit failed: %w", err)
	}
	slog.Debug("PostgresStore.UpsertJob", "id", id, "name", name, "key", key, "runAt", runAt, "retired", retired)
	return id, nil
}

func (s *PostgresStore) CancelJobsByKey(name, key string) (int, error) {
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
			`UPDATE jobs SET status = 'cancelled', updated_at = $1 WHERE key = $2 AND status = 'scheduled'`,
			now, key,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE jobs SET status = 'cancelled', updated_at = $1 WHERE name = $2 AND key = $3 AND status = 'scheduled'`,
			now, name, key,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("cancel jobs by key failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Debug("PostgresStore.CancelJobsByKey", "name", name, "key", key, "cancelled", n)
	}
	return int(n), nil
}

func (s *PostgresStore) ClaimDueJobs(now time.Time, limit int, workerID string, lease time.Duration) ([]Job, error) {
	rows, err := s.db.Query(
		`UPDATE jobs SET status = 'locked', locked_until = $1, locked_by = $2, updated_at = $3
		 WHERE id IN (
		   SELECT id FROM jobs WHERE status = 'scheduled' AND run_at <= $3
		   ORDER BY run_at ASC LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now.Add(lease), workerID, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs failed: %w", err)
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
		return nil, fmt.Errorf("claim due jobs iteration failed: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) CompleteJob(id string) error {
	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'completed', locked_until = NULL, locked_by = '', updated_at = $1 WHERE id = $2 AND status = 'locked'`,
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

func (s *PostgresStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	now := time.Now()

	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = $1`, id).Scan(&attempts, &maxAttempts)
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
			`UPDATE jobs SET status = 'failed', attempts = $1, last_error = $2, locked_until = NULL, locked_by = '', updated_at = $3 WHERE id = $4 AND status = 'locked'`,
			attempts, errMsg, now, id,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE jobs SET status = 'scheduled', attempts = $1, last_error = $2, run_at = $3, locked_until = NULL, locked_by = '', updated_at = $4 WHERE id = $5 AND status = 'locked'`,
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

func (s *PostgresStore) ReapExpiredLeases(now time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'scheduled', locked_until = NULL, locked_by = '', updated_at = $1 WHERE status = 'locked' AND locked_until < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.ReapExpiredLeases", "reaped", n)
	}
	return int(n), nil
}

func (s *PostgresStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ListJobsByKey(name, key string) ([]Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if name == "" {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE key = $1 ORDER BY created_at ASC`, key)
	} else {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE name = $1 AND key = $2 ORDER BY created_at ASC`, name, key)
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

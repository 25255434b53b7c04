package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yokoshima228/todo/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a *time.Time to a driver-friendly nullable value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// marshalTags serializes a tag slice for the tags_json column.
func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags failed: %w", err)
	}
	return string(b), nil
}

func scanUserRow(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user failed: %w", err)
	}
	return &u, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(sc rowScanner) (*models.Task, error) {
	var t models.Task
	var dueDate sql.NullTime
	var tagsJSON string
	var priority string
	err := sc.Scan(
		&t.ID, &t.Title, &t.Completed, &dueDate, &priority, &t.Notes, &tagsJSON,
		&t.OwnerID, &t.Order, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = models.TaskPriority(priority)
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	t.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags failed: %w", err)
		}
	}
	return &t, nil
}

func scanTaskRow(row *sql.Row) (*models.Task, error) {
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task failed: %w", err)
	}
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task failed: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task iteration failed: %w", err)
	}
	return tasks, nil
}

// scanJob scans a Job from a row or rows cursor.
func scanJob(sc rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError sql.NullString
	var lockedUntil sql.NullTime
	err := sc.Scan(
		&j.ID, &j.Name, &j.Key, &j.RunAt, &j.Recurrence, &payloadJSON, &j.Status,
		&j.Attempts, &j.MaxAttempts, &lockedUntil, &j.LockedBy, &lastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		j.LockedUntil = &t
	}
	return j, nil
}

// jobColumns is the canonical job column list used by every query that scans jobs.
const jobColumns = `id, name, key, run_at, recurrence, payload_json, status, attempts, max_attempts, locked_until, locked_by, last_error, created_at, updated_at`

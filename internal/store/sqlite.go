// Package store provides storage backends for the todo application.
//
// This file implements the SQLite-backed store for users and tasks.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite supports a single writer; funneling all access through one
	// connection avoids SQLITE_BUSY under concurrent job claims.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func (s *SQLiteStore) CreateUser(u *models.User) error {
	if u.ID == "" {
		u.ID = util.GenerateUserID()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateUser", "id", u.ID)
	return nil
}

func (s *SQLiteStore) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUserRow(row)
}

func (s *SQLiteStore) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = ?`, email)
	return scanUserRow(row)
}

func (s *SQLiteStore) CreateTask(t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = util.GenerateTaskID()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Completed, nullableTime(t.DueDate), string(t.Priority), t.Notes, tags, t.OwnerID, t.Order, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task failed: %w", err)
	}
	slog.Debug("SQLiteStore.CreateTask", "id", t.ID, "owner", t.OwnerID)
	return nil
}

func (s *SQLiteStore) GetTask(id, ownerID string) (*models.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at
		 FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	return scanTaskRow(row)
}

func (s *SQLiteStore) ListTasks(ownerID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at
		 FROM tasks WHERE owner_id = ? ORDER BY sort_order ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks failed: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) UpdateTask(t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE tasks SET title = ?, completed = ?, due_date = ?, priority = ?, notes = ?, tags_json = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		t.Title, t.Completed, nullableTime(t.DueDate), string(t.Priority), t.Notes, tags, t.UpdatedAt, t.ID, t.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("update task failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(id, ownerID string) (*models.Task, error) {
	t, err := s.GetTask(id, ownerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID); err != nil {
		return nil, fmt.Errorf("delete task failed: %w", err)
	}
	slog.Debug("SQLiteStore.DeleteTask", "id", id, "owner", ownerID)
	return t, nil
}

func (s *SQLiteStore) DeleteCompletedTasks(ownerID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at
		 FROM tasks WHERE owner_id = ? AND completed = 1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list completed tasks failed: %w", err)
	}
	tasks, err := collectTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE owner_id = ? AND completed = 1`, ownerID); err != nil {
		return nil, fmt.Errorf("delete completed tasks failed: %w", err)
	}
	slog.Debug("SQLiteStore.DeleteCompletedTasks", "owner", ownerID, "count", len(tasks))
	return tasks, nil
}

func (s *SQLiteStore) ReorderTasks(ownerID string, orderedIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("reorder begin failed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i, id := range orderedIDs {
		if _, err := tx.Exec(
			`UPDATE tasks SET sort_order = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
			i, now, id, ownerID,
		); err != nil {
			return fmt.Errorf("reorder update failed: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) MaxTaskOrder(ownerID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sort_order) FROM tasks WHERE owner_id = ?`, ownerID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("max task order failed: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (s *SQLiteStore) ListDueTasks(now time.Time, horizon time.Duration) ([]models.DueTask, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.title, t.due_date, t.owner_id, u.email
		 FROM tasks t JOIN users u ON u.id = t.owner_id
		 WHERE t.completed = 0 AND t.due_date IS NOT NULL AND t.due_date > ? AND t.due_date <= ?
		 ORDER BY t.due_date ASC`,
		now, now.Add(horizon),
	)
	if err != nil {
		return nil, fmt.Errorf("list due tasks failed: %w", err)
	}
	defer rows.Close()

	var due []models.DueTask
	for rows.Next() {
		var d models.DueTask
		if err := rows.Scan(&d.TaskID, &d.Title, &d.DueDate, &d.OwnerID, &d.OwnerEmail); err != nil {
			return nil, fmt.Errorf("scan due task failed: %w", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("due tasks iteration failed: %w", err)
	}
	return due, nil
}

func (s *SQLiteStore) CountActiveOwners(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT owner_id) FROM tasks WHERE created_at >= ? OR updated_at >= ?`,
		since, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active owners failed: %w", err)
	}
	return n, nil
}

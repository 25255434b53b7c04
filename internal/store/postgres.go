// Package store provides storage backends for the todo application.
//
// This file implements the PostgreSQL-backed store for users and tasks.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

func (s *PostgresStore) CreateUser(u *models.User) error {
	if u.ID == "" {
		u.ID = util.GenerateUserID()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateUser", "id", u.ID)
	return nil
}

func (s *PostgresStore) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
	return scanUserRow(row)
}

func (s *PostgresStore) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = $1`, email)
	return scanUserRow(row)
}

func (s *PostgresStore) CreateTask(t *models.Task) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Title, t.Completed, nullableTime(t.DueDate), string(t.Priority), t.Notes, tags, t.OwnerID, t.Order, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task failed: %w", err)
	}
	slog.Debug("PostgresStore.CreateTask", "id", t.ID, "owner", t.OwnerID)
	return nil
}

func (s *PostgresStore) GetTask(id, ownerID string) (*models.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at
		 FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanTaskRow(row)
}

func (s *PostgresStore) ListTasks(ownerID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at
		 FROM tasks WHERE owner_id = $1 ORDER BY sort_order ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks failed: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresStore) UpdateTask(t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	tags, err := marshalTags(t.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE tasks SET title = $1, completed = $2, due_date = $3, priority = $4, notes = $5, tags_json = $6, updated_at = $7
		 WHERE id = $8 AND owner_id = $9`,
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

func (s *PostgresStore) DeleteTask(id, ownerID string) (*models.Task, error) {
	t, err := s.GetTask(id, ownerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID); err != nil {
		return nil, fmt.Errorf("delete task failed: %w", err)
	}
	slog.Debug("PostgresStore.DeleteTask", "id", id, "owner", ownerID)
	return t, nil
}

func (s *PostgresStore) DeleteCompletedTasks(ownerID string) ([]models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, completed, due_date, priority, notes, tags_json, owner_id, sort_order, created_at, updated_at
		 FROM tasks WHERE owner_id = $1 AND completed = TRUE`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list completed tasks failed: %w", err)
	}
	tasks, err := collectTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE owner_id = $1 AND completed = TRUE`, ownerID); err != nil {
		return nil, fmt.Errorf("delete completed tasks failed: %w", err)
	}
	slog.Debug("PostgresStore.DeleteCompletedTasks", "owner", ownerID, "count", len(tasks))
	return tasks, nil
}

func (s *PostgresStore) ReorderTasks(ownerID string, orderedIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("reorder begin failed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i, id := range orderedIDs {
		if _, err := tx.Exec(
			`UPDATE tasks SET sort_order = $1, updated_at = $2 WHERE id = $3 AND owner_id = $4`,
			i, now, id, ownerID,
		); err != nil {
			return fmt.Errorf("reorder update failed: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) MaxTaskOrder(ownerID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sort_order) FROM tasks WHERE owner_id = $1`, ownerID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("max task order failed: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (s *PostgresStore) ListDueTasks(now time.Time, horizon time.Duration) ([]models.DueTask, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.title, t.due_date, t.owner_id, u.email
		 FROM tasks t JOIN users u ON u.id = t.owner_id
		 WHERE t.completed = FALSE AND t.due_date IS NOT NULL AND t.due_date > $1 AND t.due_date <= $2
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

func (s *PostgresStore) CountActiveOwners(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT owner_id) FROM tasks WHERE created_at >= $1 OR updated_at >= $1`,
		since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active owners failed: %w", err)
	}
	return n, nil
}

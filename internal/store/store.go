// Package store provides storage backends for the todo application.
//
// A backend persists users and tasks (the Store interface) and the durable
// reminder jobs (the JobRepo interface). SQLite and PostgreSQL backends share
// the same schema shape; an in-memory backend exists for tests and DSN-less
// development runs.
package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/yokoshima228/todo/internal/models"
)

// Sentinel errors callers branch on.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when registering an email that is already taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidTransition is returned when a job status change violates the
	// job state machine (e.g. completing a job that is not locked).
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite, a
	// connection URL or key=value string for PostgreSQL.
	DSN string
}

// Option defines a configuration option for store creation.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence contract for users and tasks. Every backend also
// implements JobRepo over the same underlying database so that task mutations
// and reminder scheduling share one durability domain.
type Store interface {
	// Users
	CreateUser(u *models.User) error
	GetUser(id string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)

	// Tasks
	CreateTask(t *models.Task) error
	GetTask(id, ownerID string) (*models.Task, error)
	ListTasks(ownerID string) ([]models.Task, error)
	UpdateTask(t *models.Task) error
	// DeleteTask removes a task and returns the deleted record.
	DeleteTask(id, ownerID string) (*models.Task, error)
	// DeleteCompletedTasks removes all completed tasks of the owner and
	// returns the deleted records.
	DeleteCompletedTasks(ownerID string) ([]models.Task, error)
	// ReorderTasks assigns ascending order values following orderedIDs.
	// IDs not owned by ownerID are ignored.
	ReorderTasks(ownerID string, orderedIDs []string) error
	// MaxTaskOrder returns the highest order value among the owner's tasks,
	// or -1 when the owner has none.
	MaxTaskOrder(ownerID string) (int, error)
	// ListDueTasks returns incomplete tasks whose due date falls in
	// (now, now+horizon], joined with the owner's email address.
	ListDueTasks(now time.Time, horizon time.Duration) ([]models.DueTask, error)
	// CountActiveOwners counts distinct owners with task activity since the
	// given time.
	CountActiveOwners(since time.Time) (int, error)

	JobRepo

	Close() error
}

// New creates a store backend based on the configured DSN. An empty DSN
// yields the in-memory backend.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("store.New: detected PostgreSQL DSN")
		return NewPostgresStore(opts...)
	}
	slog.Debug("store.New: detected SQLite DSN", "db_path", cfg.DSN)
	return NewSQLiteStore(opts...)
}

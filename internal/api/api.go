package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/yokoshima228/todo/internal/auth"
	"github.com/yokoshima228/todo/internal/metrics"
	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/notify"
	"github.com/yokoshima228/todo/internal/reminder"
	"github.com/yokoshima228/todo/internal/schedule"
	"github.com/yokoshima228/todo/internal/store"
)

// DefaultAddr is the default address for the API server to listen on.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	JWTSecret     string
	SweepSchedule string
	SweepOnStart  bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address for the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithJWTSecret sets the secret used to sign session tokens.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) { o.JWTSecret = secret }
}

// WithSweepSchedule overrides the cron expression for the daily due-date sweep.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithSweepOnStart enqueues an immediate due-date sweep at startup, so
// reminders missed while the process was down are rescheduled right away
// instead of waiting for the next recurring sweep.
func WithSweepOnStart() Option {
	return func(o *Opts) { o.SweepOnStart = true }
}

// Server wires the store, auth, metrics, and reminder reconciler behind the
// HTTP handlers.
type Server struct {
	store   store.Store
	jwt     *auth.JWT
	recon   *reminder.Reconciler
	metrics *metrics.Metrics
	addr    string
}

// NewServer creates an API server. The reconciler is consulted after every
// task mutation that can move or remove a reminder.
func NewServer(st store.Store, jwt *auth.JWT, recon *reminder.Reconciler, m *metrics.Metrics, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{store: st, jwt: jwt, recon: recon, metrics: m, addr: addr}
}

// Handler builds the route table. Auth-protected routes are wrapped by the
// JWT middleware; /health and /metrics stay open.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/users/register", s.registerHandler)
	mux.HandleFunc("POST /api/users/login", s.loginHandler)

	mux.HandleFunc("GET /api/todos", s.jwt.RequireAuth(s.listTodosHandler))
	mux.HandleFunc("POST /api/todos", s.jwt.RequireAuth(s.createTodoHandler))
	mux.HandleFunc("GET /api/todos/{id}", s.jwt.RequireAuth(s.getTodoHandler))
	mux.HandleFunc("PUT /api/todos/{id}", s.jwt.RequireAuth(s.updateTodoHandler))
	mux.HandleFunc("PUT /api/todos/reorder", s.jwt.RequireAuth(s.reorderTodosHandler))
	mux.HandleFunc("DELETE /api/todos/{id}", s.jwt.RequireAuth(s.deleteTodoHandler))
	mux.HandleFunc("DELETE /api/todos/complete", s.jwt.RequireAuth(s.deleteCompletedHandler))
	mux.HandleFunc("POST /api/test-notifications", s.jwt.RequireAuth(s.triggerSweepHandler))

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.metrics.Middleware(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// Run bootstraps the whole service: store, notification sender, job runner,
// and HTTP server. It blocks until the context is cancelled or a termination
// signal arrives, then drains in-flight work before returning.
func Run(storeOpts []store.Option, notifyOpts []notify.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = reminder.DefaultSweepSchedule
	}
	if err := schedule.Validate(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	sender, err := notify.NewSender(notifyOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize notification sender: %w", err)
	}

	m := metrics.New()
	recon := reminder.NewReconciler(st)
	notifier := reminder.NewNotifier(st, sender, m)
	sweeper := reminder.NewSweeper(st, m)

	runner := store.NewJobRunner(st, schedule.Next)
	runner.RegisterHandler(reminder.JobDueReminder, notifier.HandleDueReminder)
	runner.RegisterHandler(reminder.JobSweepDueDates, sweeper.SweepDueDates)
	runner.RegisterHandler(reminder.JobActiveUsers, sweeper.UpdateActiveUsers)

	if _, err := runner.ScheduleRecurring(reminder.JobSweepDueDates, "daily", cfg.SweepSchedule, ""); err != nil {
		return fmt.Errorf("failed to schedule due-date sweep: %w", err)
	}
	if _, err := runner.ScheduleRecurring(reminder.JobActiveUsers, "gauge", reminder.ActiveUsersSchedule, ""); err != nil {
		return fmt.Errorf("failed to schedule active-users refresh: %w", err)
	}
	if cfg.SweepOnStart {
		if _, err := st.UpsertJob(reminder.JobSweepDueDates, "startup", time.Now(), "", ""); err != nil {
			return fmt.Errorf("failed to enqueue startup sweep: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Run(ctx)
	}()

	server := NewServer(st, auth.NewJWT(cfg.JWTSecret), recon, m, cfg.Addr)
	httpServer := &http.Server{
		Addr:         server.addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		<-runnerDone
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("api.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api.Run: HTTP shutdown failed", "error", err)
	}
	<-runnerDone
	return nil
}

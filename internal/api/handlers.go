package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yokoshima228/todo/internal/auth"
	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/reminder"
	"github.com/yokoshima228/todo/internal/store"
)

type createTodoRequest struct {
	Title    string              `json:"title"`
	DueDate  *time.Time          `json:"dueDate"`
	Priority models.TaskPriority `json:"priority"`
	Notes    string              `json:"notes"`
	Tags     []string            `json:"tags"`
}

// listTodosHandler returns the caller's tasks in sort order.
func (s *Server) listTodosHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	tasks, err := s.store.ListTasks(userID)
	if err != nil {
		slog.Error("Server.listTodosHandler: failed to list tasks", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list todos"))
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tasks))
}

// createTodoHandler creates a task at the end of the caller's list and
// schedules its reminder when a due date is set.
func (s *Server) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req createTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	maxOrder, err := s.store.MaxTaskOrder(userID)
	if err != nil {
		slog.Error("Server.createTodoHandler: failed to compute task order", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create todo"))
		return
	}
	task := &models.Task{
		Title:    req.Title,
		DueDate:  req.DueDate,
		Priority: req.Priority,
		Notes:    req.Notes,
		Tags:     req.Tags,
		OwnerID:  userID,
		Order:    maxOrder + 1,
	}
	if err := task.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.CreateTask(task); err != nil {
		slog.Error("Server.createTodoHandler: failed to create task", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create todo"))
		return
	}
	s.metrics.TodosCreated.Inc()
	s.reconcile(r, task)
	writeJSONResponse(w, http.StatusCreated, models.Success(task))
}

// getTodoHandler returns a single task owned by the caller.
func (s *Server) getTodoHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")

	task, err := s.store.GetTask(id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Todo not found"))
			return
		}
		slog.Error("Server.getTodoHandler: failed to load task", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load todo"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(task))
}

// updateTodoHandler applies a partial update. Fields absent from the request
// body keep their current values; the reminder is reconciled only when the
// due date or completion state was part of the request.
func (s *Server) updateTodoHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	task, err := s.store.GetTask(id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Todo not found"))
			return
		}
		slog.Error("Server.updateTodoHandler: failed to load task", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update todo"))
		return
	}

	wasCompleted := task.Completed
	if err := applyTaskFields(task, fields); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := task.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.UpdateTask(task); err != nil {
		slog.Error("Server.updateTodoHandler: failed to update task", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update todo"))
		return
	}
	if task.Completed && !wasCompleted {
		s.metrics.TodosCompleted.Inc()
	}

	_, dueChanged := fields["dueDate"]
	_, completedChanged := fields["completed"]
	if dueChanged || completedChanged {
		s.reconcile(r, task)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(task))
}

// applyTaskFields copies recognized fields from a partial update onto the
// task. Unknown fields are ignored.
func applyTaskFields(task *models.Task, fields map[string]json.RawMessage) error {
	for name, raw := range fields {
		var err error
		switch name {
		case "title":
			err = json.Unmarshal(raw, &task.Title)
		case "completed":
			err = json.Unmarshal(raw, &task.Completed)
		case "dueDate":
			task.DueDate = nil
			err = json.Unmarshal(raw, &task.DueDate)
		case "priority":
			err = json.Unmarshal(raw, &task.Priority)
		case "notes":
			err = json.Unmarshal(raw, &task.Notes)
		case "tags":
			task.Tags = nil
			err = json.Unmarshal(raw, &task.Tags)
		}
		if err != nil {
			return errors.New("invalid value for field " + name)
		}
	}
	return nil
}

// deleteTodoHandler removes a task and cancels any jobs keyed by it.
func (s *Server) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := r.PathValue("id")

	task, err := s.store.DeleteTask(id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Todo not found"))
			return
		}
		slog.Error("Server.deleteTodoHandler: failed to delete task", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete todo"))
		return
	}
	s.metrics.TodosDeleted.Inc()
	if err := s.recon.TaskRemoved(task.ID); err != nil {
		slog.Error("Server.deleteTodoHandler: failed to cancel reminder", "taskID", task.ID, "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(task))
}

// deleteCompletedHandler clears all completed tasks for the caller.
func (s *Server) deleteCompletedHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	deleted, err := s.store.DeleteCompletedTasks(userID)
	if err != nil {
		slog.Error("Server.deleteCompletedHandler: failed to delete completed tasks", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete completed todos"))
		return
	}
	for _, t := range deleted {
		s.metrics.TodosDeleted.Inc()
		if err := s.recon.TaskRemoved(t.ID); err != nil {
			slog.Error("Server.deleteCompletedHandler: failed to cancel reminder", "taskID", t.ID, "error", err)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Completed todos deleted", map[string]int{"deleted": len(deleted)}))
}

type reorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

// reorderTodosHandler persists a new sort order for the caller's tasks.
func (s *Server) reorderTodosHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.OrderedIDs) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("orderedIds must be a non-empty list of todo IDs"))
		return
	}
	if err := s.store.ReorderTasks(userID, req.OrderedIDs); err != nil {
		slog.Error("Server.reorderTodosHandler: failed to reorder tasks", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reorder todos"))
		return
	}
	tasks, err := s.store.ListTasks(userID)
	if err != nil {
		slog.Error("Server.reorderTodosHandler: failed to list tasks", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reorder todos"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tasks))
}

// triggerSweepHandler enqueues an immediate due-date sweep. Intended for
// verifying the notification pipeline end to end; the job uses its own key
// so it does not disturb the recurring sweep.
func (s *Server) triggerSweepHandler(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.store.UpsertJob(reminder.JobSweepDueDates, "manual", time.Now(), "", "")
	if err != nil {
		slog.Error("Server.triggerSweepHandler: failed to enqueue sweep", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to trigger notification sweep"))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Notification sweep scheduled", map[string]string{"jobId": jobID}))
}

// reconcile looks up the owner's email and syncs the task's reminder job.
// Reminder failures are logged, not surfaced: the task mutation already
// succeeded and the daily sweep acts as the backstop.
func (s *Server) reconcile(r *http.Request, task *models.Task) {
	owner, err := s.store.GetUser(task.OwnerID)
	if err != nil {
		slog.Error("Server.reconcile: failed to load owner", "taskID", task.ID, "error", err)
		return
	}
	if err := s.recon.TaskChanged(task, owner.Email); err != nil {
		slog.Error("Server.reconcile: failed to reconcile reminder", "taskID", task.ID, "error", err)
	}
}

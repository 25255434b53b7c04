// Package models defines the data structures shared across the todo application.
//
// It contains the task and user records, the due-task sweep projection, and
// the JSON envelopes returned by the HTTP API.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskPriority represents the urgency bucket of a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// User represents a registered account. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Task represents a single todo item owned by a user.
type Task struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Completed bool         `json:"completed"`
	DueDate   *time.Time   `json:"dueDate"`
	Priority  TaskPriority `json:"priority"`
	Notes     string       `json:"notes"`
	Tags      []string     `json:"tags"`
	OwnerID   string       `json:"owner"`
	Order     int          `json:"order"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Validate checks task fields before persistence. An empty priority is
// defaulted to medium rather than rejected.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title must not be empty")
	}
	switch t.Priority {
	case "":
		t.Priority = PriorityMedium
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("invalid task priority %q", t.Priority)
	}
	return nil
}

// DueTask is the projection returned by sweep queries: an incomplete task
// joined with its owner's contact address.
type DueTask struct {
	TaskID     string    `json:"task_id"`
	Title      string    `json:"title"`
	DueDate    time.Time `json:"due_date"`
	OwnerID    string    `json:"owner_id"`
	OwnerEmail string    `json:"owner_email"`
}

// APIStatus represents the status field of an API response envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the uniform JSON envelope returned by all endpoints.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

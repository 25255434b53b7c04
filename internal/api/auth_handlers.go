package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yokoshima228/todo/internal/auth"
	"github.com/yokoshima228/todo/internal/models"
	"github.com/yokoshima228/todo/internal/store"
)

const minPasswordLength = 6

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// registerHandler creates a user account and returns a session token.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("A valid email address is required"))
		return
	}
	if len(req.Password) < minPasswordLength {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Password must be at least 6 characters"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("Server.registerHandler: failed to hash password", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register"))
		return
	}
	user := &models.User{Email: req.Email, PasswordHash: hash}
	if err := s.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeJSONResponse(w, http.StatusConflict, models.Error("An account with this email already exists"))
			return
		}
		slog.Error("Server.registerHandler: failed to create user", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register"))
		return
	}

	token, err := s.jwt.Sign(user.ID)
	if err != nil {
		slog.Error("Server.registerHandler: failed to sign token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register"))
		return
	}
	slog.Info("Server.registerHandler: user registered", "userID", user.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(tokenResponse{Token: token, User: user}))
}

// loginHandler verifies credentials and returns a session token. A missing
// account and a wrong password produce the same response.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid email or password"))
			return
		}
		slog.Error("Server.loginHandler: failed to load user", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to log in"))
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid email or password"))
		return
	}

	token, err := s.jwt.Sign(user.ID)
	if err != nil {
		slog.Error("Server.loginHandler: failed to sign token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to log in"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tokenResponse{Token: token, User: user}))
}

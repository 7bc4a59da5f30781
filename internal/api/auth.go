package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"propcopy/internal/models"
	"propcopy/internal/storage"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	UserID   string `json:"user_id"`
}

// HandleLogin обрабатывает вход оператора
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Валидация
	if req.Username == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.storage.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		h.logger.Error("Failed to get user", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	if err := h.authService.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.issueToken(w, user, "Login successful")
}

// HandleRegister регистрирует оператора
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if len(req.Password) < 8 {
		h.respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	passwordHash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	user, err := h.storage.CreateUser(r.Context(), req.Username, passwordHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			h.respondError(w, http.StatusConflict, "Username already exists")
			return
		}

		h.logger.Error("Failed to create user", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.logger.Info("✅ Operator registered", slog.String("username", user.Username))

	h.issueToken(w, user, "Registration successful")
}

func (h *Handler) issueToken(w http.ResponseWriter, user models.User, message string) {
	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		h.logger.Error("Failed to generate token", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	h.respondSuccess(w, message, LoginResponse{
		Token:    token,
		Username: user.Username,
		UserID:   user.ID,
	})
}

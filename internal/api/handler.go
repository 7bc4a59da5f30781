package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"propcopy/internal/auth"
	"propcopy/internal/compliance"
	"propcopy/internal/copytrading"
	"propcopy/internal/events"
	"propcopy/internal/middleware"
	"propcopy/internal/models"
	"propcopy/internal/platform"
	"propcopy/internal/pool"
)

// Storage - операции хранилища, которые использует API
type Storage interface {
	CreateUser(ctx context.Context, username, passwordHash string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	CreateAccount(ctx context.Context, acc models.Account) (models.Account, error)
	FindAccount(ctx context.Context, id string) (models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	UpdateAccountBalance(ctx context.Context, id string, balance, equity float64) error
	CreateGroup(ctx context.Context, g models.CopyGroup) (models.CopyGroup, error)
	FindGroupByMaster(ctx context.Context, masterAccountID string) (models.CopyGroup, error)
	ListTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error)
}

// CopyTrader - движок копирования
type CopyTrader interface {
	ExecuteCopyTrade(ctx context.Context, masterAccountID string, intent models.TradeIntent) (copytrading.CopyTradeResult, error)
	AddSlave(ctx context.Context, masterAccountID, slaveAccountID string, multiplier float64) (models.Slave, error)
	RemoveSlave(ctx context.Context, masterAccountID, slaveAccountID string) error
}

// Connections - пул брокерских соединений и его телеметрия
type Connections interface {
	Get(ctx context.Context, pl platform.Platform, accountID string) (platform.Client, error)
	LatencyMetrics() []pool.LatencyMetric
	BestPerformingPlatform() (platform.Platform, bool)
	Snapshot() []pool.ConnInfo
}

// Handler обрабатывает API запросы
type Handler struct {
	storage     Storage
	engine      CopyTrader
	conns       Connections
	whitelist   *compliance.Whitelist
	hub         *events.Hub
	authService *auth.Service
	logger      *slog.Logger
}

func New(
	storage Storage,
	engine CopyTrader,
	conns Connections,
	whitelist *compliance.Whitelist,
	hub *events.Hub,
	authService *auth.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		storage:     storage,
		engine:      engine,
		conns:       conns,
		whitelist:   whitelist,
		hub:         hub,
		authService: authService,
		logger:      logger,
	}
}

// Helper функции для JSON ответов

type ErrorResponse struct {
	Error string `json:"error"`
	Data  any    `json:"data,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ownedAccount загружает счёт и проверяет, что он принадлежит текущему оператору.
// Чужой счёт неотличим от отсутствующего.
func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request, id string) (models.Account, bool) {
	userID, _ := middleware.GetUserID(r.Context())

	acc, err := h.storage.FindAccount(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) || (err == nil && acc.UserID != userID) {
		h.respondError(w, http.StatusNotFound, "Account not found")
		return models.Account{}, false
	}
	if err != nil {
		h.logger.Error("Failed to get account", slog.String("id", id), slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
		return models.Account{}, false
	}

	return acc, true
}

// client возвращает клиента платформы счёта из пула
func (h *Handler) client(w http.ResponseWriter, r *http.Request, acc models.Account) (platform.Client, bool) {
	c, err := h.conns.Get(r.Context(), acc.Platform, acc.BrokerAccountID())
	if errors.Is(err, platform.ErrUnsupportedPlatform) {
		h.respondError(w, http.StatusBadRequest, "Platform is not configured: "+string(acc.Platform))
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to get platform client", slog.String("account", acc.ID), slog.Any("error", err))
		h.respondError(w, http.StatusBadGateway, "Platform unavailable")
		return nil, false
	}

	return c, true
}

func (h *Handler) brokerError(w http.ResponseWriter, op string, acc models.Account, err error) {
	h.logger.Error("Broker request failed",
		slog.String("op", op),
		slog.String("account", acc.Name),
		slog.String("platform", string(acc.Platform)),
		slog.Any("error", err))

	var authErr *platform.AuthenticationError
	if errors.As(err, &authErr) {
		h.respondError(w, http.StatusBadGateway, "Broker authentication failed")
		return
	}

	h.respondError(w, http.StatusBadGateway, op+" failed: "+err.Error())
}

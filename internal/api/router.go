package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"propcopy/internal/middleware"
)

// SetupRouter настраивает роутинг для API
func (h *Handler) SetupRouter(allowedOrigins []string) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS(allowedOrigins))

	// Публичные маршруты
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/auth/register", h.HandleRegister).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	auth := middleware.AuthMiddleware(h.authService)

	// WebSocket: токен передается в ?token=
	r.Handle("/ws", auth(http.HandlerFunc(h.HandleWebSocket))).Methods(http.MethodGet)

	// Защищенные маршруты
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)

	// Copy trading
	api.HandleFunc("/copy-trades", h.HandleCopyTrade).Methods(http.MethodPost)
	api.HandleFunc("/groups", h.HandleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{masterId}", h.HandleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{masterId}/slaves", h.HandleAddSlave).Methods(http.MethodPost)
	api.HandleFunc("/groups/{masterId}/slaves/{accountId}", h.HandleRemoveSlave).Methods(http.MethodDelete)

	// Accounts
	api.HandleFunc("/accounts", h.HandleGetAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", h.HandleAddAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/sync", h.HandleSyncAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/positions", h.HandleGetPositions).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/positions/{positionId}/close", h.HandleClosePosition).Methods(http.MethodPost)

	// Trades history
	api.HandleFunc("/trades", h.HandleGetTrades).Methods(http.MethodGet)

	// Telemetry
	api.HandleFunc("/metrics/latency", h.HandleLatencyMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics/best-platform", h.HandleBestPlatform).Methods(http.MethodGet)
	api.HandleFunc("/pool", h.HandlePoolSnapshot).Methods(http.MethodGet)

	// Propfirms
	api.HandleFunc("/propfirms/validate", h.HandleValidatePropfirm).Methods(http.MethodPost)

	return r
}

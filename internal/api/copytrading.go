package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"propcopy/internal/copytrading"
	"propcopy/internal/middleware"
	"propcopy/internal/models"
	"propcopy/internal/platform"
)

type CopyTradeRequest struct {
	MasterAccountID string   `json:"master_account_id"`
	Symbol          string   `json:"symbol"`
	Type            string   `json:"type"`
	RiskPercentage  float64  `json:"risk_percentage"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
	TakeProfit      *float64 `json:"take_profit,omitempty"`
	EntryPrice      *float64 `json:"entry_price,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

type CreateGroupRequest struct {
	Name            string `json:"name"`
	MasterAccountID string `json:"master_account_id"`
}

type AddSlaveRequest struct {
	AccountID  string  `json:"account_id"`
	Multiplier float64 `json:"multiplier"`
}

// HandleCopyTrade исполняет сделку на мастере и копирует её подписчикам
func (h *Handler) HandleCopyTrade(w http.ResponseWriter, r *http.Request) {
	var req CopyTradeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.MasterAccountID == "" {
		h.respondError(w, http.StatusBadRequest, "master_account_id is required")
		return
	}

	side, err := platform.ParseSide(req.Type)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.ownedAccount(w, r, req.MasterAccountID); !ok {
		return
	}

	intent := models.TradeIntent{
		Symbol:         req.Symbol,
		Type:           side,
		RiskPercentage: req.RiskPercentage,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		EntryPrice:     req.EntryPrice,
		Notes:          req.Notes,
	}

	result, err := h.engine.ExecuteCopyTrade(r.Context(), req.MasterAccountID, intent)
	switch {
	case err == nil:
		h.respondSuccess(w, "Copy trade executed", result)

	case errors.Is(err, copytrading.ErrGroupNotFound), errors.Is(err, copytrading.ErrAccountNotFound):
		h.respondError(w, http.StatusNotFound, "copy trading not configured")

	case errors.Is(err, copytrading.ErrInvalidIntent):
		h.respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, copytrading.ErrTradeDenied):
		h.respondError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, copytrading.ErrMasterFailed):
		h.respondJSON(w, http.StatusBadGateway, ErrorResponse{
			Error: "execution failed, see per-account detail",
			Data:  result,
		})

	default:
		h.logger.Error("Copy trade failed", slog.String("master", req.MasterAccountID), slog.Any("error", err))
		h.respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal server error",
			Data:  result,
		})
	}
}

// HandleCreateGroup создает группу копирования для мастер-счёта
func (h *Handler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Name == "" || req.MasterAccountID == "" {
		h.respondError(w, http.StatusBadRequest, "Name and master_account_id are required")
		return
	}

	if _, ok := h.ownedAccount(w, r, req.MasterAccountID); !ok {
		return
	}

	if _, err := h.storage.FindGroupByMaster(r.Context(), req.MasterAccountID); err == nil {
		h.respondError(w, http.StatusConflict, "Account is already a master of a copy group")
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		h.logger.Error("Failed to get group", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	group, err := h.storage.CreateGroup(r.Context(), models.CopyGroup{
		UserID:          userID,
		Name:            req.Name,
		MasterAccountID: req.MasterAccountID,
		IsActive:        true,
	})
	if err != nil {
		h.logger.Error("Failed to create group", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Failed to create group")

		return
	}

	h.respondJSON(w, http.StatusCreated, SuccessResponse{Message: "Copy group created", Data: group})
}

// HandleGetGroup возвращает группу мастера с подписчиками
func (h *Handler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	masterID := mux.Vars(r)["masterId"]

	if _, ok := h.ownedAccount(w, r, masterID); !ok {
		return
	}

	group, err := h.storage.FindGroupByMaster(r.Context(), masterID)
	if errors.Is(err, models.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "copy trading not configured")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get group", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.respondSuccess(w, "", group)
}

// HandleAddSlave подписывает счёт на мастера
func (h *Handler) HandleAddSlave(w http.ResponseWriter, r *http.Request) {
	masterID := mux.Vars(r)["masterId"]

	var req AddSlaveRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Multiplier == 0 {
		req.Multiplier = 1
	}

	if _, ok := h.ownedAccount(w, r, masterID); !ok {
		return
	}
	if _, ok := h.ownedAccount(w, r, req.AccountID); !ok {
		return
	}

	slave, err := h.engine.AddSlave(r.Context(), masterID, req.AccountID, req.Multiplier)
	if err != nil {
		h.slaveError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, SuccessResponse{Message: "Slave added", Data: slave})
}

// HandleRemoveSlave отключает подписчика
func (h *Handler) HandleRemoveSlave(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if _, ok := h.ownedAccount(w, r, vars["masterId"]); !ok {
		return
	}

	if err := h.engine.RemoveSlave(r.Context(), vars["masterId"], vars["accountId"]); err != nil {
		h.slaveError(w, err)
		return
	}

	h.respondSuccess(w, "Slave removed", nil)
}

func (h *Handler) slaveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, copytrading.ErrGroupNotFound):
		h.respondError(w, http.StatusNotFound, "copy trading not configured")
	case errors.Is(err, copytrading.ErrAccountNotFound), errors.Is(err, copytrading.ErrSlaveNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, copytrading.ErrInvalidSlave):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Slave update failed", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// HandleGetTrades возвращает журнал сделок оператора
func (h *Handler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	trades, err := h.storage.ListTrades(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Failed to get trades", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Failed to get trades")

		return
	}

	h.respondSuccess(w, "", trades)
}

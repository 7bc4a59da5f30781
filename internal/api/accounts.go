package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"propcopy/internal/middleware"
	"propcopy/internal/models"
	"propcopy/internal/platform"
)

type AddAccountRequest struct {
	Name          string            `json:"name"`
	PropfirmName  string            `json:"propfirm_name"`
	Platform      string            `json:"platform"`
	AccountNumber string            `json:"account_number"`
	Server        string            `json:"server"`
	Credentials   map[string]string `json:"credentials"`
	Balance       float64           `json:"balance"`
}

// HandleGetAccounts возвращает счета оператора. Учетные данные не отдаются.
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	accounts, err := h.storage.ListAccounts(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get accounts", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Failed to get accounts")

		return
	}

	h.respondSuccess(w, "", accounts)
}

// HandleAddAccount добавляет брокерский счёт
func (h *Handler) HandleAddAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req AddAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Name == "" || req.AccountNumber == "" {
		h.respondError(w, http.StatusBadRequest, "Name and account_number are required")
		return
	}

	p, err := platform.ParsePlatform(req.Platform)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.PropfirmName != "" && h.whitelist != nil {
		if v := h.whitelist.Validate(req.PropfirmName, req.Platform); !v.IsValid {
			h.respondJSON(w, http.StatusForbidden, ErrorResponse{Error: v.Message, Data: v})
			return
		}
	}

	acc, err := h.storage.CreateAccount(r.Context(), models.Account{
		UserID:        userID,
		Name:          req.Name,
		PropfirmName:  req.PropfirmName,
		Platform:      p,
		AccountNumber: req.AccountNumber,
		Server:        req.Server,
		Credentials:   req.Credentials,
		Balance:       req.Balance,
		Equity:        req.Balance,
		IsActive:      true,
	})
	if err != nil {
		h.logger.Error("Failed to add account", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Failed to add account")

		return
	}

	h.respondJSON(w, http.StatusCreated, SuccessResponse{Message: "Account added", Data: acc})
}

// HandleSyncAccount запрашивает баланс у брокера и сохраняет его
func (h *Handler) HandleSyncAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.ownedAccount(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}

	client, ok := h.client(w, r, acc)
	if !ok {
		return
	}

	info, err := client.GetAccountInfo(r.Context())
	if err != nil {
		h.brokerError(w, "Account sync", acc, err)
		return
	}

	if err := h.storage.UpdateAccountBalance(r.Context(), acc.ID, info.Balance, info.Equity); err != nil {
		h.logger.Error("Failed to update balance", slog.String("account", acc.ID), slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "Failed to save balance")

		return
	}

	h.respondSuccess(w, "Account synced", info)
}

// HandleGetPositions возвращает открытые позиции счёта
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.ownedAccount(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}

	client, ok := h.client(w, r, acc)
	if !ok {
		return
	}

	positions, err := client.GetPositions(r.Context())
	if err != nil {
		h.brokerError(w, "Get positions", acc, err)
		return
	}

	if positions == nil {
		positions = []platform.Position{}
	}

	h.respondSuccess(w, "", positions)
}

// HandleClosePosition закрывает позицию на счёте
func (h *Handler) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	acc, ok := h.ownedAccount(w, r, vars["id"])
	if !ok {
		return
	}

	client, ok := h.client(w, r, acc)
	if !ok {
		return
	}

	if err := client.ClosePosition(r.Context(), vars["positionId"]); err != nil {
		var protoErr *platform.ProtocolError
		if errors.As(err, &protoErr) && protoErr.StatusCode == http.StatusNotFound {
			h.respondError(w, http.StatusNotFound, "Position not found")
			return
		}

		h.brokerError(w, "Close position", acc, err)
		return
	}

	h.logger.Info("Position closed",
		slog.String("account", acc.Name),
		slog.String("position", vars["positionId"]))

	h.respondSuccess(w, "Position closed", nil)
}

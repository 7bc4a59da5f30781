package api

import (
	"net/http"

	"propcopy/internal/compliance"
	"propcopy/internal/middleware"
)

type PropfirmRequest struct {
	PropfirmName string `json:"propfirm_name"`
	Platform     string `json:"platform"`
}

type PropfirmResponse struct {
	compliance.ValidationResult
	Rules        []string `json:"rules"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// HandleLatencyMetrics возвращает статистику задержек по платформам
func (h *Handler) HandleLatencyMetrics(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "", h.conns.LatencyMetrics())
}

// HandleBestPlatform возвращает платформу с лучшим соотношением успеха и задержки
func (h *Handler) HandleBestPlatform(w http.ResponseWriter, r *http.Request) {
	best, ok := h.conns.BestPerformingPlatform()
	if !ok {
		h.respondError(w, http.StatusNotFound, "No latency data yet")
		return
	}

	h.respondSuccess(w, "", map[string]string{"platform": string(best)})
}

// HandlePoolSnapshot возвращает состояние соединений пула
func (h *Handler) HandlePoolSnapshot(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "", h.conns.Snapshot())
}

// HandleValidatePropfirm проверяет пропфирму по whitelist
func (h *Handler) HandleValidatePropfirm(w http.ResponseWriter, r *http.Request) {
	var req PropfirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.PropfirmName == "" || req.Platform == "" {
		h.respondError(w, http.StatusBadRequest, "propfirm_name and platform are required")
		return
	}

	v := h.whitelist.Validate(req.PropfirmName, req.Platform)

	resp := PropfirmResponse{
		ValidationResult: v,
		Rules:            h.whitelist.Rules(req.PropfirmName),
	}
	if !v.IsValid {
		resp.Alternatives = h.whitelist.Alternatives(5)
	}

	h.respondSuccess(w, "", resp)
}

// HandleWebSocket подключает оператора к потоку событий движка
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	h.hub.Serve(w, r, userID)
}

// HandleHealth возвращает статус здоровья сервиса
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "OK", map[string]any{
		"status":      "healthy",
		"connections": len(h.conns.Snapshot()),
	})
}

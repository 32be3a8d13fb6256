package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/console/service"
)

type PublicHandler struct {
	service *service.PublicService
	logger  *zap.Logger
}

func NewPublicHandler(s *service.PublicService, logger *zap.Logger) *PublicHandler {
	return &PublicHandler{service: s, logger: logger.Named("public-handler")}
}

// GetReport — GET /v1/agents/{address}/reports/{date}, дата в формате YYYY-MM-DD.
func (h *PublicHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	report, err := h.service.DailyReport(r.Context(), address, date)
	if err != nil {
		h.logger.Error("report lookup failed", zap.String("agent", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "no report for this agent and date")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetCredentials — неистекшие документы агента, сгруппированные по типу.
func (h *PublicHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	creds, err := h.service.Credentials(r.Context(), address)
	if err != nil {
		h.logger.Error("credential lookup failed", zap.String("agent", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func feedLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func (h *PublicHandler) TestFeed(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.TestFeed(r.Context(), feedLimit(r))
	if err != nil {
		h.logger.Error("test feed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PublicHandler) PaymentFeed(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.PaymentFeed(r.Context(), feedLimit(r))
	if err != nil {
		h.logger.Error("payment feed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

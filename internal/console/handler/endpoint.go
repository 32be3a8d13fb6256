package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/registry"
)

type EndpointHandler struct {
	registry *registry.Service
	logger   *zap.Logger
}

func NewEndpointHandler(reg *registry.Service, logger *zap.Logger) *EndpointHandler {
	return &EndpointHandler{registry: reg, logger: logger.Named("endpoint-handler")}
}

type registerEndpointRequest struct {
	AgentAddress string  `json:"agent_address"`
	BaseURL      string  `json:"base_url"`
	Path         string  `json:"path"`
	Method       string  `json:"method"`
	PriceUSDC    float64 `json:"price_usdc"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
}

// Create — регистрация эндпоинта, идемпотентная по URL: повторный вызов
// возвращает 200 с существующей записью вместо 201.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req registerEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	ep, created, err := h.registry.AddEndpoint(r.Context(), &domain.Endpoint{
		AgentAddress: req.AgentAddress,
		BaseURL:      req.BaseURL,
		Path:         req.Path,
		Method:       req.Method,
		PriceUSDC:    req.PriceUSDC,
		Description:  req.Description,
		Category:     domain.Category(req.Category),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("endpoint list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

// Deactivate выводит эндпоинт из ротации проб (записи не удаляются).
func (h *EndpointHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ep, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("endpoint lookup failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "id": id})
}

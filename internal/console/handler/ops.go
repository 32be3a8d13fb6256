package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/console/service"
	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/infra/auth"
)

type OpsHandler struct {
	service *service.OpsService
	logger  *zap.Logger
}

func NewOpsHandler(s *service.OpsService, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{service: s, logger: logger.Named("ops-handler")}
}

// Suppress — POST /v1/agents/{address}/suppress: пауза аудита агента.
func (h *OpsHandler) Suppress(w http.ResponseWriter, r *http.Request) {
	h.setSuppressed(w, r, true)
}

// Unsuppress — POST /v1/agents/{address}/unsuppress.
func (h *OpsHandler) Unsuppress(w http.ResponseWriter, r *http.Request) {
	h.setSuppressed(w, r, false)
}

func (h *OpsHandler) setSuppressed(w http.ResponseWriter, r *http.Request, on bool) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "agent address is required")
		return
	}

	if err := h.service.SetSuppressed(r.Context(), address, on, auth.OperatorID(r.Context())); err != nil {
		h.logger.Error("suppression change failed", zap.String("agent", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agent": address, "suppressed": on})
}

type fraudSignalRequest struct {
	SignalType string `json:"signal_type"`
	Severity   string `json:"severity"`
	Evidence   string `json:"evidence"`
}

// ReportFraud — POST /v1/agents/{address}/fraud-signals. Улики append-only.
func (h *OpsHandler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var req fraudSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	sig, err := h.service.ReportFraudSignal(r.Context(), address,
		domain.FraudSignalType(req.SignalType), domain.FraudSeverity(req.Severity), req.Evidence,
		auth.OperatorID(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

type voteRequest struct {
	Up bool `json:"up"`
}

// Vote — POST /v1/tests/{id}/vote.
func (h *OpsHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	if err := h.service.Vote(r.Context(), id, req.Up, auth.OperatorID(r.Context())); err != nil {
		if errors.Is(err, service.ErrTestNotFound) {
			writeError(w, http.StatusNotFound, "test result not found")
			return
		}
		h.logger.Error("vote failed", zap.String("test_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "counted"})
}

// RunAudit — POST /v1/jobs/audit/run: внеочередной часовой цикл.
func (h *OpsHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if !h.service.RunAudit(auth.OperatorID(r.Context())) {
		writeError(w, http.StatusConflict, "an audit run is already queued")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type runReportRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
}

// RunReport — POST /v1/jobs/report/run: компиляция отчетов за дату.
func (h *OpsHandler) RunReport(w http.ResponseWriter, r *http.Request) {
	var req runReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	if !h.service.RunReport(day, auth.OperatorID(r.Context())) {
		writeError(w, http.StatusConflict, "a report run is already queued")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "date": req.Date})
}

type transferRequest struct {
	Recipient        string `json:"recipient"`
	AmountMinorUnits uint64 `json:"amount_minor_units"`
}

// DebugTransfer — POST /v1/debug/transfer: отладочный нативный перевод.
func (h *OpsHandler) DebugTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.Recipient == "" || req.AmountMinorUnits == 0 {
		writeError(w, http.StatusBadRequest, "recipient and a non-zero amount are required")
		return
	}

	signature, err := h.service.DebugTransfer(r.Context(), req.Recipient, req.AmountMinorUnits, auth.OperatorID(r.Context()))
	if err != nil {
		h.logger.Error("debug transfer failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "transfer failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": signature})
}

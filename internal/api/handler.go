package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/auditwatch/auditwatch/internal/domain"
	"github.com/auditwatch/auditwatch/internal/ledger"
	"github.com/auditwatch/auditwatch/internal/pipeline"
)

// maxCaseBody bounds the accepted case submission size.
const maxCaseBody = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	dispatcher *pipeline.Dispatcher
	ledger     domain.Ledger
	results    domain.CaseResultStore
	bus        domain.EventBus
	cache      domain.Cache
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(dispatcher *pipeline.Dispatcher, led domain.Ledger, results domain.CaseResultStore, bus domain.EventBus, cache domain.Cache, version string) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		ledger:     led,
		results:    results,
		bus:        bus,
		cache:      cache,
		version:    version,
	}
}

// RunCase handles POST /cases. It executes the full detection pipeline
// synchronously and returns the run result.
func (h *Handler) RunCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaseBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}
	if len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body is required",
		})
		return
	}

	res, err := h.dispatcher.Run(ctx, raw)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "case validation failed",
				"fields": verr.Fields,
			})
			return
		}
		if errors.Is(err, domain.ErrLedgerUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "audit ledger unavailable",
			})
			return
		}
		slog.Error("pipeline run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "pipeline run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// submitAck is the response body for an accepted async submission.
type submitAck struct {
	CaseID      string `json:"caseId"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submittedAt"`
}

// SubmitCase handles POST /cases/submit. The case is queued on the bus
// and processed by the worker pool; the audit trail records the outcome.
func (h *Handler) SubmitCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async submission not available",
		})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaseBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	var probe struct {
		CaseID string `json:"case_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if probe.CaseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case_id is required",
		})
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicCaseSubmitted, raw); err != nil {
		slog.Error("failed to publish case submission", "case_id", probe.CaseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue case",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, submitAck{
		CaseID:      probe.CaseID,
		Status:      "accepted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// GetAudit handles GET /cases/{id}/audit and returns the full trail in
// sequence order.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	recs, err := h.ledger.Query(ctx, caseID)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "case id is required",
			})
			return
		}
		slog.Error("audit query failed", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "audit ledger unavailable",
		})
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no audit records for case",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"caseId":  caseID,
		"count":   len(recs),
		"records": recs,
	})
}

// ExportAudit handles GET /cases/{id}/audit/export. The export itself is
// appended to the trail so that disclosure is auditable.
func (h *Handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	format := domain.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = domain.ExportStructured
	}

	recs, err := h.ledger.Query(ctx, caseID)
	if err != nil {
		slog.Error("audit query failed", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "audit ledger unavailable",
		})
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no audit records for case",
		})
		return
	}

	data, err := h.ledger.Export(ctx, caseID, format)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unsupported export format: " + string(format),
			})
			return
		}
		slog.Error("audit export failed", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "audit ledger unavailable",
		})
		return
	}

	if _, err := h.ledger.Append(ctx, domain.AuditRecord{
		CaseID:    caseID,
		Event:     domain.EventExportPerformed,
		Timestamp: time.Now().UTC(),
		Actor:     "api",
		Reasoning: "audit trail exported in " + string(format) + " format",
	}); err != nil {
		slog.Warn("failed to record export event", "case_id", caseID, "error", err)
	}

	switch format {
	case domain.ExportTabular:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetResult handles GET /cases/{id}/result.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	if h.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "result store not available",
		})
		return
	}

	res, err := h.results.GetCaseResult(ctx, caseID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "case result not found",
			})
			return
		}
		slog.Error("failed to get case result", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get case result",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ApproveRequest is the request body for POST /cases/{id}/approve.
type ApproveRequest struct {
	Approver string `json:"approver"`
}

// ApproveCase handles POST /cases/{id}/approve. The draft narrative moves
// to approved and the sign-off lands on the audit trail.
func (h *Handler) ApproveCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	if h.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "result store not available",
		})
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "approver is required",
		})
		return
	}

	if err := h.results.ApproveCaseResult(ctx, caseID, req.Approver); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "case result not found",
			})
			return
		}
		slog.Error("failed to approve case result", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to approve case result",
		})
		return
	}

	if _, err := h.ledger.Append(ctx, domain.AuditRecord{
		CaseID:    caseID,
		Event:     domain.EventNarrativeApproved,
		Timestamp: time.Now().UTC(),
		Actor:     req.Approver,
		Reasoning: "narrative approved by " + req.Approver,
	}); err != nil {
		slog.Warn("failed to record approval event", "case_id", caseID, "error", err)
	}

	res, err := h.results.GetCaseResult(ctx, caseID)
	if err != nil {
		slog.Error("failed to reload approved result", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{
			"caseId": caseID,
			"status": domain.CaseStatusApproved,
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.ledger != nil {
		if err := h.ledger.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

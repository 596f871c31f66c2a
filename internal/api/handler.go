package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/alerting"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/export"
	"github.com/opensource-finance/harrier/internal/ingest"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store        domain.Store
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *ingest.Orchestrator
	lifecycle    *alerting.Lifecycle
	exporter     *export.Writer
	rules        *detect.RuleSet
	maxFileBytes int64
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(
	store domain.Store,
	cache domain.Cache,
	bus domain.EventBus,
	orchestrator *ingest.Orchestrator,
	lifecycle *alerting.Lifecycle,
	rules *detect.RuleSet,
	maxFileBytes int64,
	version string,
) *Handler {
	return &Handler{
		store:        store,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		lifecycle:    lifecycle,
		exporter:     export.NewWriter(store),
		rules:        rules,
		maxFileBytes: maxFileBytes,
		version:      version,
	}
}

// Health returns overall service health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
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

// Upload handles POST /uploads: a multipart batch of transaction files.
// Processing is asynchronous; the response carries the job ID to poll.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Multipart memory window; larger parts spill to temp files that
	// net/http removes when the handler returns, hence the buffering
	// below.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid multipart request: " + err.Error(),
		})
		return
	}

	var files []ingest.UploadFile
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			uf := ingest.UploadFile{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
			}

			// Oversized files are rejected by the orchestrator on Size
			// alone; skip buffering them.
			if h.maxFileBytes > 0 && header.Size > h.maxFileBytes {
				uf.Data = bytes.NewReader(nil)
				files = append(files, uf)
				continue
			}

			f, err := header.Open()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("failed to open %q: %v", header.Filename, err),
				})
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("failed to read %q: %v", header.Filename, err),
				})
				return
			}
			uf.Data = bytes.NewReader(data)
			files = append(files, uf)
		}
	}

	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "no files in upload",
		})
		return
	}

	// Detach from the request context so processing survives the
	// response being written.
	job, err := h.orchestrator.Submit(context.WithoutCancel(ctx), files)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("upload accepted",
		"job_id", job.ID,
		"files", len(files),
	)
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// GetUpload returns the status of an upload job.
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, ok := h.orchestrator.GetJob(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "upload job not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, job.Snapshot())
}

// CancelUpload requests cooperative cancellation of a running job.
// Workers stop between records; already-completed files keep their
// results. Cancelling a finished job is a no-op.
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if !h.orchestrator.CancelJob(jobID) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "upload job not found",
		})
		return
	}

	slog.Info("upload cancellation requested", "job_id", jobID)
	job, _ := h.orchestrator.GetJob(jobID)
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// GetTransaction retrieves a scored transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.store.GetTransaction(r.Context(), txID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ExportTransactions streams all stored transactions as CSV.
func (h *Handler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("transactions-%s.csv", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	n, err := h.exporter.WriteAll(r.Context(), w)
	if err != nil {
		// Headers are already out; log and abandon the stream.
		slog.Error("export failed", "rows_written", n, "error", err)
		return
	}

	slog.Info("transactions exported", "rows", n)
}

// DeleteTransactions removes every stored transaction.
func (h *Handler) DeleteTransactions(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAllTransactions(r.Context()); err != nil {
		slog.Error("failed to delete transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete transactions",
		})
		return
	}

	slog.Info("all transactions deleted")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "all transactions deleted",
	})
}

// ListAlerts returns alerts matching the query filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		AccountID: q.Get("account"),
		Type:      domain.AlertType(q.Get("type")),
		Severity:  domain.Severity(q.Get("severity")),
		Status:    domain.AlertStatus(q.Get("status")),
		OpenOnly:  q.Get("open") == "true",
	}

	alerts, err := h.lifecycle.List(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	alert, err := h.lifecycle.Get(r.Context(), alertID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get alert", "id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// AlertSummary returns aggregate alert counts.
func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.lifecycle.Summary(r.Context())
	if err != nil {
		slog.Error("failed to build alert summary", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build alert summary",
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// TransitionRequest is the body for POST /alerts/{id}/transition.
type TransitionRequest struct {
	Status domain.AlertStatus `json:"status"`
}

// TransitionAlert moves an alert through its lifecycle.
func (h *Handler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !alerting.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown alert status %q", req.Status),
		})
		return
	}

	alert, err := h.lifecycle.Transition(r.Context(), alertID, req.Status)
	if err != nil {
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":     invalid.Error(),
				"current":   string(invalid.Current),
				"requested": string(invalid.Requested),
			})
		default:
			slog.Error("failed to transition alert", "id", alertID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to transition alert",
			})
		}
		return
	}

	slog.Info("alert transitioned",
		"alert_id", alertID,
		"status", alert.Status,
	)
	writeJSON(w, http.StatusOK, alert)
}

// ListRules returns the custom detector rules loaded into the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	rules := h.rules.Loaded()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Flag        string  `json:"flag"`
	Score       float64 `json:"score"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates and persists a custom detector rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Flag:        req.Flag,
		Score:       req.Score,
		Enabled:     req.Enabled,
	}

	// Compile check before anything is persisted.
	if err := h.rules.Validate(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.store.SaveRuleConfig(r.Context(), cfg); err != nil {
		slog.Error("failed to save rule", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all enabled custom rules from the store.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	configs, err := h.store.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules from store", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from store",
		})
		return
	}

	if err := h.rules.Reload(configs); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", h.rules.Count())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.rules.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

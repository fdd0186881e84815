package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/repository"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine     *rules.Engine
	pipeline   *worker.Pipeline
	repo       domain.Repository
	ruleWriter domain.RuleWriter
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	pipeline := deps.Pipeline
	if pipeline == nil {
		pipeline = worker.NewPipeline(deps.Engine, nil, nil)
	}
	return &Handler{
		engine:     deps.Engine,
		pipeline:   pipeline,
		repo:       deps.Repo,
		ruleWriter: deps.RuleWriter,
		bus:        deps.Bus,
		version:    deps.Version,
	}
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	*domain.EvaluationResult
	Status   string `json:"status"`
	Metadata struct {
		TraceID string `json:"trace_id"`
		TotalMs int64  `json:"total_ms"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// decodeTransaction reads and validates a transaction body. A missing
// transaction_id is replaced with a new uuid.
func decodeTransaction(r *http.Request) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		return nil, errors.New("invalid JSON request body")
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	return &tx, nil
}

// Evaluate handles POST /evaluate: synchronous evaluation of one transaction.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	tx, err := decodeTransaction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	annotateTransaction(r.Context(), tx.ID)

	result, err := h.pipeline.Process(ctx, tx)
	if err != nil {
		slog.Error("evaluation side effects failed", "tx_id", tx.ID, "error", err)
	}

	resp := EvaluateResponse{
		EvaluationResult: result,
		Status:           result.Status(),
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Ingest handles POST /transactions: the transaction is queued on the event
// bus for the worker and 202 is returned.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	tx, err := decodeTransaction(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	annotateTransaction(r.Context(), tx.ID)

	payload, err := json.Marshal(tx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode transaction")
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish transaction", "tx_id", tx.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue transaction")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": tx.ID,
		"status":         "queued",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			status, checks["repository"] = "degraded", err.Error()
		}
	}
	if h.bus != nil {
		checks["event_bus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			status, checks["event_bus"] = "degraded", err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports ready once a rule set has been loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	loadedAt := h.engine.LoadedAt()
	if loadedAt.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":       true,
		"rules_count": h.engine.RulesCount(),
		"loaded_at":   loadedAt,
	})
}

// GetEvaluation returns the stored check record for a transaction.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")
	annotateTransaction(r.Context(), txID)
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	check, err := h.repo.GetCheck(r.Context(), txID)
	if err != nil {
		h.writeStoreError(w, "evaluation", txID, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// ListAlerts returns the alerts raised for a transaction.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")
	annotateTransaction(r.Context(), txID)
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	alerts, err := h.repo.ListAlerts(r.Context(), txID)
	if err != nil {
		h.writeStoreError(w, "alerts", txID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ListRules returns the active rules in evaluation order. With ?all=true it
// lists every stored rule, inactive ones included.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	if all {
		if h.ruleWriter == nil {
			writeError(w, http.StatusConflict, "rule store is read-only")
			return
		}
		stored, err := h.ruleWriter.ListRules(r.Context())
		if err != nil {
			slog.Error("failed to list rules", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list rules")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rules": stored, "count": len(stored)})
		return
	}

	active := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":     active,
		"count":     len(active),
		"loaded_at": h.engine.LoadedAt(),
	})
}

// GetRule returns an active rule, falling back to the rule store so that
// deactivated rules can still be inspected.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if rule, ok := h.engine.Rule(ruleID); ok {
		writeJSON(w, http.StatusOK, rule)
		return
	}
	if h.ruleWriter != nil {
		rule, err := h.ruleWriter.GetRule(r.Context(), ruleID)
		if err == nil {
			writeJSON(w, http.StatusOK, rule)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			h.writeStoreError(w, "rule", ruleID, err)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Threshold   *float64        `json:"threshold,omitempty"`
}

// CreateRule validates a rule by compiling it, stores it and reloads the
// engine so it takes effect immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ruleWriter == nil {
		writeError(w, http.StatusConflict, "rule store is read-only")
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "name and type are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	rule := &domain.Rule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Type:        domain.ParseRuleType(req.Type),
		Condition:   req.Condition,
		Threshold:   req.Threshold,
		Active:      true,
	}
	if !rule.Type.Known() {
		writeError(w, http.StatusBadRequest, "unknown rule type: "+req.Type)
		return
	}
	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.ruleWriter.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}
	for _, other := range existing {
		if other.Name == rule.Name && other.ID != rule.ID {
			writeError(w, http.StatusConflict, "a rule named "+rule.Name+" already exists")
			return
		}
	}

	if err := h.ruleWriter.SaveRule(ctx, rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}
	slog.Info("rule saved", "rule_id", rule.ID, "name", rule.Name, "type", string(rule.Type))

	if !h.reload(w, r) {
		return
	}
	saved, ok := h.engine.Rule(rule.ID)
	if !ok {
		saved = rule
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteRule deactivates a rule and reloads the engine. The rule row and its
// alerts are kept.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if h.ruleWriter == nil {
		writeError(w, http.StatusConflict, "rule store is read-only")
		return
	}

	if err := h.ruleWriter.DeactivateRule(r.Context(), ruleID); err != nil {
		h.writeStoreError(w, "rule", ruleID, err)
		return
	}
	slog.Info("rule deactivated", "rule_id", ruleID)

	if !h.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     ruleID,
		"active": false,
	})
}

// ReloadRules reloads the active rules from the rule store.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "rules reloaded",
		"rules_count": h.engine.RulesCount(),
		"loaded_at":   h.engine.LoadedAt(),
	})
}

// reload refreshes the engine and writes an error response on failure.
func (h *Handler) reload(w http.ResponseWriter, r *http.Request) bool {
	err := h.engine.ReloadRules(r.Context())
	if err == nil {
		return true
	}

	slog.Error("rule reload failed", "error", err)
	var loadErr *rules.RuleLoadError
	if errors.As(err, &loadErr) {
		writeError(w, http.StatusServiceUnavailable, loadErr.Error())
	} else {
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return false
}

// RuleMetrics returns the live per-rule metrics.
func (h *Handler) RuleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.engine.Metrics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": metrics,
		"count":   len(metrics),
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, what, id string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("store request failed", "kind", what, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

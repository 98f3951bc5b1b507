// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/metrics"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/adiadia/crm-automation/internal/transport/middleware"
	"github.com/adiadia/crm-automation/internal/workflowdef"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Workflows     store.Collection[domain.Workflow]
	Runs          RunReader
	Automation    Automation
	Notifications Notifier
	Health        HealthChecker
	Logger        *slog.Logger
	Now           func() time.Time
	AdminToken    string
	Version       string
	Commit        string
	BuildDate     string
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	h := &handlers{deps: deps, logger: logger, now: now}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				writeProblem(w, r, http.StatusServiceUnavailable, "unhealthy", "schema not ready")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- ADMIN ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.createWorkflow)
			r.Get("/", h.listWorkflows)
			r.Get("/{id}", h.getWorkflow)
			r.Put("/{id}", h.replaceWorkflow)
			r.Post("/{id}/activate", h.setWorkflowActive(true))
			r.Post("/{id}/deactivate", h.setWorkflowActive(false))
			r.Delete("/{id}", h.deleteWorkflow)
		})

		r.Post("/events", h.handleEvent)
		r.Post("/sweeps/automation", h.automationSweep)
		r.Post("/sweeps/notifications", h.notificationSweep)

		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)

		r.Post("/prospects/{id}/score", h.scoreProspect)

		r.Post("/notifications", h.scheduleNotification)
		r.Get("/notifications", h.listNotifications)
		r.Post("/notifications/{id}/resend", h.resendNotification)
	})

	return r
}

// ---------------- WORKFLOWS ----------------

func (h *handlers) createWorkflow(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	wf, err := workflowdef.Decode(raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	created, err := h.deps.Workflows.Create(r.Context(), wf)
	if err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "create workflow", err))
		return
	}
	h.deps.Automation.InvalidateWorkflows()

	h.logger.Info("workflow created via API", "workflow_id", created.ID, "trigger_type", created.TriggerType)
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) listWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var items []domain.Workflow
	if active := strings.TrimSpace(r.URL.Query().Get("active")); active != "" {
		on, perr := strconv.ParseBool(active)
		if perr != nil {
			badRequest(w, r, "invalid active filter")
			return
		}
		items, err = h.deps.Workflows.Filter(r.Context(), store.Query{"active": on}, r.URL.Query().Get("sort"), limit)
	} else {
		items, err = h.deps.Workflows.List(r.Context(), r.URL.Query().Get("sort"), limit)
	}
	if err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "list workflows", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": items})
}

func (h *handlers) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}
	wf, err := h.deps.Workflows.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "get workflow", err))
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *handlers) replaceWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	fields, err := workflowdef.ReplacementFields(raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	updated, err := h.deps.Workflows.Update(r.Context(), id, fields)
	if err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "update workflow", err))
		return
	}
	h.deps.Automation.InvalidateWorkflows()

	h.logger.Info("workflow replaced via API", "workflow_id", id)
	writeJSON(w, http.StatusOK, updated)
}

func (h *handlers) setWorkflowActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "workflow")
		if !ok {
			return
		}
		updated, err := h.deps.Workflows.Update(r.Context(), id, map[string]any{"active": active})
		if err != nil {
			writeError(w, r, h.logger, domain.External("entity_store", "update workflow", err))
			return
		}
		h.deps.Automation.InvalidateWorkflows()

		h.logger.Info("workflow activation changed via API", "workflow_id", id, "active", active)
		writeJSON(w, http.StatusOK, updated)
	}
}

func (h *handlers) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}
	if err := h.deps.Workflows.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "delete workflow", err))
		return
	}
	h.deps.Automation.InvalidateWorkflows()

	h.logger.Info("workflow deleted via API", "workflow_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- EVENTS & SWEEPS ----------------

func (h *handlers) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if err := decodeJSON(r, &ev); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}

	report, err := h.deps.Automation.HandleEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) automationSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Automation.Sweep(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) notificationSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Notifications.Sweep(r.Context(), h.now().UTC())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---------------- RUNS ----------------

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	filter := domain.RunFilter{
		Status: domain.RunStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Limit:  limit,
	}
	switch filter.Status {
	case "", domain.RunRunning, domain.RunSuspended, domain.RunCompleted, domain.RunFailed, domain.RunCanceled:
	default:
		badRequest(w, r, "invalid status")
		return
	}
	for param, dst := range map[string]*uuid.UUID{"workflow_id": &filter.WorkflowID, "prospect_id": &filter.ProspectID} {
		v := strings.TrimSpace(q.Get(param))
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			badRequest(w, r, "invalid "+param)
			return
		}
		*dst = id
	}

	runs, err := h.deps.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "list runs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "run")
	if !ok {
		return
	}
	run, err := h.deps.Runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, domain.External("entity_store", "get run", err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ---------------- SCORING ----------------

func (h *handlers) scoreProspect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "prospect")
	if !ok {
		return
	}
	result, report, err := h.deps.Automation.Rescore(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"score":  result,
		"report": report,
	})
}

// ---------------- NOTIFICATIONS ----------------

func (h *handlers) scheduleNotification(w http.ResponseWriter, r *http.Request) {
	var n domain.ScheduledNotification
	if err := decodeJSON(r, &n); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	created, err := h.deps.Notifications.Schedule(r.Context(), n)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	failed, err := strconv.ParseBool(valueOrDefault(r.URL.Query().Get("failed"), "false"))
	if err != nil || !failed {
		badRequest(w, r, "only failed=true listing is supported")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	items, err := h.deps.Notifications.Failed(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *handlers) resendNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "notification")
	if !ok {
		return
	}
	n, err := h.deps.Notifications.Resend(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// ---------------- HELPERS ----------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(w http.ResponseWriter, r *http.Request, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "invalid "+kind+" ID")
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, errors.New("request body is required")
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	return raw, nil
}

func decodeJSON(r *http.Request, v any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}

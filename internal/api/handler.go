// Package api exposes the local HTTP control surface: status queries, run
// history, and the manual commands (run now, post-backup actions, reload).
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dfaust/backup-monitor/internal/domain"
)

// Run history pagination defaults and limits.
const (
	DefaultRunLimit = 50
	MaxRunLimit     = 500
)

// StatusSource provides the latest published status snapshot.
type StatusSource interface {
	Snapshot() ([]domain.JobStatus, domain.AggregateStatus)
}

// CommandSink accepts commands for the scheduler. Emit returns an error
// when the event buffer is full.
type CommandSink interface {
	Emit(ctx context.Context, event domain.Event) error
}

// RunHistory serves recorded runs. Optional; a nil history disables the
// runs endpoint.
type RunHistory interface {
	ListRuns(ctx context.Context, job string, limit int) ([]domain.RunRecord, error)
}

type Handler struct {
	status   StatusSource
	commands CommandSink
	history  RunHistory
}

func NewHandler(status StatusSource, commands CommandSink) *Handler {
	return &Handler{status: status, commands: commands}
}

// WithHistory enables the run history endpoint.
func (h *Handler) WithHistory(history RunHistory) *Handler {
	h.history = history
	return h
}

// Router builds the route table. The /metrics endpoint is mounted by the
// caller so the handler stays free of the metrics dependency.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Post("/reload", h.reload)

		r.Route("/jobs/{name}", func(r chi.Router) {
			r.Get("/runs", h.listRuns)
			r.Post("/run", h.runNow)
			r.Post("/actions/{index}", h.executeAction)
			r.Delete("/actions", h.dismissActions)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	jobs, aggregate := h.status.Snapshot()
	if jobs == nil {
		jobs = []domain.JobStatus{}
	}
	writeJSON(w, http.StatusOK, StatusResponse{Jobs: jobs, Aggregate: aggregate})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	name, ok := h.jobName(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.history.ListRuns(r.Context(), name, limit)
	if err != nil {
		log.Printf("api: list runs for %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request) {
	name, ok := h.jobName(w, r)
	if !ok {
		return
	}
	h.emit(w, r, domain.RunNow{Job: name})
}

func (h *Handler) executeAction(w http.ResponseWriter, r *http.Request) {
	name, ok := h.jobName(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "action index must be a non-negative integer")
		return
	}

	h.emit(w, r, domain.ExecutePostAction{Job: name, Index: index})
}

func (h *Handler) dismissActions(w http.ResponseWriter, r *http.Request) {
	name, ok := h.jobName(w, r)
	if !ok {
		return
	}
	h.emit(w, r, domain.DismissPostActions{Job: name})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	h.emit(w, r, domain.ReloadRequested{})
}

// emit queues a command and answers 202; the scheduler applies it
// asynchronously.
func (h *Handler) emit(w http.ResponseWriter, r *http.Request, event domain.Event) {
	if err := h.commands.Emit(r.Context(), event); err != nil {
		log.Printf("api: emit %s: %v", event.Kind(), err)
		writeError(w, http.StatusServiceUnavailable, "command queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

// jobName resolves the path parameter against the known jobs, answering
// 404 for names absent from the current configuration.
func (h *Handler) jobName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "job name is required")
		return "", false
	}

	jobs, _ := h.status.Snapshot()
	for _, job := range jobs {
		if job.Name == name {
			return name, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown job: "+name)
	return "", false
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultRunLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errInvalidLimit
	}
	if limit == 0 {
		return DefaultRunLimit, nil
	}
	if limit > MaxRunLimit {
		return 0, errLimitTooLarge
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Package ipc provides the HTTP API over backdp runs.
package ipc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/guard"
	"github.com/rogersf/backdp/internal/store"
	"github.com/rogersf/backdp/internal/workflow"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Runner          *workflow.Runner
	DB              *sql.DB
	RunRepo         *store.RunRepo
	EventRepo       *store.EventRepo
	PolicyRepo      *store.PolicyRepo
	PerformanceRepo *store.PerformanceRepo

	// Guard admits run creation when set.
	Guard *guard.Guard

	// Metrics serves /metrics when set.
	Metrics http.Handler

	pollInterval time.Duration
}

// NewHandler wires a Handler around runner's database.
func NewHandler(runner *workflow.Runner, metrics http.Handler) *Handler {
	return &Handler{
		Runner:          runner,
		DB:              runner.Engine.DB,
		RunRepo:         runner.Engine.RunRepo,
		EventRepo:       runner.Engine.EventRepo,
		PolicyRepo:      runner.PolicyRepo,
		PerformanceRepo: runner.PerformanceRepo,
		Metrics:         metrics,
		pollInterval:    2 * time.Second,
	}
}

// RunResponse is the body returned by POST /api/v1/runs.
type RunResponse struct {
	Run         *domain.Run               `json:"run"`
	Performance *domain.PerformanceRecord `json:"performance,omitempty"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, APIError{Code: 503, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRun handles POST /api/v1/runs. The body is a clearance parameter set;
// the run is built, solved and simulated before the response is written.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var params clearance.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	if h.Guard != nil {
		release, err := h.Guard.Admit(clientHost(r), params)
		if err != nil {
			writeError(w, err)
			return
		}
		defer release()
	}

	out, err := h.Runner.Execute(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := out.Performance.Record(out.Run.RunID)
	writeJSON(w, http.StatusCreated, RunResponse{Run: out.Run, Performance: &rec})
}

// ListRuns handles GET /api/v1/runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	runs, err := h.RunRepo.List(r.Context(), h.DB, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.RunRepo.GetByID(r.Context(), h.DB, r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListEvents handles GET /api/v1/runs/{runID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "since_seq must be a non-negative integer"})
			return
		}
		sinceSeq = parsed
	}

	if _, err := h.RunRepo.GetByID(r.Context(), h.DB, runID); err != nil {
		writeError(w, err)
		return
	}
	events, err := h.EventRepo.ListByRun(r.Context(), h.DB, runID, sinceSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// StreamEvents handles GET /api/v1/runs/{runID}/events/stream (SSE).
// The stream ends once the run reaches a terminal status.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	lastSeq := int64(0)
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		events, err := h.EventRepo.ListByRun(ctx, h.DB, runID, lastSeq)
		if err != nil {
			writeSSEError(w, flusher, err)
			return
		}
		for _, ev := range events {
			writeSSEEvent(w, flusher, ev)
			lastSeq = ev.SeqNo
		}

		run, err := h.RunRepo.GetByID(ctx, h.DB, runID)
		if err != nil {
			writeSSEError(w, flusher, err)
			return
		}
		if run.Status.IsTerminal() && run.LastEventSeq <= lastSeq {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// GetPolicy handles GET /api/v1/runs/{runID}/policy?step=&inventory=&price=.
// Without inventory and price it returns every entry of the step.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	q := r.URL.Query()

	step, err := strconv.Atoi(q.Get("step"))
	if err != nil || step < 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "step must be a non-negative integer"})
		return
	}

	if _, err := h.RunRepo.GetByID(r.Context(), h.DB, runID); err != nil {
		writeError(w, err)
		return
	}

	if q.Get("inventory") == "" && q.Get("price") == "" {
		entries, err := h.PolicyRepo.ListByStep(r.Context(), h.DB, runID, step)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []domain.PolicyEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	inv, errInv := strconv.Atoi(q.Get("inventory"))
	price, errPrice := strconv.Atoi(q.Get("price"))
	if errInv != nil || errPrice != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "inventory and price must both be integers"})
		return
	}

	key := clearance.State{Inventory: inv, PriceIndex: price}.String()
	entry, err := h.PolicyRepo.Get(r.Context(), h.DB, runID, step, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetPerformance handles GET /api/v1/runs/{runID}/performance.
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	run, err := h.RunRepo.GetByID(r.Context(), h.DB, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.PerformanceRepo.GetByRun(r.Context(), h.DB, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, APIError{
			Code:    404,
			Message: fmt.Sprintf("run %s has no performance record (status %s)", runID, run.Status),
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// clientHost identifies the caller for rate limiting.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrRunNotFound.Code, domain.ErrPolicyNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateRun.Code, domain.ErrOptimisticLock.Code:
			status = http.StatusConflict
		case domain.ErrInvalidParams.Code:
			status = http.StatusBadRequest
		case domain.ErrRateLimitExceeded.Code, domain.ErrRunLimitReached.Code:
			status = http.StatusTooManyRequests
		case domain.ErrModelTooLarge.Code:
			status = http.StatusRequestEntityTooLarge
		case domain.ErrInvalidTransition.Code, domain.ErrRunAlreadyDone.Code,
			domain.ErrInvalidDistribution.Code, domain.ErrDanglingTransition.Code,
			domain.ErrInfeasibleState.Code, domain.ErrShapeMismatch.Code,
			domain.ErrSimulation.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.RunEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}

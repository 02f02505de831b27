package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/checkgate/internal/application"
	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	checks   *application.CheckService
	checkers *application.CheckerService
	pending  *application.PendingChecksService
	submit   *application.SubmitRule
	db       Pinger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. db and m may
// be nil.
func NewHandler(
	checks *application.CheckService,
	checkers *application.CheckerService,
	pending *application.PendingChecksService,
	submit *application.SubmitRule,
	db Pinger,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		checks:   checks,
		checkers: checkers,
		pending:  pending,
		submit:   submit,
		db:       db,
		metrics:  m,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging, metrics and recovery middleware.
//
// Repositories are addressed as {owner}/{repo}. Checker UUIDs containing a
// slash must be sent percent-encoded.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	const patchSet = "/api/v1/repos/{owner}/{repo}/changes/{change}/patchsets/{patchset}"
	mux.HandleFunc("GET "+patchSet+"/checks", h.ListChecks)
	mux.HandleFunc("POST "+patchSet+"/checks", h.PostCheck)
	mux.HandleFunc("GET "+patchSet+"/checks/{checker}", h.GetCheck)
	mux.HandleFunc("POST "+patchSet+"/checks/{checker}/rerun", h.RerunCheck)
	mux.HandleFunc("POST "+patchSet+"/checks/{checker}/override", h.OverrideCheck)
	mux.HandleFunc("GET "+patchSet+"/combined", h.GetPatchSetCombinedState)

	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/changes/{change}/combined", h.GetChangeCombinedState)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/changes/{change}/submit", h.EvaluateSubmit)

	mux.HandleFunc("GET /api/v1/checkers", h.ListCheckers)
	mux.HandleFunc("POST /api/v1/checkers", h.CreateChecker)
	mux.HandleFunc("GET /api/v1/checkers/{checker}", h.GetChecker)
	mux.HandleFunc("PATCH /api/v1/checkers/{checker}", h.UpdateChecker)
	mux.HandleFunc("DELETE /api/v1/checkers/{checker}", h.DeleteChecker)

	mux.HandleFunc("GET /api/v1/pending", h.QueryPending)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = metricsMiddleware(h.metrics, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// ListChecks returns the checks of a patch set. Pass backfill=false to list
// stored checks only.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	repo, ps, ok := patchSetFrom(w, r)
	if !ok {
		return
	}
	backfill := r.URL.Query().Get("backfill") != "false"

	details, err := h.checks.GetCheckDetails(r.Context(), repo, ps, application.GetChecksOptions{Backfill: backfill})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]CheckResponse, 0, len(details))
	for _, d := range details {
		resp = append(resp, toCheckDetailResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCheck returns a single check, backfilled unless backfill=false.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	repo, ps, ok := patchSetFrom(w, r)
	if !ok {
		return
	}
	uuid, err := model.ParseCheckerUUID(r.PathValue("checker"))
	if err != nil {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	backfill := r.URL.Query().Get("backfill") != "false"

	key := model.CheckKey{Repository: repo, PatchSet: ps, CheckerUUID: uuid}
	d, err := h.checks.GetCheck(r.Context(), key, application.GetChecksOptions{Backfill: backfill})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckDetailResponse(*d))
}

// PostCheck creates or updates the check named in the body.
func (h *Handler) PostCheck(w http.ResponseWriter, r *http.Request) {
	repo, ps, ok := patchSetFrom(w, r)
	if !ok {
		return
	}
	var req PostCheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	check, err := h.checks.PostCheck(r.Context(), repo, ps, req.CheckerUUID, update)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckResponse(*check))
}

// RerunCheck resets a check so its checker picks it up again.
func (h *Handler) RerunCheck(w http.ResponseWriter, r *http.Request) {
	repo, ps, ok := patchSetFrom(w, r)
	if !ok {
		return
	}

	check, err := h.checks.RerunCheck(r.Context(), repo, ps, r.PathValue("checker"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckResponse(*check))
}

// OverrideCheck waives a check on behalf of the requesting identity.
func (h *Handler) OverrideCheck(w http.ResponseWriter, r *http.Request) {
	repo, ps, ok := patchSetFrom(w, r)
	if !ok {
		return
	}
	var req OverrideRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	check, err := h.checks.OverrideCheck(r.Context(), repo, ps, r.PathValue("checker"), req.Overrider, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckResponse(*check))
}

// GetPatchSetCombinedState computes the combined check state of a patch set.
func (h *Handler) GetPatchSetCombinedState(w http.ResponseWriter, r *http.Request) {
	repo, ps, ok := patchSetFrom(w, r)
	if !ok {
		return
	}

	state, err := h.checks.CombinedStateOfPatchSet(r.Context(), repo, ps)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CombinedStateResponse{
		Repository: repo,
		Change:     ps.Change,
		PatchSet:   ps.Number,
		State:      string(state),
		Passing:    state.IsPassing(),
	})
}

// GetChangeCombinedState returns the combined check state of a change's
// current patch set.
func (h *Handler) GetChangeCombinedState(w http.ResponseWriter, r *http.Request) {
	repo := repoFrom(r)
	number, err := strconv.Atoi(r.PathValue("change"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid change number")
		return
	}

	change, state, err := h.checks.CombinedStateOfChange(r.Context(), repo, number)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CombinedStateResponse{
		Repository: repo,
		Change:     change.Number,
		PatchSet:   change.CurrentPatchSet.ID.Number,
		State:      string(state),
		Passing:    state.IsPassing(),
	})
}

// EvaluateSubmit runs the submit rule on a change.
func (h *Handler) EvaluateSubmit(w http.ResponseWriter, r *http.Request) {
	repo := repoFrom(r)
	number, err := strconv.Atoi(r.PathValue("change"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid change number")
		return
	}

	rec, err := h.submit.Evaluate(r.Context(), repo, number)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmitRecordResponse(rec))
}

// QueryPending returns checks matching the query parameter.
func (h *Handler) QueryPending(w http.ResponseWriter, r *http.Request) {
	results, err := h.pending.Query(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]PendingChecksResponse, 0, len(results))
	for _, pc := range results {
		resp = append(resp, toPendingChecksResponse(pc))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health reports whether the server can reach its database. It answers 503
// when the database does not respond within two seconds.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Database: "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "component", "database", "error", err)
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// writeServiceError maps service errors to status codes. Unexpected errors
// are logged and reported as 500 without details.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidInput), errors.Is(err, application.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrResourceConflict), errors.Is(err, driven.ErrDuplicateKey):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, driven.ErrLockFailure):
		writeError(w, http.StatusServiceUnavailable, "concurrent update, please retry")
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// repoFrom joins the owner and repo path segments.
func repoFrom(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("repo")
}

// patchSetFrom parses the repository and patch set path segments, writing a
// 400 response on failure.
func patchSetFrom(w http.ResponseWriter, r *http.Request) (string, model.PatchSetID, bool) {
	change, err := strconv.Atoi(r.PathValue("change"))
	if err != nil || change <= 0 {
		writeError(w, http.StatusBadRequest, "invalid change number")
		return "", model.PatchSetID{}, false
	}
	number, err := strconv.Atoi(r.PathValue("patchset"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "invalid patch set number")
		return "", model.PatchSetID{}, false
	}
	return repoFrom(r), model.PatchSetID{Change: change, Number: number}, true
}

package httphandler

import (
	"net/http"
)

// ListCheckers returns all checkers, optionally restricted by the scheme
// query parameter.
func (h *Handler) ListCheckers(w http.ResponseWriter, r *http.Request) {
	checkers, err := h.checkers.List(r.Context(), r.URL.Query().Get("scheme"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]CheckerResponse, 0, len(checkers))
	for _, c := range checkers {
		resp = append(resp, toCheckerResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetChecker returns a single checker.
func (h *Handler) GetChecker(w http.ResponseWriter, r *http.Request) {
	c, err := h.checkers.Get(r.Context(), r.PathValue("checker"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCheckerResponse(*c))
}

// CreateChecker registers a new checker.
func (h *Handler) CreateChecker(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	update, err := req.CheckerFields.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.checkers.Create(r.Context(), req.UUID, update)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCheckerResponse(*c))
}

// UpdateChecker applies a partial update to a checker.
func (h *Handler) UpdateChecker(w http.ResponseWriter, r *http.Request) {
	var req CheckerFields
	if !decodeAndValidate(w, r, &req) {
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.checkers.Update(r.Context(), r.PathValue("checker"), update)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCheckerResponse(*c))
}

// DeleteChecker removes a checker's ref. Disable a checker to retire it;
// deletion is meant for administrative corrections.
func (h *Handler) DeleteChecker(w http.ResponseWriter, r *http.Request) {
	if err := h.checkers.Delete(r.Context(), r.PathValue("checker")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

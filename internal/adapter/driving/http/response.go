package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/checkgate/internal/application"
	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// CheckResponse is the JSON representation of a check.
type CheckResponse struct {
	Repository  string             `json:"repository"`
	Change      int                `json:"change"`
	PatchSet    int                `json:"patch_set"`
	CheckerUUID string             `json:"checker_uuid"`
	State       string             `json:"state"`
	Message     string             `json:"message,omitempty"`
	MessageHTML string             `json:"message_html,omitempty"`
	URL         string             `json:"url,omitempty"`
	Started     string             `json:"started,omitempty"`
	Finished    string             `json:"finished,omitempty"`
	Created     string             `json:"created"`
	Updated     string             `json:"updated"`
	Overrides   []OverrideResponse `json:"overrides"`
	Backfilled  bool               `json:"backfilled"`

	// Checker details -- populated on read endpoints only.
	CheckerName     string `json:"checker_name,omitempty"`
	CheckerStatus   string `json:"checker_status,omitempty"`
	Blocking        bool   `json:"blocking"`
	Overridden      bool   `json:"overridden"`
	OverrideMessage string `json:"override_message,omitempty"`
}

// OverrideResponse is the JSON representation of a check override.
type OverrideResponse struct {
	Overrider string `json:"overrider"`
	Reason    string `json:"reason"`
	Created   string `json:"created"`
}

// CheckerResponse is the JSON representation of a checker.
type CheckerResponse struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Repository  string   `json:"repository"`
	Status      string   `json:"status"`
	Blocking    []string `json:"blocking"`
	Query       string   `json:"query,omitempty"`
	Created     string   `json:"created"`
	Updated     string   `json:"updated"`
}

// CombinedStateResponse is the JSON representation of a combined check state.
type CombinedStateResponse struct {
	Repository string `json:"repository"`
	Change     int    `json:"change"`
	PatchSet   int    `json:"patch_set"`
	State      string `json:"state"`
	Passing    bool   `json:"passing"`
}

// SubmitRecordResponse is the JSON representation of a submit record.
type SubmitRecordResponse struct {
	Status        string                `json:"status"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	CombinedState string                `json:"combined_state,omitempty"`
	Requirements  []RequirementResponse `json:"requirements"`
}

// RequirementResponse is the JSON representation of a submit requirement.
type RequirementResponse struct {
	Type         string `json:"type"`
	FallbackText string `json:"fallback_text"`
}

// PendingChecksResponse lists the matching checks of one patch set.
type PendingChecksResponse struct {
	Repository string            `json:"repository"`
	Change     int               `json:"change"`
	PatchSet   int               `json:"patch_set"`
	Checks     map[string]string `json:"checks"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// toCheckResponse converts a domain Check to its JSON representation.
func toCheckResponse(c model.Check) CheckResponse {
	overrides := make([]OverrideResponse, 0, len(c.Overrides))
	for _, o := range c.Overrides {
		overrides = append(overrides, OverrideResponse{
			Overrider: o.Overrider,
			Reason:    o.Reason,
			Created:   formatTime(o.Created),
		})
	}

	return CheckResponse{
		Repository:  c.Key.Repository,
		Change:      c.Key.PatchSet.Change,
		PatchSet:    c.Key.PatchSet.Number,
		CheckerUUID: c.Key.CheckerUUID.String(),
		State:       string(c.State),
		Message:     c.Message,
		MessageHTML: renderMessage(c.Message),
		URL:         c.URL,
		Started:     formatTime(c.Started),
		Finished:    formatTime(c.Finished),
		Created:     formatTime(c.Created),
		Updated:     formatTime(c.Updated),
		Overrides:   overrides,
		Backfilled:  c.Backfilled,
	}
}

// toCheckDetailResponse adds the checker details to toCheckResponse.
func toCheckDetailResponse(d application.CheckDetail) CheckResponse {
	resp := toCheckResponse(d.Check)
	resp.CheckerName = d.Checker.Name
	resp.CheckerStatus = string(d.Checker.Status)
	resp.Blocking = d.Required
	resp.Overridden = d.Override.Overridden
	resp.OverrideMessage = d.Override.Message
	return resp
}

// toCheckerResponse converts a domain Checker to its JSON representation.
func toCheckerResponse(c model.Checker) CheckerResponse {
	blocking := make([]string, 0, len(c.BlockingConditions))
	for _, bc := range c.BlockingConditions {
		blocking = append(blocking, string(bc))
	}

	return CheckerResponse{
		UUID:        c.UUID.String(),
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		Repository:  c.Repository,
		Status:      string(c.Status),
		Blocking:    blocking,
		Query:       c.Query,
		Created:     formatTime(c.Created),
		Updated:     formatTime(c.Updated),
	}
}

// toSubmitRecordResponse converts a submit record to its JSON representation.
func toSubmitRecordResponse(rec application.SubmitRecord) SubmitRecordResponse {
	reqs := make([]RequirementResponse, 0, len(rec.Requirements))
	for _, r := range rec.Requirements {
		reqs = append(reqs, RequirementResponse{Type: r.Type, FallbackText: r.FallbackText})
	}

	return SubmitRecordResponse{
		Status:        string(rec.Status),
		ErrorMessage:  rec.ErrorMessage,
		CombinedState: string(rec.CombinedState),
		Requirements:  reqs,
	}
}

// toPendingChecksResponse converts pending checks to their JSON representation.
func toPendingChecksResponse(pc application.PendingChecks) PendingChecksResponse {
	checks := make(map[string]string, len(pc.Checks))
	for uuid, state := range pc.Checks {
		checks[uuid] = string(state)
	}

	return PendingChecksResponse{
		Repository: pc.Repository,
		Change:     pc.PatchSet.Change,
		PatchSet:   pc.PatchSet.Number,
		Checks:     checks,
	}
}

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trailence/trailence-back-sub001/internal/errs"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: RequestIDFromCtx(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP. Internal details are logged by the
// caller and never written to the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		writeProblem(w, r, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, errs.ErrInvalidArgument):
		writeProblem(w, r, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeProblem(w, r, http.StatusConflict, "Conflict", "")
	default:
		writeProblem(w, r, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

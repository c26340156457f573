package web

// errors.go turns service errors into JSON responses. The technical error
// is logged with the request ID; the client gets the mapped UserMessage and,
// for validation failures, the offending field, lines and values.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/zootally/internal/tally"
	mw "github.com/JonMunkholm/zootally/internal/web/middleware"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Action  string        `json:"action,omitempty"`
	Code    string        `json:"code"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails locates a validation failure in the upload.
type ErrorDetails struct {
	Reason string   `json:"reason"`
	Field  string   `json:"field,omitempty"`
	Lines  []int    `json:"lines,omitempty"`
	Values []string `json:"values,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var verr *tally.ValidationError
	var aerr *tally.ApplyError
	switch {
	case errors.As(err, &verr):
		if verr.Code == tally.CodeFileTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, tally.ErrStagedNotFound):
		return http.StatusNotFound
	case errors.Is(err, tally.ErrNoExportData):
		return http.StatusNotFound
	case errors.Is(err, tally.ErrTooManyIngests):
		return http.StatusServiceUnavailable
	case errors.As(err, &aerr):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its mapped message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := tally.MapError(err)

	log := mw.RequestLogger(r)
	attrs := []any{"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error(), "code", msg.Code}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	resp := ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code}
	var verr *tally.ValidationError
	if errors.As(err, &verr) {
		resp.Details = &ErrorDetails{
			Reason: string(verr.Code),
			Field:  verr.Field,
			Lines:  verr.Lines,
			Values: verr.Values,
		}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, r, status, resp)
}

// writeError writes a request error that never reached the service.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	mw.RequestLogger(r).Warn("request rejected", "path", r.URL.Path, "status", status, "reason", message)
	writeJSON(w, r, status, ErrorResponse{Error: message, Message: message, Code: "REQ000"})
}

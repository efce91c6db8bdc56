package web

// errors.go turns errors into JSON responses. The technical error is logged
// with the request id; the client gets the core.MapError message and code.

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/core"
	"github.com/JonMunkholm/docmapper/internal/logging"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrMappingNotFound), errors.Is(err, core.ErrLoadNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyLoads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrEmptySource):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrSchema), errors.Is(err, backend.ErrBackend):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user message with statusFor(err).
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorMessage(w, r, err, statusFor(err))
}

func respondErrorMessage(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request error", "path", r.URL.Path, "method", r.Method, "status", status, "error", err, "code", msg.Code)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "method", r.Method, "status", status, "error", err, "code", msg.Code)
	}

	resp := ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code}
	// Schema and source problems are the caller's to fix, so show them.
	if status == http.StatusUnprocessableEntity {
		resp.Details = err.Error()
	}
	writeJSONStatus(w, r, status, resp)
}

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	writeJSONStatus(w, r, http.StatusOK, v)
}

// writeJSONStatus encodes v with status. Encoding errors are only logged
// since the header is already sent.
func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}

// clientIP returns the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

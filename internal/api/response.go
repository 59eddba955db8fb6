package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"datebook/internal/metrics"
	"datebook/internal/store"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope. Messages carries the
// per-field list for validation failures.
type errorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store error kinds to HTTP statuses: validation
// failures carry every violated rule so the UI can show per-field messages.
func writeStoreError(w http.ResponseWriter, err error) {
	var ve *store.ValidationError
	var nf *store.NotFoundError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:    "event validation failed",
			Messages: ve.Errors,
		})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		metrics.RequestDuration.Observe(float64(elapsed.Milliseconds()))
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

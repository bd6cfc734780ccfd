package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/b0r1v0j3/workers-united/internal/matching"
	"github.com/b0r1v0j3/workers-united/internal/verify"
	"github.com/b0r1v0j3/workers-united/pkg/ollama"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, matching.ErrDuplicatePayment):
		return http.StatusOK
	case errors.Is(err, matching.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, matching.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, matching.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, matching.ErrValidation),
		errors.Is(err, matching.ErrInvalidTransition),
		errors.Is(err, verify.ErrNoDocuments):
		return http.StatusBadRequest
	case errors.Is(err, ollama.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status its kind maps to. Internal errors
// are logged and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("err", err),
		)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	writeJSON(w, errorResponse{Error: msg}, status)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, errorResponse{Error: msg}, http.StatusBadRequest)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeJSON reads a JSON body of at most 1 MiB, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

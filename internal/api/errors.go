// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/logging"
)

// errorResponse is the structured JSON error body for every non-2xx response
// (spec §6): {success:false, error, message, timestamp}.
type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// statusForError maps the apperrors taxonomy to an HTTP status code per
// spec §7: ValidationError/TypeError -> 400, everything else -> 500.
func statusForError(err error) (int, string) {
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "validation_error"
	}
	var mk *apperrors.MissingKeyError
	if errors.As(err, &mk) {
		return http.StatusInternalServerError, "missing_key"
	}
	var te *apperrors.TypeError
	if errors.As(err, &te) {
		return http.StatusBadRequest, "type_error"
	}
	var pe *apperrors.PersistenceError
	if errors.As(err, &pe) {
		return http.StatusInternalServerError, "persistence_error"
	}
	var ce *apperrors.ConfigError
	if errors.As(err, &ce) {
		return http.StatusInternalServerError, "config_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind string, err error) {
	if status >= http.StatusInternalServerError {
		logging.CtxErr(r.Context(), err).Str("kind", kind).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Success:   false,
		Error:     kind,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeErrorFromErr(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusForError(err)
	writeError(w, r, status, kind, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

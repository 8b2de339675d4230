package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"voicetotext-service/internal/apperr"
	"voicetotext-service/internal/models"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response body")
	}
}

// writeError maps err onto a status code and a {"detail": ...} body.
// Server-side failures are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)

	if code >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, code, models.ErrorResponse{Detail: err.Error()})
}

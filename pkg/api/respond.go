package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/log"
)

// envelope is the JSON shape every API operation answers with. Data and
// Message are mutually optional; Error and Code appear only on failure.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("failed to encode response")
	}
}

// respond writes a success envelope with the given data.
func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// respondMessage writes a success envelope carrying a human message and,
// optionally, data.
func respondMessage(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// respondError converts a service error into its HTTP shape. This is the
// single place where error kinds become status codes; unclassified errors
// are masked as internal.
func respondError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), envelope{
		Success: false,
		Error:   apperrors.MessageOf(err),
		Code:    apperrors.CodeOf(err),
	})
}

// decode parses the JSON request body into dst. Malformed bodies are the
// caller's fault, never a 500.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	return nil
}

// nullable renders an unset ID as JSON null instead of "".
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

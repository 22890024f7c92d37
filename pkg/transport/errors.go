package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
)

var ErrMalformedBody = model.NewValidationError("body", "malformed JSON request body")

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	response := errorResponse{Error: err.Error()}

	var validation *model.ValidationError
	if errors.As(err, &validation) {
		response.Field = validation.Field
	}

	entry := log.WithError(err).WithFields(log.Fields{"method": r.Method, "url": r.URL.String(), "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		if errors.Is(err, model.ErrProvider) {
			response.Error = "payment provider error, please try again"
		} else {
			response.Error = "internal server error"
		}
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		return ErrMalformedBody
	}
	return nil
}

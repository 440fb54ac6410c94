package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/profiles"
	"github.com/clofast/clofast/internal/requestctx"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// StatusFor maps an error to its HTTP status and response code.
func StatusFor(err error) (int, string) {
	if errors.Is(err, profiles.ErrInvalidInput) {
		return http.StatusBadRequest, "BAD_REQUEST"
	}

	switch apperr.KindOf(err) {
	case apperr.KindInvalidTimestamp:
		return http.StatusBadRequest, "INVALID_TIMESTAMP"
	case apperr.KindInvalidFrequency:
		return http.StatusBadRequest, "INVALID_FREQUENCY"
	case apperr.KindInvalidTrigger:
		return http.StatusBadRequest, "INVALID_TRIGGER"
	case apperr.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperr.KindDuplicateID:
		return http.StatusConflict, "DUPLICATE_ID"
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// Fail writes err as an error response. Server-side failures are logged and
// their detail withheld from the client.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	if status < http.StatusInternalServerError {
		Error(w, status, code, err.Error())
		return
	}

	requestctx.Logger(r.Context()).Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")

	message := "internal server error"
	if status == http.StatusServiceUnavailable {
		message = "store unavailable, retry later"
	}
	Error(w, status, code, message)
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	CodeUnauthorized      = "unauthorized"
	CodeInvalidRequest    = "invalid_request"
	CodeInvalidPlan       = "invalid_plan"
	CodeNotFound          = "not_found"
	CodeSessionIncomplete = "session_incomplete"
	CodeForbidden         = "forbidden"
	CodeProviderError     = "provider_error"
	CodeInternal          = "internal"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg, Code: code})
}

// decodeBody reads an optional JSON body into dst and validates it. An empty
// body leaves dst zero-valued.
func decodeBody(r *http.Request, validate *validator.Validate, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return validate.Struct(dst)
}

// writeServiceError maps service errors onto the API's status codes.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var pe *service.ProviderError
	switch {
	case errors.Is(err, service.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, CodeInvalidPlan, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrSessionIncomplete):
		writeError(w, http.StatusConflict, CodeSessionIncomplete, err.Error())
	case errors.Is(err, service.ErrMissingProviderSubscription):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, service.ErrSessionOwnerMismatch):
		writeError(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.As(err, &pe):
		logger.Warn().Err(pe.Err).Str("message", pe.Message).Msg("Payment provider call failed")
		writeJSON(w, http.StatusBadGateway, dto.ErrorResponse{Error: pe.Message, Code: CodeProviderError, Details: pe.Err.Error()})
	default:
		logger.Error().Err(err).Msg("Unhandled service error")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

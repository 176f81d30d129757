// Package handlers holds JSON response helpers shared by the HTTP handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Error   string                 `json:"error"`
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// WriteErrorMessage writes a plain error without a domain code
func WriteErrorMessage(w http.ResponseWriter, logger *zap.Logger, status int, code, message string) {
	WriteJSON(w, logger, status, ErrorResponse{Code: code, Error: message})
}

// WriteError maps err to a status and writes it. Internal errors are
// logged and never exposed to the client.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusForError(err)

	var domainErr *domain.DomainError
	if status == http.StatusInternalServerError || !errors.As(err, &domainErr) {
		logger.Error("Request failed", zap.Error(err))
		WriteErrorMessage(w, logger, status, string(domain.ErrorCodeInternalError), "internal server error")
		return
	}

	resp := ErrorResponse{Code: string(domainErr.Code), Error: domainErr.Message}
	if len(domainErr.Details) > 0 {
		resp.Details = domainErr.Details
	}
	WriteJSON(w, logger, status, resp)
}

// StatusForError maps domain error codes to HTTP statuses
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case domain.IsInvalidStateError(err), errors.Is(err, domain.ErrDuplicateRefund):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrGatewayDeclined):
		return http.StatusPaymentRequired
	case domain.IsValidationError(err),
		errors.Is(err, domain.ErrPromoInvalid),
		errors.Is(err, domain.ErrPlanInactive),
		errors.Is(err, domain.ErrNoEligibleRefund):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatewayTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrGatewayError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FailedOperationResponse carries the committed record of an operation that
// failed at the gateway alongside the error.
type FailedOperationResponse struct {
	Result interface{} `json:"result"`
	ErrorResponse
}

// WriteErrorWithResult writes err and, when the operation left a committed
// record behind, that record too.
func WriteErrorWithResult(w http.ResponseWriter, logger *zap.Logger, err error, result interface{}) {
	var domainErr *domain.DomainError
	if result == nil || !errors.As(err, &domainErr) {
		WriteError(w, logger, err)
		return
	}
	WriteJSON(w, logger, StatusForError(err), FailedOperationResponse{
		ErrorResponse: ErrorResponse{Code: string(domainErr.Code), Error: domainErr.Message, Details: domainErr.Details},
		Result:        result,
	})
}

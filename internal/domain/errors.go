package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// User Errors (USER_*)
	ErrorCodeUserNotFound      ErrorCode = "USER_NOT_FOUND"
	ErrorCodeInsufficientFunds ErrorCode = "USER_INSUFFICIENT_FUNDS"

	// Plan Errors (PLAN_*)
	ErrorCodePlanNotFound  ErrorCode = "PLAN_NOT_FOUND"
	ErrorCodePlanInactive  ErrorCode = "PLAN_INACTIVE"
	ErrorCodePlanImmutable ErrorCode = "PLAN_TERMS_IMMUTABLE"

	// Subscription Errors (SUB_*)
	ErrorCodeSubscriptionNotFound     ErrorCode = "SUB_NOT_FOUND"
	ErrorCodeSubscriptionInvalidState ErrorCode = "SUB_INVALID_STATE"

	// Transaction Errors (TXN_*)
	ErrorCodeTxnNotFound         ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnInvalidState     ErrorCode = "TXN_INVALID_STATE"
	ErrorCodeTxnAlreadyProcessed ErrorCode = "TXN_ALREADY_PROCESSED"

	// Refund Errors (REFUND_*)
	ErrorCodeDuplicateRefund  ErrorCode = "REFUND_DUPLICATE"
	ErrorCodeNoEligibleRefund ErrorCode = "REFUND_NOT_ELIGIBLE"

	// Promo Code Errors (PROMO_*)
	ErrorCodePromoInvalid ErrorCode = "PROMO_INVALID"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayError    ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayTimeout  ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayDeclined ErrorCode = "GATEWAY_DECLINED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so call sites can
// compare against the sentinels below with errors.Is.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeUserNotFound ||
		code == ErrorCodePlanNotFound ||
		code == ErrorCodeSubscriptionNotFound ||
		code == ErrorCodeTxnNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodePlanImmutable ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField
}

// IsInvalidStateError checks if an error rejects an operation because of the
// current state of a subscription or transaction.
func IsInvalidStateError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeSubscriptionInvalidState ||
		code == ErrorCodeTxnInvalidState ||
		code == ErrorCodeTxnAlreadyProcessed
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayError ||
		code == ErrorCodeGatewayTimeout ||
		code == ErrorCodeGatewayDeclined
}

// Sentinels for errors.Is comparisons. Never attach details to these
// directly; build a fresh error with NewDomainError instead.
var (
	ErrUserNotFound      = NewDomainError(ErrorCodeUserNotFound, "user not found")
	ErrInsufficientFunds = NewDomainError(ErrorCodeInsufficientFunds, "insufficient funds")

	ErrPlanNotFound  = NewDomainError(ErrorCodePlanNotFound, "subscription plan not found")
	ErrPlanInactive  = NewDomainError(ErrorCodePlanInactive, "subscription plan is not available")
	ErrPlanImmutable = NewDomainError(ErrorCodePlanImmutable, "plan price and duration cannot change")

	ErrSubscriptionNotFound     = NewDomainError(ErrorCodeSubscriptionNotFound, "subscription not found")
	ErrSubscriptionInvalidState = NewDomainError(ErrorCodeSubscriptionInvalidState, "subscription is in invalid state for this operation")

	ErrTxnNotFound         = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrTxnInvalidState     = NewDomainError(ErrorCodeTxnInvalidState, "transaction is in invalid state for this operation")
	ErrTxnAlreadyProcessed = NewDomainError(ErrorCodeTxnAlreadyProcessed, "transaction already processed")

	ErrDuplicateRefund  = NewDomainError(ErrorCodeDuplicateRefund, "subscription already has a completed refund")
	ErrNoEligibleRefund = NewDomainError(ErrorCodeNoEligibleRefund, "transaction is not eligible for a refund")

	ErrPromoInvalid = NewDomainError(ErrorCodePromoInvalid, "invalid promo code")

	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrGatewayError    = NewDomainError(ErrorCodeGatewayError, "payment gateway error")
	ErrGatewayTimedOut = NewDomainError(ErrorCodeGatewayTimeout, "payment gateway timeout")
	ErrGatewayDeclined = NewDomainError(ErrorCodeGatewayDeclined, "payment declined by gateway")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)

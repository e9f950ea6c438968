package service

import (
	"errors"
	"fmt"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_FAILED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeDuplicateIMEI     Code = "DUPLICATE_IMEI"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeCustomerNotFound  Code = "CUSTOMER_NOT_FOUND"
	CodeDeviceNotFound    Code = "DEVICE_NOT_FOUND"
	CodeAdminNotFound     Code = "ADMIN_NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeConflict          Code = "CONFLICT"
	CodeAPKNotFound       Code = "APK_NOT_FOUND"
	CodeChecksumFailed    Code = "CHECKSUM_FAILED"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
)

// Error is the typed failure every service returns to the HTTP boundary.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, msg string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

func wrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code carried by err, or "" for untyped errors.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// classify turns repository and domain failures into typed errors.
// notFound is the code to use when the record itself is missing.
func classify(err error, notFound Code, msg string) error {
	var se *Error
	var te *domain.TransitionError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return se
	case errors.Is(err, repository.ErrNotFound):
		return wrapError(notFound, msg, err)
	case errors.Is(err, repository.ErrDuplicateIMEI):
		return wrapError(CodeDuplicateIMEI, "imei1 is already bound to another customer", err)
	case errors.As(err, &te):
		return &Error{
			Code:    CodeInvalidTransition,
			Message: te.Error(),
			Details: map[string]interface{}{"from": te.From, "to": te.To},
			Err:     err,
		}
	case errors.Is(err, repository.ErrAlreadyExists):
		return wrapError(CodeConflict, "record already exists", err)
	case errors.Is(err, repository.ErrConflict):
		return wrapError(CodeConflict, "record changed concurrently, retry", err)
	default:
		return wrapError(CodeStoreUnavailable, msg, err)
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"

	"emilock-server/internal/service"
	"emilock-server/pkg/response"

	"go.uber.org/zap"
)

var statusByCode = map[service.Code]int{
	service.CodeValidation:        http.StatusBadRequest,
	service.CodeQuotaExceeded:     http.StatusConflict,
	service.CodeDuplicateIMEI:     http.StatusConflict,
	service.CodeInvalidTransition: http.StatusConflict,
	service.CodeConflict:          http.StatusConflict,
	service.CodeCustomerNotFound:  http.StatusNotFound,
	service.CodeDeviceNotFound:    http.StatusNotFound,
	service.CodeAdminNotFound:     http.StatusNotFound,
	service.CodeForbidden:         http.StatusForbidden,
	service.CodeUnauthorized:      http.StatusUnauthorized,
	service.CodeAPKNotFound:       http.StatusInternalServerError,
	service.CodeChecksumFailed:    http.StatusInternalServerError,
	service.CodeStoreUnavailable:  http.StatusServiceUnavailable,
}

// StatusOf maps a service error code to its HTTP status.
func StatusOf(code service.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError renders err in the response envelope. Server-side failures are
// logged with their cause; the client only sees the message and code.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		if errors.Is(err, context.DeadlineExceeded) {
			se = &service.Error{Code: service.CodeChecksumFailed, Message: "request timed out", Err: err}
		} else {
			se = &service.Error{Code: service.CodeStoreUnavailable, Message: "internal error", Err: err}
		}
	}

	status := StatusOf(se.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", string(se.Code)),
			zap.Error(err),
		)
	}

	var details interface{}
	if len(se.Details) > 0 {
		details = se.Details
	}
	response.Coded(w, status, string(se.Code), se.Message, details)
}

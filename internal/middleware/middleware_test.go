package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"emilock-server/internal/domain"
	"emilock-server/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: &service.Error{Code: service.CodeValidation, Message: "bad"}, status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "quota", err: &service.Error{Code: service.CodeQuotaExceeded, Message: "full"}, status: http.StatusConflict, code: "QUOTA_EXCEEDED"},
		{name: "duplicate imei", err: &service.Error{Code: service.CodeDuplicateIMEI}, status: http.StatusConflict, code: "DUPLICATE_IMEI"},
		{name: "transition", err: &service.Error{Code: service.CodeInvalidTransition}, status: http.StatusConflict, code: "INVALID_TRANSITION"},
		{name: "customer missing", err: &service.Error{Code: service.CodeCustomerNotFound}, status: http.StatusNotFound, code: "CUSTOMER_NOT_FOUND"},
		{name: "device missing", err: &service.Error{Code: service.CodeDeviceNotFound}, status: http.StatusNotFound, code: "DEVICE_NOT_FOUND"},
		{name: "forbidden", err: &service.Error{Code: service.CodeForbidden}, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "unauthorized", err: &service.Error{Code: service.CodeUnauthorized}, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "apk missing", err: &service.Error{Code: service.CodeAPKNotFound}, status: http.StatusInternalServerError, code: "APK_NOT_FOUND"},
		{name: "store down", err: &service.Error{Code: service.CodeStoreUnavailable}, status: http.StatusServiceUnavailable, code: "STORE_UNAVAILABLE"},
		{name: "wrapped typed error", err: fmt.Errorf("handler: %w", &service.Error{Code: service.CodeForbidden}), status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "untyped error", err: errors.New("connection refused"), status: http.StatusServiceUnavailable, code: "STORE_UNAVAILABLE"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusInternalServerError, code: "CHECKSUM_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)

			WriteError(rec, req, zap.NewNop(), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeEnvelope(t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", nil)

	WriteError(rec, req, zap.NewNop(), &service.Error{
		Code:    service.CodeQuotaExceeded,
		Message: "device limit reached",
		Details: map[string]interface{}{"current": 5, "limit": 5},
	})

	body := decodeEnvelope(t, rec)
	assert.Equal(t, "device limit reached", body.Error)
	assert.Equal(t, float64(5), body.Details["current"])
	assert.Equal(t, float64(5), body.Details["limit"])
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.2:5555", want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "10.0.0.2:5555", want: "198.51.100.4"},
		{name: "socket", remote: "192.0.2.10:41234", want: "192.0.2.10"},
		{name: "socket without port", remote: "192.0.2.10", want: "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heartbeat", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

type stubAuthenticator map[string]*domain.AdminUser

func (s stubAuthenticator) Authenticate(ctx context.Context, token string) (*domain.AdminUser, error) {
	if admin, ok := s[token]; ok {
		return admin, nil
	}
	return nil, &service.Error{Code: service.CodeUnauthorized}
}

var (
	superAdmin = &domain.AdminUser{ID: "root", Role: domain.RoleSuperAdmin}
	dealer     = &domain.AdminUser{ID: "dealer-1", Role: domain.RoleAdmin, DeviceLimit: 2}
	auth       = stubAuthenticator{"super-token": superAdmin, "dealer-token": dealer}
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		upgrade bool
		status  int
	}{
		{name: "bearer", header: "Bearer dealer-token", status: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer dealer-token", status: http.StatusNoContent},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic dealer-token", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "query token on upgrade", query: "?token=dealer-token", upgrade: true, status: http.StatusNoContent},
		{name: "query token without upgrade", query: "?token=dealer-token", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *domain.AdminUser
			h := AuthMiddleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetAdmin(r)
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, dealer.ID, seen.ID)
			} else {
				assert.Equal(t, "UNAUTHORIZED", decodeEnvelope(t, rec).Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := AuthMiddleware(auth)(RequireRole(domain.RoleSuperAdmin)(okHandler()))

	for token, status := range map[string]int{
		"super-token":  http.StatusNoContent,
		"dealer-token": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admins", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, status, rec.Code, token)
	}

	rec := httptest.NewRecorder()
	RequireRole(domain.RoleAdmin)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fixedUsage struct {
	usage domain.Usage
	err   error
	calls int
}

func (f *fixedUsage) Check(ctx context.Context, actor *domain.AdminUser) (domain.Usage, error) {
	f.calls++
	return f.usage, f.err
}

func TestDeviceLimitMiddleware(t *testing.T) {
	t.Run("admitted request carries usage", func(t *testing.T) {
		guard := &fixedUsage{usage: domain.Usage{Current: 1, Limit: 2, Remaining: 1}}
		var attached bool
		h := AuthMiddleware(auth)(DeviceLimitMiddleware(guard, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, attached = service.UsageFromContext(r.Context())
			w.WriteHeader(http.StatusCreated)
		})))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", nil)
		req.Header.Set("Authorization", "Bearer dealer-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, attached)
		assert.Equal(t, "2", rec.Header().Get("X-Device-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-Device-Count"))
	})

	t.Run("over the limit", func(t *testing.T) {
		guard := &fixedUsage{err: &service.Error{
			Code:    service.CodeQuotaExceeded,
			Message: "device limit reached",
			Details: map[string]interface{}{"current": 2, "limit": 2},
		}}
		h := AuthMiddleware(auth)(DeviceLimitMiddleware(guard, zap.NewNop())(okHandler()))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", nil)
		req.Header.Set("Authorization", "Bearer dealer-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decodeEnvelope(t, rec)
		assert.Equal(t, "QUOTA_EXCEEDED", body.Code)
		assert.Equal(t, float64(2), body.Details["limit"])
	})

	t.Run("preflight skips the check", func(t *testing.T) {
		guard := &fixedUsage{}
		rec := httptest.NewRecorder()
		DeviceLimitMiddleware(guard, zap.NewNop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/customers", nil))
		assert.Equal(t, 0, guard.calls)
	})
}

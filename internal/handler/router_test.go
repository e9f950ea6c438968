package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"emilock-server/internal/config"
	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
	"emilock-server/internal/service"
	"emilock-server/internal/websocket"
	"emilock-server/pkg/apkhash"
	"emilock-server/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "router-test-secret"

type testServer struct {
	handler http.Handler
	store   *repository.MemoryStore
	tokens  map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	log := zap.NewNop()
	ctx := context.Background()

	tokens := make(map[string]string)
	for _, admin := range []*domain.AdminUser{
		{ID: "root", Username: "root", Email: "root@example.com", Role: domain.RoleSuperAdmin},
		{ID: "A1", Username: "a1", Email: "a1@example.com", Role: domain.RoleAdmin, DeviceLimit: 1},
		{ID: "B1", Username: "b1", Email: "b1@example.com", Role: domain.RoleAdmin, DeviceLimit: 5},
	} {
		require.NoError(t, store.Admins().Create(ctx, admin))
		token, err := jwt.GenerateToken(admin.ID, time.Hour, testSecret)
		require.NoError(t, err)
		tokens[admin.ID] = token
	}

	dir := t.TempDir()
	apk := filepath.Join(dir, "emilock-agent.apk")
	require.NoError(t, os.WriteFile(apk, bytes.Repeat([]byte("PK\x03\x04"), 1024), 0o644))
	checksums, err := apkhash.NewCache(time.Hour)
	require.NoError(t, err)

	manager := websocket.NewManager(10, 4096, time.Second, time.Minute, 30*time.Second, log)
	feedCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	go manager.Run(feedCtx)

	guard := service.NewQuotaGuard(store.Devices(), log)
	audit := service.NewAuditService(store.Audit(), log)
	auth := service.NewAuthService(store.Admins(), testSecret, time.Hour, 24*time.Hour)
	enrollment := service.NewEnrollmentService(store.Customers(), store.Devices(), audit, manager, log)
	heartbeats := service.NewHeartbeatService(store.Customers(), store.Devices(), audit, manager, log)

	h := Handlers{
		Auth:      NewAuthHandler(auth, log),
		Customers: NewCustomerHandler(service.NewCustomerService(store.Customers(), store.Devices(), guard, audit, log, 72*time.Hour, 2*time.Minute), log),
		Commands:  NewCommandHandler(service.NewCommandService(store.Customers(), store.Devices(), audit, manager, log), log),
		Devices:   NewDeviceHandler(service.NewDeviceService(store.Devices(), store.Customers(), guard, audit, log, 72*time.Hour), log),
		Admins: NewAdminHandler(
			service.NewAdminService(store.Admins(), guard, audit, log),
			audit,
			service.NewReconcileService(store.Customers(), store.Devices(), log),
			log,
		),
		Agent: NewAgentHandler(enrollment, heartbeats, log),
		Provisioning: NewProvisioningHandler(service.NewProvisioningService(store.Customers(), checksums, service.ProvisioningConfig{
			APKPath:       apk,
			APKName:       "emilock-agent.apk",
			ComponentName: "com.emilock.agent/.receiver.AdminReceiver",
		}, log), 5*time.Second, log),
		WebSocket:    NewWebSocketHandler(manager, 1024, 1024, log),
		DownloadsDir: dir,
	}

	cors := config.CORSConfig{
		AllowedOrigins: "https://dashboard.example.com",
		AllowedMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowedHeaders: "Content-Type,Authorization",
	}

	return &testServer{
		handler: NewRouter(h, auth, guard, cors, log),
		store:   store,
		tokens:  tokens,
	}
}

// do sends body as JSON, authenticated as admin when admin is not empty.
func (s *testServer) do(t *testing.T, method, path, admin string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[admin])
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details"`
}

func readEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestRouter_FleetScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/customers", "A1", map[string]interface{}{
		"id":    "C1",
		"name":  "Ravi",
		"imei1": "111111111111111",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Device-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-Device-Count"))

	rec = s.do(t, http.MethodPost, "/api/v1/customers", "A1", map[string]interface{}{"imei1": "222222222222222"})
	require.Equal(t, http.StatusConflict, rec.Code)
	env := readEnvelope(t, rec)
	assert.Equal(t, "QUOTA_EXCEEDED", env.Code)
	assert.Equal(t, float64(1), env.Details["current"])
	assert.Equal(t, float64(1), env.Details["limit"])

	// Agent endpoints answer with the bare body, no envelope.
	rec = s.do(t, http.MethodPost, "/api/v1/agent/enrollment", "", map[string]interface{}{
		"customerId": "C1",
		"imei":       "111111111111111",
		"brand":      "Samsung",
		"model":      "SM-A155F",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var enrolled domain.EnrollmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrolled))
	assert.True(t, enrolled.IsEnrolled)
	assert.Equal(t, domain.InstallStatusAdminInstalled, enrolled.DeviceStatus.Status)

	heartbeat := func() domain.HeartbeatResponse {
		t.Helper()
		rec := s.do(t, http.MethodPost, "/api/v1/agent/heartbeat", "", map[string]interface{}{
			"customerId": "C1",
			"status":     "online",
			"location":   "garbage",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp domain.HeartbeatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	assert.False(t, heartbeat().IsLocked)

	rec = s.do(t, http.MethodPost, "/api/v1/customers/C1/commands", "A1", map[string]interface{}{"command": "lock", "reason": "missed EMI"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	next := heartbeat()
	assert.True(t, next.IsLocked)
	require.NotNil(t, next.Command)
	assert.Equal(t, domain.CommandLock, next.Command.Command)

	after := heartbeat()
	assert.True(t, after.IsLocked)
	assert.Nil(t, after.Command)

	rec = s.do(t, http.MethodGet, "/api/v1/customers/C1", "B1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_HeartbeatWithMalformedOptionalFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/customers", "B1", map[string]interface{}{"id": "C1", "imei1": "111111111111111"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/v1/customers/C1/commands", "B1", map[string]interface{}{"command": "lock"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/agent/heartbeat", "", map[string]interface{}{
		"customerId": "C1",
		"status":     1,
		"features":   "camera",
		"sim":        []string{"not", "an", "object"},
		"step":       42,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.HeartbeatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsLocked)
	require.NotNil(t, resp.Command)
	assert.Equal(t, domain.CommandLock, resp.Command.Command)

	stored, err := s.store.Customers().FindByID(context.Background(), "C1")
	require.NoError(t, err)
	require.NotNil(t, stored.DeviceStatus.LastSeen)
	assert.Equal(t, domain.InstallStatusOnline, stored.DeviceStatus.Status)
	assert.Nil(t, stored.RemoteCommand)
}

func TestRouter_ErrorShapes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		admin  string
		body   interface{}
		status int
		code   string
	}{
		{name: "no token", method: http.MethodGet, path: "/api/v1/customers", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "bad imei", method: http.MethodPost, path: "/api/v1/customers", admin: "B1", body: map[string]interface{}{"imei1": "12ab"}, status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "unknown customer", method: http.MethodGet, path: "/api/v1/customers/nope", admin: "B1", status: http.StatusNotFound, code: "CUSTOMER_NOT_FOUND"},
		{name: "unknown device", method: http.MethodGet, path: "/api/v1/devices/nope", admin: "B1", status: http.StatusNotFound, code: "DEVICE_NOT_FOUND"},
		{name: "dealer cannot create admins", method: http.MethodPost, path: "/api/v1/admins", admin: "B1", body: map[string]interface{}{}, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "unknown command", method: http.MethodPost, path: "/api/v1/customers/nope/commands", admin: "B1", body: map[string]interface{}{"command": "format"}, status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "heartbeat without identity", method: http.MethodPost, path: "/api/v1/agent/heartbeat", body: map[string]interface{}{}, status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{name: "enrollment for unknown customer", method: http.MethodPost, path: "/api/v1/agent/enrollment", body: map[string]interface{}{"customerId": "ghost"}, status: http.StatusNotFound, code: "CUSTOMER_NOT_FOUND"},
		{name: "no route", method: http.MethodGet, path: "/api/v1/nothing-here", admin: "B1", status: http.StatusNotFound, code: "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.admin, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			env := readEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestRouter_DeviceLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/devices", "B1", map[string]interface{}{"model": "Redmi 13C"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var device domain.Device
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &device))
	assert.Equal(t, domain.DeviceStateUnassigned, device.State)

	rec = s.do(t, http.MethodPost, "/api/v1/devices/"+device.ID+"/enrollment-token", "B1", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued domain.IssueTokenResponse
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &issued))
	assert.Equal(t, domain.DeviceStatePending, issued.State)
	assert.NotEmpty(t, issued.Token)

	rec = s.do(t, http.MethodDelete, "/api/v1/devices/"+device.ID, "B1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", readEnvelope(t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/"+device.ID+"/history", "B1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.StateChange
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &history))
	assert.Len(t, history, 2)
}

func TestRouter_Provisioning(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/customers", "B1", map[string]interface{}{"imei1": "356938035643809"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var c domain.Customer
	require.NoError(t, json.Unmarshal(readEnvelope(t, rec).Data, &c))

	fetch := func() []byte {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/provisioning/"+c.ID, nil)
		req.Host = "fleet.example.com"
		req.Header.Set("Authorization", "Bearer "+s.tokens["B1"])
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return rec.Body.Bytes()
	}

	first := fetch()
	assert.Equal(t, first, fetch())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(first, &payload))
	assert.Equal(t,
		"https://fleet.example.com/downloads/emilock-agent.apk",
		payload["android.app.extra.PROVISIONING_DEVICE_ADMIN_PACKAGE_DOWNLOAD_LOCATION"],
	)

	download := httptest.NewRecorder()
	s.handler.ServeHTTP(download, httptest.NewRequest(http.MethodGet, "/downloads/emilock-agent.apk", nil))
	assert.Equal(t, http.StatusOK, download.Code)
	assert.Equal(t, 4096, download.Body.Len())
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/customers", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/customers", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, readEnvelope(t, rec).Success)
}

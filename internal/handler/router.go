package handler

import (
	"net/http"

	"emilock-server/internal/config"
	"emilock-server/internal/domain"
	"emilock-server/internal/middleware"
	"emilock-server/pkg/response"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth         *AuthHandler
	Customers    *CustomerHandler
	Commands     *CommandHandler
	Devices      *DeviceHandler
	Admins       *AdminHandler
	Agent        *AgentHandler
	Provisioning *ProvisioningHandler
	WebSocket    *WebSocketHandler
	DownloadsDir string
}

func NewRouter(h Handlers, auth middleware.Authenticator, guard middleware.UsageChecker, cors config.CORSConfig, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(
		cors.AllowedOrigins,
		cors.AllowedMethods,
		cors.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/login", h.Auth.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", h.Auth.Refresh).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/logout", h.Auth.Logout).Methods("POST", "OPTIONS")

	agent := api.PathPrefix("/agent").Subrouter()
	agent.HandleFunc("/enrollment", h.Agent.Enroll).Methods("POST", "OPTIONS")
	agent.HandleFunc("/verification", h.Agent.Verify).Methods("POST", "OPTIONS")
	agent.HandleFunc("/steps", h.Agent.Steps).Methods("POST", "OPTIONS")
	agent.HandleFunc("/heartbeat", h.Agent.Heartbeat).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(auth))

	quota := middleware.DeviceLimitMiddleware(guard, logger)
	superOnly := middleware.RequireRole(domain.RoleSuperAdmin)

	protected.HandleFunc("/auth/me", h.Auth.Me).Methods("GET", "OPTIONS")

	protected.Handle("/customers", quota(http.HandlerFunc(h.Customers.Create))).Methods("POST", "OPTIONS")
	protected.HandleFunc("/customers", h.Customers.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/customers/{id}", h.Customers.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/customers/{id}", h.Customers.Update).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/customers/{id}", h.Customers.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/customers/{id}/offline-tokens", h.Customers.OfflineTokens).Methods("GET", "OPTIONS")
	protected.HandleFunc("/customers/{id}/offline-tokens/rotate", h.Customers.RotateOfflineTokens).Methods("POST", "OPTIONS")
	protected.HandleFunc("/customers/{id}/commands", h.Commands.Issue).Methods("POST", "OPTIONS")
	protected.HandleFunc("/customers/{id}/commands", h.Commands.Pending).Methods("GET", "OPTIONS")

	protected.Handle("/devices", quota(http.HandlerFunc(h.Devices.Create))).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices", h.Devices.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{id}", h.Devices.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{id}", h.Devices.Remove).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/devices/{id}/history", h.Devices.History).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{id}/enrollment-token", h.Devices.IssueEnrollmentToken).Methods("POST", "OPTIONS")

	protected.HandleFunc("/provisioning/{customerId}", h.Provisioning.Payload).Methods("GET", "OPTIONS")

	protected.HandleFunc("/admins", h.Admins.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/admins/me/usage", h.Admins.Usage).Methods("GET", "OPTIONS")
	protected.Handle("/admins", superOnly(http.HandlerFunc(h.Admins.Create))).Methods("POST", "OPTIONS")
	protected.Handle("/admins/{id}/limit", superOnly(http.HandlerFunc(h.Admins.UpdateLimit))).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/audit", h.Admins.Audit).Methods("GET", "OPTIONS")
	protected.Handle("/admin/reconcile", superOnly(http.HandlerFunc(h.Admins.Reconcile))).Methods("GET", "POST", "OPTIONS")

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.AuthMiddleware(auth))
	ws.HandleFunc("", h.WebSocket.HandleConnection)

	if h.DownloadsDir != "" {
		r.PathPrefix("/downloads/").Handler(Downloads(h.DownloadsDir)).Methods("GET", "HEAD")
	}

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Coded(w, http.StatusNotFound, "NOT_FOUND", "No route for "+r.Method+" "+r.URL.Path, nil)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{
		"status":  "healthy",
		"service": "emilock-server",
	})
}

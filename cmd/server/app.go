package main

import (
	"context"
	"fmt"
	"path/filepath"

	"emilock-server/internal/config"
	"emilock-server/internal/handler"
	"emilock-server/internal/repository"
	"emilock-server/internal/service"
	"emilock-server/internal/websocket"
	"emilock-server/pkg/apkhash"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type repositories struct {
	customers repository.CustomerRepository
	devices   repository.DeviceRepository
	admins    repository.AdminRepository
	audit     repository.AuditRepository
	close     func() error
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*repositories, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		store := repository.NewMemoryStore()
		return &repositories{
			customers: store.Customers(),
			devices:   store.Devices(),
			admins:    store.Admins(),
			audit:     store.Audit(),
			close:     func() error { return nil },
		}, nil

	case "couch":
		client, err := repository.OpenCouch(ctx, cfg.CouchURL(), cfg.Name)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to CouchDB", zap.String("db", cfg.Name))
		return &repositories{
			customers: repository.NewCustomerRepository(client, cfg.Name),
			devices:   repository.NewDeviceRepository(client, cfg.Name),
			admins:    repository.NewAdminRepository(client, cfg.Name),
			audit:     repository.NewAuditRepository(client, cfg.Name),
			close:     client.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
}

type services struct {
	auth         *service.AuthService
	admins       *service.AdminService
	audit        *service.AuditService
	guard        *service.QuotaGuard
	customers    *service.CustomerService
	devices      *service.DeviceService
	enrollment   *service.EnrollmentService
	provisioning *service.ProvisioningService
	commands     *service.CommandService
	heartbeats   *service.HeartbeatService
	reconciler   *service.ReconcileService
}

func newServices(cfg *config.Config, repos *repositories, notifier service.Notifier, logger *zap.Logger) (*services, error) {
	checksums, err := apkhash.NewCache(cfg.Provisioning.ChecksumTTL)
	if err != nil {
		return nil, err
	}

	guard := service.NewQuotaGuard(repos.devices, logger)
	audit := service.NewAuditService(repos.audit, logger)

	return &services{
		auth:   service.NewAuthService(repos.admins, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration),
		admins: service.NewAdminService(repos.admins, guard, audit, logger),
		audit:  audit,
		guard:  guard,
		customers: service.NewCustomerService(
			repos.customers, repos.devices, guard, audit, logger,
			cfg.Fleet.EnrollmentTokenTTL, cfg.Fleet.OfflineAfter,
		),
		devices:    service.NewDeviceService(repos.devices, repos.customers, guard, audit, logger, cfg.Fleet.EnrollmentTokenTTL),
		enrollment: service.NewEnrollmentService(repos.customers, repos.devices, audit, notifier, logger),
		provisioning: service.NewProvisioningService(repos.customers, checksums, service.ProvisioningConfig{
			BaseURL:       cfg.Provisioning.BaseURL,
			APKPath:       cfg.Provisioning.APKPath,
			APKName:       cfg.Provisioning.APKName,
			ComponentName: cfg.Provisioning.ComponentName,
		}, logger),
		commands:   service.NewCommandService(repos.customers, repos.devices, audit, notifier, logger),
		heartbeats: service.NewHeartbeatService(repos.customers, repos.devices, audit, notifier, logger),
		reconciler: service.NewReconcileService(repos.customers, repos.devices, logger),
	}, nil
}

func newRouter(cfg *config.Config, svc *services, manager *websocket.Manager, logger *zap.Logger) *mux.Router {
	return handler.NewRouter(handler.Handlers{
		Auth:         handler.NewAuthHandler(svc.auth, logger),
		Customers:    handler.NewCustomerHandler(svc.customers, logger),
		Commands:     handler.NewCommandHandler(svc.commands, logger),
		Devices:      handler.NewDeviceHandler(svc.devices, logger),
		Admins:       handler.NewAdminHandler(svc.admins, svc.audit, svc.reconciler, logger),
		Agent:        handler.NewAgentHandler(svc.enrollment, svc.heartbeats, logger),
		Provisioning: handler.NewProvisioningHandler(svc.provisioning, cfg.Provisioning.Timeout, logger),
		WebSocket:    handler.NewWebSocketHandler(manager, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, logger),
		DownloadsDir: filepath.Dir(cfg.Provisioning.APKPath),
	}, svc.auth, svc.guard, cfg.CORS, logger)
}

package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"emilock-server/internal/middleware"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type ProvisioningHandler struct {
	errorWriter
	service *service.ProvisioningService
	timeout time.Duration
}

func NewProvisioningHandler(service *service.ProvisioningService, timeout time.Duration, logger *zap.Logger) *ProvisioningHandler {
	return &ProvisioningHandler{
		errorWriter: errorWriter{logger: logger},
		service:     service,
		timeout:     timeout,
	}
}

// Payload returns the Device Owner QR payload. The body is the bare JSON
// object the setup wizard reads, so no envelope is added.
func (h *ProvisioningHandler) Payload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payload, err := h.service.Build(ctx, middleware.GetAdmin(r), mux.Vars(r)["customerId"], requestHost(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Raw(w, http.StatusOK, payload)
}

func requestHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.Host
}

// Downloads serves the agent APK directory. Directory listings are
// disabled.
func Downloads(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.StripPrefix("/downloads/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".apk") {
			w.Header().Set("Content-Type", "application/vnd.android.package-archive")
		}
		fs.ServeHTTP(w, r)
	}))
}

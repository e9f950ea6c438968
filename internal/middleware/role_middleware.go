package middleware

import (
	"net"
	"net/http"
	"strings"

	"emilock-server/internal/domain"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"
)

// RequireRole rejects admins whose role is not in roles. It must run
// after AuthMiddleware.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			admin := GetAdmin(r)
			if admin == nil {
				response.Coded(w, http.StatusUnauthorized, string(service.CodeUnauthorized), "Authentication required", nil)
				return
			}

			for _, role := range roles {
				if admin.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Coded(w, http.StatusForbidden, string(service.CodeForbidden), "Role "+string(admin.Role)+" may not access this resource", nil)
		})
	}
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

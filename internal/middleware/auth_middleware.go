package middleware

import (
	"context"
	"net/http"
	"strings"

	"emilock-server/internal/domain"
	"emilock-server/internal/service"
	"emilock-server/pkg/response"
)

type contextKey string

const AdminKey contextKey = "admin"

// Authenticator resolves a bearer token to an admin.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.AdminUser, error)
}

func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				response.Coded(w, http.StatusUnauthorized, string(service.CodeUnauthorized), "Missing or malformed authorization header", nil)
				return
			}

			admin, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				response.Coded(w, http.StatusUnauthorized, string(service.CodeUnauthorized), "Invalid or expired token", nil)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.actorID = admin.ID
			}

			ctx := context.WithValue(r.Context(), AdminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter that browsers must use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if websocketUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func GetAdmin(r *http.Request) *domain.AdminUser {
	admin, ok := r.Context().Value(AdminKey).(*domain.AdminUser)
	if !ok {
		return nil
	}
	return admin
}

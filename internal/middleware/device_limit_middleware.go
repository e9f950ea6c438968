package middleware

import (
	"context"
	"net/http"
	"strconv"

	"emilock-server/internal/domain"
	"emilock-server/internal/service"

	"go.uber.org/zap"
)

// UsageChecker is satisfied by *service.QuotaGuard.
type UsageChecker interface {
	Check(ctx context.Context, actor *domain.AdminUser) (domain.Usage, error)
}

// DeviceLimitMiddleware guards routes that create a device. A request that
// would exceed the dealer's limit is rejected before the handler runs; an
// admitted request carries the usage snapshot so the service does not
// count again.
func DeviceLimitMiddleware(guard UsageChecker, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			admin := GetAdmin(r)
			if admin == nil {
				next.ServeHTTP(w, r)
				return
			}

			usage, err := guard.Check(r.Context(), admin)
			if err != nil {
				WriteError(w, r, logger, err)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.usage = &usage
			}
			if !usage.Unlimited {
				w.Header().Set("X-Device-Limit", strconv.Itoa(usage.Limit))
				w.Header().Set("X-Device-Count", strconv.Itoa(usage.Current))
			}

			next.ServeHTTP(w, r.WithContext(service.WithUsage(r.Context(), usage)))
		})
	}
}

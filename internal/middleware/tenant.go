package middleware

import (
	"context"
	"net/http"
	"strings"
)

// TenantHeader carries the caller's tenant id. Authentication happens upstream;
// the gateway is trusted to set it.
const TenantHeader = "X-Tenant-ID"

// Tenant copies the tenant header into the request context. Handlers decide
// whether a missing tenant is an error.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant != "" {
			r = r.WithContext(WithTenantID(r.Context(), tenant))
		}
		next.ServeHTTP(w, r)
	})
}

// GetTenantID returns the tenant stored in ctx, or "" when absent.
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(TenantKey).(string); ok {
		return id
	}
	return ""
}

func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TenantKey, id)
}

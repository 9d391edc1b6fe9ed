package middleware

import (
	"context"
	"net/http"

	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

type contextKey string

const TenantIDKey contextKey = "tenant_id"

// TenantID middleware extracts the tenant ID from the X-Tenant-ID header
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			http.Error(w, "X-Tenant-ID header is required", http.StatusBadRequest)
			return
		}
		if len(tenantID) > models.MaxTenantIDLength {
			http.Error(w, "Invalid X-Tenant-ID format", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID extracts tenant ID from context
func GetTenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok
}

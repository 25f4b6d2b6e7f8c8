package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenant(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"present", "acme", "acme"},
		{"trimmed", "  acme ", "acme"},
		{"absent", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Tenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetTenantID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(TenantHeader, tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetTenantID_Empty(t *testing.T) {
	assert.Equal(t, "", GetTenantID(context.Background()))
	assert.Equal(t, "t1", GetTenantID(WithTenantID(context.Background(), "t1")))
}

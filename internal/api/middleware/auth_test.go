package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/internal/api/middleware"
	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/auth"
)

var testTokens = auth.NewTokenService(auth.TokenConfig{
	SigningKey: "middleware-test-key",
	Issuer:     "docsmith-test",
	Audience:   "docsmith-ops",
})

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, _, err := testTokens.GenerateToken("user-"+role, role)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthenticate_StoresVerifiedClaims(t *testing.T) {
	var role, subject string
	handler := middleware.Authenticate(testTokens)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		role = middleware.GetRole(r.Context())
		subject = middleware.GetSubject(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", bearer(t, "Admin"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", role)
	assert.Equal(t, "user-Admin", subject)
}

func TestAuthenticate_AnonymousWithoutHeader(t *testing.T) {
	called := false
	handler := middleware.Authenticate(testTokens)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		called = true
		assert.Empty(t, middleware.GetRole(r.Context()))
		assert.Empty(t, middleware.GetSubject(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Docsmith-Role", "admin")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestAuthenticate_RejectsBadCredentials(t *testing.T) {
	other := auth.NewTokenService(auth.TokenConfig{
		SigningKey: "someone-elses-key",
		Issuer:     "docsmith-test",
		Audience:   "docsmith-ops",
	})
	forged, _, err := other.GenerateToken("mallory", "admin")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "missing bearer token"},
		{"garbage token", "Bearer not-a-jwt", "invalid access token"},
		{"foreign signing key", "Bearer " + forged, "invalid access token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.Authenticate(testTokens)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/reset", http.NoBody)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			var p models.Problem
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/admin/reset", p.Instance)
		})
	}
}

func TestAuthenticate_NilServiceIsAnonymous(t *testing.T) {
	var role string
	handler := middleware.Authenticate(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		role = middleware.GetRole(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", bearer(t, "admin"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, role)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := middleware.Authenticate(testTokens)(middleware.RequireRole("admin", "operator")(ok))

	tests := []struct {
		name   string
		role   string
		status int
	}{
		{"admin allowed", "admin", http.StatusNoContent},
		{"operator allowed", "operator", http.StatusNoContent},
		{"editor forbidden", "editor", http.StatusForbidden},
		{"anonymous unauthorized", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/admin/features/export", http.NoBody)
			if tt.role != "" {
				req.Header.Set("Authorization", bearer(t, tt.role))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
				var p models.Problem
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
				assert.Equal(t, "/v1/admin/features/export", p.Instance)
				assert.Contains(t, p.Detail, "admin or operator")
			}
		})
	}
}

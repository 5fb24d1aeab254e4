package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := NewGuard("s3cret").RequireToken(ok)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid bearer token", header: "Bearer s3cret", want: http.StatusOK},
		{name: "scheme is case-insensitive", header: "bearer s3cret", want: http.StatusOK},
		{name: "extra spaces", header: "Bearer    s3cret  ", want: http.StatusOK},
		{name: "no header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "missing token", header: "Bearer", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer guess", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/folders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			guarded.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestDisabledGuardLetsEverythingThrough(t *testing.T) {
	guard := NewGuard("  ")
	assert.False(t, guard.Enabled())

	rr := httptest.NewRecorder()
	guard.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestValidate(t *testing.T) {
	guard := NewGuard("s3cret")
	assert.NoError(t, guard.Validate("s3cret"))
	assert.ErrorIs(t, guard.Validate(""), ErrMissingToken)
	assert.ErrorIs(t, guard.Validate("s3cre"), ErrInvalidToken)
}

func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-query", RequestToken(req))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", RequestToken(req))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	assert.Empty(t, RequestToken(req))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gluk-w/codelive/internal/auth"
)

func TestRequireAuth(t *testing.T) {
	v := auth.NewHMACValidator("secret")
	token, err := v.Sign(auth.Identity{UserID: "u1", Email: "u1@example.com"}, time.Hour)
	require.NoError(t, err)

	var seen auth.Identity
	h := RequireAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetIdentity(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("POST", "/api/v1/projects/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1@example.com", seen.Email)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/projects/run", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, rec.Body.String())
}

func TestGetIdentityMissing(t *testing.T) {
	_, ok := GetIdentity(httptest.NewRequest("GET", "/", nil))
	assert.False(t, ok)
}

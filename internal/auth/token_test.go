package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	return New("signing-key", "admin", hash)
}

func TestLoginAndValidate(t *testing.T) {
	a := newTestAuth(t)

	token, err := a.Login("admin", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "catalogarr", claims.Issuer)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newTestAuth(t)

	_, err := a.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Login("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateRejectsForeignToken(t *testing.T) {
	a := newTestAuth(t)
	other := New("different-key", "admin", "")

	token, err := other.GenerateToken("admin")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	a := newTestAuth(t)
	_, err := a.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	var gotUser string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := UserFromContext(r.Context()); ok {
			gotUser = claims.Username
		}
		w.WriteHeader(http.StatusOK)
	}))

	// Login and health pass through unauthenticated.
	for _, path := range []string{"/api/auth/login", "/health"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Malformed header.
	req := httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token reaches the handler with claims attached.
	token, err := a.GenerateToken("admin")
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", gotUser)
}

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
	"go.uber.org/zap"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims domain.CustomClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func claimsFor(sub, tenant, role string, exp time.Duration) domain.CustomClaims {
	return domain.CustomClaims{
		TenantID: tenant,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
		},
	}
}

func TestMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	var got domain.Principal
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		require.True(t, ok)
		got = p
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong key", "Bearer " + signToken(t, other, claimsFor("u1", "t1", "admin", time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, key, claimsFor("u1", "t1", "admin", -time.Hour)), http.StatusUnauthorized},
		{"unknown role", "Bearer " + signToken(t, key, claimsFor("u1", "t1", "janitor", time.Hour)), http.StatusUnauthorized},
		{"no tenant", "Bearer " + signToken(t, key, claimsFor("u1", "", "admin", time.Hour)), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, key, claimsFor("u1", "t1", "Owner", time.Hour)), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	assert.Equal(t, domain.Principal{UserID: "u1", TenantID: "t1", Role: domain.RoleOwner}, got)
}

func TestParseRSAPublicKeyEmpty(t *testing.T) {
	_, err := ParseRSAPublicKey(nil)
	assert.Error(t, err)
}

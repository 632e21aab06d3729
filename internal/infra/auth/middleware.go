package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/academy-automation/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator: проверка подписи и срока токена
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey struct{}

// WithPrincipal кладёт проверенную личность в контекст
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom достаёт личность. Роль больше ниоткуда не берётся.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(domain.Principal)
	return p, ok
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				unauthorized(w, "invalid token")
				return
			}

			principal, err := domain.PrincipalFromClaims(claims)
			if err != nil {
				logger.Warn("auth failure: bad claims", zap.String("sub", claims.Subject), zap.Error(err))
				unauthorized(w, "invalid claims")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error_code": string(domain.CodeUnauthenticated),
		"message":    msg,
	})
}

package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки операторских токенов
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключей контекста (избегаем коллизий)
type ctxKey string

const (
	ctxKeyOperatorID ctxKey = "operator_id"
	ctxKeyScopes     ctxKey = "operator_scopes"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxKeyScopes, claims.Scopes)
			ctx = context.WithValue(ctx, ctxKeyOperatorID, claims.OperatorID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorID достает ID оператора из контекста запроса (после middleware).
func OperatorID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyOperatorID).(string); ok {
		return id
	}
	return ""
}

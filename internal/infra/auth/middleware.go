package auth

import (
	"context"
	"net/http"

	"github.com/hshadab/morpho/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки owner-токена для management-периметра
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OwnerClaims, error)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const ownerKey ctxKey = "owner"

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

			// Прокидываем идентичность владельца в контекст
			ctx := context.WithValue(r.Context(), ownerKey, claims.Owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext безопасно достает владельца в любом хендлере.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}

// WithOwner используется тестами для сборки контекста без HTTP-слоя.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

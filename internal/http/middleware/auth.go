package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/auth"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/respond"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/store"
)

type contextKey string

const userKey contextKey = "currentUser"

// UserLookup 按 ID 读取用户
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*store.User, error)
}

// Authenticate 校验 Bearer 令牌并加载当前用户，停用用户返回 403
func Authenticate(tokens *auth.Tokens, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, http.StatusUnauthorized, "Não foi possível validar as credenciais")
				return
			}

			claims, err := tokens.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, http.StatusUnauthorized, "Não foi possível validar as credenciais")
				return
			}
			userID, _ := claims.UserID()

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					w.Header().Set("WWW-Authenticate", "Bearer")
					respond.Error(w, http.StatusUnauthorized, "Não foi possível validar as credenciais")
					return
				}
				respond.Error(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !user.IsActive {
				respond.Error(w, http.StatusForbidden, "Usuário inativo")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireRole 要求当前用户拥有任一角色，需在 Authenticate 之后使用
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "Não autenticado")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.Error(w, http.StatusForbidden, "Acesso negado. Requer uma das roles: "+strings.Join(roles, ", "))
		})
	}
}

// WithUser 将用户放入上下文
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext 读取当前用户
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userKey).(*store.User)
	return user, ok && user != nil
}

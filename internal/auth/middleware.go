package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

type contextKey string

const (
	userKey   contextKey = "auth_user"
	claimsKey contextKey = "auth_claims"
)

// WithUser stores the authenticated user and claims on ctx.
func WithUser(ctx context.Context, user db.User, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, logger.UserIDKey, user.ID)
}

// UserFromContext returns the user set by RequireAuth.
func UserFromContext(ctx context.Context) (db.User, bool) {
	u, ok := ctx.Value(userKey).(db.User)
	return u, ok
}

// ClaimsFromContext returns the token claims set by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// Middleware authenticates requests against a TokenManager and user store.
type Middleware struct {
	tokens *TokenManager
	users  UserStore
}

func NewMiddleware(tokens *TokenManager, users UserStore) *Middleware {
	return &Middleware{tokens: tokens, users: users}
}

// RequireAuth rejects requests without a valid, unrevoked token for an
// active account.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
			return
		}
		claims, err := m.tokens.Parse(r.Context(), raw)
		switch {
		case errors.Is(err, ErrTokenRevoked):
			apierr.WriteErrorWithContext(w, r, apierr.AuthTokenRevoked())
			return
		case errors.Is(err, ErrInvalidToken):
			apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid(""))
			return
		case err != nil:
			logger.ErrorContext(r.Context(), "token verification failed", "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("authentication temporarily unavailable"))
			return
		}

		user, err := m.users.GetUserByID(r.Context(), claims.UserID)
		if errors.Is(err, db.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid("user no longer exists"))
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to load token user", "user_id", claims.UserID, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
			return
		}
		if !user.IsActive {
			apierr.WriteErrorWithContext(w, r, apierr.AuthAccountDisabled())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, claims)))
	})
}

// RequireRole allows the request when the token grants any of roles. It must
// run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
				return
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierr.WriteErrorWithContext(w, r, apierr.AuthForbidden("Insufficient permissions"))
		})
	}
}

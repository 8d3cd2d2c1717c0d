package middleware

import (
	"context"
	"net/http"
	"strings"

	"cim-chat/internal/identity"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware resolves the bearer token on each request and injects the
// resulting identity into the request context. Requests without a valid
// token never reach the protected handlers.
type AuthMiddleware struct {
	resolver identity.Resolver
}

func NewAuthMiddleware(r identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: r}
}

// Handle is the chi-compatible middleware function.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Browsers cannot set headers on websocket dials, so the live
		// channel passes the token as a query param instead.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		ident, err := am.resolver.Resolve(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom extracts the authenticated identity injected by Handle.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(identity.Identity)
	return ident, ok
}

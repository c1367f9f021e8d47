package httpapi

import (
	"net/http"
	"strings"

	"sgadmin.org/internal/auth"
)

// publicPaths need no bearer token. Everything else under the mux
// requires a valid access token.
var publicPaths = map[string]bool{
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/v1/info":               true,
	"/v1/auth/login":         true,
	"/v1/auth/register":      true,
	"/v1/auth/check-token":   true,
	"/v1/auth/refresh-token": true,
	"/v1/auth/validate":      true,
}

// withAuth validates the bearer token and attaches the principal to the
// request context. Public paths pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		claims, err := a.flow.ValidateSession(token)
		if err != nil {
			handleAuthError(w, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{
			UserID:   claims.Subject,
			Username: claims.Username,
			Roles:    claims.Roles,
		})
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

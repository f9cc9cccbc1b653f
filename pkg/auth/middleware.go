package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/helicon-ai/helicon/pkg/config"
)

// DefaultUserID identifies requests when authentication is disabled and no
// X-User-ID header is present.
const DefaultUserID = "default"

// sessionCookie is the cookie the SSO edge sets after login.
const sessionCookie = "helicon_session"

type contextKey struct{ name string }

var userKey = &contextKey{"user"}

// WithUser stores the user id in the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserID returns the user id placed by the middleware, or empty.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userKey).(string); ok {
		return id
	}
	return ""
}

// Middleware resolves the request identity and stores it in the context.
//
// Enabled: the bearer token (Authorization header or session cookie) must
// validate; 401 otherwise. Disabled: the X-User-ID header is honored,
// defaulting to DefaultUserID. Excluded paths pass through without identity.
func Middleware(cfg config.AuthConfig, validator *Validator, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if !cfg.IsEnabled() || validator == nil {
				userID := r.Header.Get("X-User-ID")
				if userID == "" {
					userID = DefaultUserID
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
				return
			}

			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}

			claims, err := validator.Validate(r.Context(), token)
			if err != nil {
				log.Debug("token rejected", "path", r.URL.Path, "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject)))
		})
	}
}

// bearerToken pulls the token from the Authorization header, falling back
// to the session cookie.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

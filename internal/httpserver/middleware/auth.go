package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/homestead-systems/assistant-core/internal/authsvc"
)

type contextKey string

const sessionContextKey contextKey = "session"

// sessionValidator is the subset of authsvc.Service the middleware needs,
// kept narrow so it can be faked in tests.
type sessionValidator interface {
	ValidateSession(ctx context.Context, accessToken string) (*authsvc.SessionInfo, error)
}

// RequireAuth validates the request's bearer access token and injects the
// resolved session into the request context.
func RequireAuth(svc sessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			session, err := svc.ValidateSession(r.Context(), parts[1])
			if err != nil {
				slog.Warn("invalid_session_token", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext retrieves the session injected by RequireAuth.
func SessionFromContext(ctx context.Context) (*authsvc.SessionInfo, bool) {
	session, ok := ctx.Value(sessionContextKey).(*authsvc.SessionInfo)
	return session, ok
}

package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one structured line per completed request, the level
// set from the response status the way the teacher's RequestLogger does.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		level := slog.LevelInfo
		switch {
		case ww.Status() >= 500:
			level = slog.LevelError
		case ww.Status() >= 400:
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "http_request_completed",
			"status", ww.Status(),
			"method", r.Method,
			"path", r.URL.Path,
			"duration", duration,
			"req_id", reqID,
			"ip", r.RemoteAddr,
		)
	})
}

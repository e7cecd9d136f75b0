package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter holds one token-bucket limiter per client IP, matching the
// teacher's IPRateLimiter shape.
type IPRateLimiter struct {
	limiters sync.Map
	rps      rate.Limit
	burst    int
}

// NewIPRateLimiter builds a limiter and starts a background cleanup loop so
// the per-IP map doesn't grow without bound.
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	l := &IPRateLimiter{rps: rate.Limit(rps), burst: burst}
	go l.cleanupLoop()
	return l
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	if existing, ok := l.limiters.Load(ip); ok {
		return existing.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.rps, l.burst)
	actual, _ := l.limiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func (l *IPRateLimiter) cleanupLoop() {
	for {
		time.Sleep(10 * time.Minute)
		l.limiters.Range(func(key, _ any) bool {
			l.limiters.Delete(key)
			return true
		})
	}
}

// Middleware rejects requests over the per-IP rate with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		if !l.getLimiter(ip).Allow() {
			slog.Warn("rate_limit_exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

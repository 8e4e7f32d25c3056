// Package middleware provides HTTP middleware for the report server.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// StructuredLogger returns a middleware that logs HTTP requests with zap
func StructuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			}
			if p, ok := PrincipalFrom(r.Context()); ok {
				fields = append(fields, zap.String("subject", p.Subject), zap.String("role", p.Role))
			}
			logger.Info("HTTP Request", fields...)
		})
	}
}

// SecurityHeaders sets conservative response headers on every reply.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit implements a fixed one-minute window per client address.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	type client struct {
		count       int
		windowStart time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			now := time.Now()

			mu.Lock()
			// Drop stale entries every few minutes
			if now.Sub(lastSweep) > 5*time.Minute {
				for k, c := range clients {
					if now.Sub(c.windowStart) > 2*time.Minute {
						delete(clients, k)
					}
				}
				lastSweep = now
			}

			c, exists := clients[key]
			switch {
			case !exists:
				clients[key] = &client{count: 1, windowStart: now}
			case now.Sub(c.windowStart) > time.Minute:
				c.count = 1
				c.windowStart = now
			default:
				c.count++
			}
			limited := exists && c.count > requestsPerMinute
			mu.Unlock()

			if limited {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey is the remote host; chi's RealIP runs first in the stack.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the logger.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/jsonldb"
)

type contextKey string

const keyUsername contextKey = "username"

// Username returns the authenticated user name, if any.
func Username(ctx context.Context) string {
	if v, ok := ctx.Value(keyUsername).(string); ok {
		return v
	}
	return ""
}

// Authenticator verifies HTTP Basic credentials.
type Authenticator interface {
	Authenticate(username, password string) (jsonldb.Record, error)
}

// BasicAuth requires valid HTTP Basic credentials on every /api/ request
// except the health check.
func BasicAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}
			username, password, ok := r.BasicAuth()
			if ok {
				if _, err := auth.Authenticate(username, password); err == nil {
					ctx := context.WithValue(r.Context(), keyUsername, username)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				slog.WarnContext(r.Context(), "Authentication failed", "user", username, "ip", clientIP(r))
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="recdb", charset="UTF-8"`)
			writeError(r.Context(), w, apierrors.Unauthorized())
		})
	}
}

// statusRecorder captures the status code written by the next handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// LogRequests logs every request at debug level once served.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.DebugContext(r.Context(), "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"ip", clientIP(r),
			"dur", time.Since(start).Round(time.Millisecond),
		)
	})
}

// clientIP extracts the client IP from an HTTP request, checking
// X-Forwarded-For and X-Real-IP headers for proxied requests.
func clientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2".
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	// IPv6 addresses like [::1]:8080.
	if strings.HasPrefix(addr, "[") {
		if host, _, found := strings.Cut(addr, "]:"); found {
			return host[1:]
		}
		return strings.Trim(addr, "[]")
	}
	if host, _, found := strings.Cut(addr, ":"); found {
		return host
	}
	return addr
}

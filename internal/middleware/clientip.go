package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const (
	// ClientIPContextKey is the context key for storing the client IP address
	ClientIPContextKey contextKey = "client_ip"
)

// GetClientIP extracts the real client IP address from the request.
// It checks proxy headers (X-Forwarded-For, X-Real-IP) before falling back
// to RemoteAddr.
//
// Note: In production, ensure your reverse proxy is configured to set these
// headers and that direct access to the application is not possible, as
// these headers can be spoofed.
func GetClientIP(r *http.Request) string {
	// X-Forwarded-For may contain a comma-separated chain; the first entry
	// is the originating client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithClientIP returns middleware that extracts the real client IP address
// from the request and stores it in the context.
//
// This middleware should be placed early in the middleware chain so that
// handlers can access the client IP via GetClientIPFromContext.
func WithClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)

			ctx := context.WithValue(r.Context(), ClientIPContextKey, clientIP)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIPFromContext retrieves the client IP address from the context.
// Returns an empty string if not found (middleware not applied).
// For direct access from request, use GetClientIP(r) instead.
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPContextKey).(string); ok {
		return ip
	}
	return ""
}

// API authentication middleware, static bearer token.
//
// When GATEWAY_API_KEY is set, every request except GET /api/health must carry
//
//	Authorization: Bearer <api_key>
//
// or
//
//	X-API-Key: <api_key>
//
// WebSocket upgrades may pass the key as ?token=<api_key>.
//
// With no key configured the API is open, which matches a backend that posts
// to /api/send-message from the same host.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sipeed/wabridge/pkg/logger"
)

func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "API auth disabled; set GATEWAY_API_KEY to require a bearer token")
		return next
	}

	logger.InfoC("auth", "API bearer token auth enabled")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wabridge"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized: bearer token required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken reads the Authorization header, then X-API-Key, then ?token=.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

// tokenValid compares in constant time.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func isPublicPath(path string) bool {
	return path == "/api/health"
}

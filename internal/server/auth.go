package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/manualqa-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication on the manual upload
// routes. An empty token disables the check; New logs a warning once at
// startup in that case.
//
// Protected routes must supply:
//
//	Authorization: Bearer <token>
//
// The presented token is never logged.
func authMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		got := bearerToken(r)
		if got == "" {
			log.Warn("auth: missing Authorization header", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="manualqa"`)
			writeJSON(w, log, http.StatusUnauthorized, errorResponse{Error: "authorization required"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			log.Warn("auth: invalid token", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="manualqa" error="invalid_token"`)
			writeJSON(w, log, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/tutor-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <TUTOR_API_KEY>" on the
// routes it wraps. An empty apiKey disables it; New warns about that once at
// startup. Rejections carry a WWW-Authenticate challenge and the API's JSON
// error body. Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	key := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			reject(w, r, `Bearer realm="tutor"`, "authorization required", "missing bearer token")
		case subtle.ConstantTimeCompare([]byte(token), key) != 1:
			reject(w, r, `Bearer realm="tutor", error="invalid_token"`, "invalid token", "token does not match TUTOR_API_KEY")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// reject logs an authentication failure and writes a 401.
func reject(w http.ResponseWriter, r *http.Request, challenge, msg, reason string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("reason", reason),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSONError(w, msg, http.StatusUnauthorized)
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header,
// or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

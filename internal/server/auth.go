package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/pagerag/internal/logging"
)

// apiKeyHeader is accepted as an alternative to a Bearer token for portal
// backends that cannot set Authorization.
const apiKeyHeader = "X-API-Key"

// authMiddleware requires the configured API key on every request, presented
// either as "Authorization: Bearer <key>" or in the X-API-Key header. An
// empty apiKey disables the check; the server warns about that once at
// startup.
//
// Rejections are 401 with a JSON error body and a Bearer challenge. The
// presented value is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := presentedKey(r)
		if token == "" {
			log.Warn("auth: credentials missing", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="pagerag"`)
			jsonError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		// Digests have a fixed length, so the comparison does not leak the
		// key length.
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			log.Warn("auth: invalid credentials", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="pagerag" error="invalid_token"`)
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// presentedKey returns the Bearer token, else the X-API-Key header value.
func presentedKey(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is case-insensitive; anything else yields "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

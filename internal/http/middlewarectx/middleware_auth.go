// Package middlewarectx holds the boundary middleware: shared-secret
// authentication and rate limiting.
//
// The API is an internal service-to-service surface; callers authenticate
// with a single shared secret in the Authorization header. The comparison is
// constant-time, and a deployment with no secret configured fails closed with
// a 500 rather than letting every caller through.
package middlewarectx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/hookvault/hookvault/internal/http/response"
)

// SharedSecretMiddleware returns middleware that checks the Authorization
// bearer token against the configured receiver secret.
func SharedSecretMiddleware(secret string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.SharedSecretMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			if secret == "" {
				log.Error("receiver secret is not configured")
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error(response.CodeServerMisconfiguration))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error(response.CodeUnauthorized))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				log.Error("shared secret mismatch")
				w.WriteHeader(http.StatusUnauthorized)
				render.JSON(w, r, response.Error(response.CodeUnauthorized))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

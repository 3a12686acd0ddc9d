// Package middleware provides the HTTP middleware for the footprint gateway.
package middleware

import (
	"net/http"

	"github.com/footprint-labs/footprint/internal/logging"
)

// AuthMiddleware resolves the caller identity for every request outside the skip paths.
type AuthMiddleware struct {
	resolver  *Resolver
	logger    *logging.Logger
	skipPaths map[string]bool
	onReject  RejectFunc
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver *Resolver, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	return &AuthMiddleware{
		resolver:  resolver,
		logger:    logger,
		skipPaths: pathSet(skipPaths),
	}
}

// WithRejectHook registers fn to observe rejected credentials.
func (m *AuthMiddleware) WithRejectHook(fn RejectFunc) *AuthMiddleware {
	m.onReject = fn
	return m
}

// Skips reports whether path bypasses credential resolution.
func (m *AuthMiddleware) Skips(path string) bool {
	return m.skipPaths[path]
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.resolver.Resolve(r)
		if err != nil {
			respondError(w, r, m.logger, m.onReject, err)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		if m.logger != nil {
			m.logger.WithContext(ctx).WithField("expires_at", identity.ExpiresAt).Debug("Authentication successful")
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

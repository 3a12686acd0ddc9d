package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/footprint-labs/footprint/internal/httputil"
	"github.com/footprint-labs/footprint/internal/logging"
)

// Identity is the caller resolved from a verified credential. It lives for one request.
type Identity struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type identityKey struct{}

// WithIdentity attaches identity to ctx. The user id is also exposed to the logger.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	return logging.WithUserID(ctx, id.UserID)
}

// IdentityFromContext returns the resolved identity, or false when the caller is unresolved.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// GetUserID returns the resolved user id, or "" when unresolved.
func GetUserID(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

// RequireIdentity rejects requests that reached it without a resolved identity, e.g. on
// public paths that skipped credential resolution.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

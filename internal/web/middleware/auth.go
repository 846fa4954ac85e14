package middleware

import (
	"context"
	"net/http"
	"strings"
)

// OwnerHeader carries the id of the authenticated user. Authentication
// itself happens in front of this service.
const OwnerHeader = "X-Immich-User-Id"

type contextKey string

const ownerContextKey contextKey = "owner"

// RequireOwner rejects requests without an owner header and stores the
// owner id in the request context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error": "unauthorized", "code": "request.invalid"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetOwnerInContext(r.Context(), owner)))
	})
}

// OwnerFromContext returns the owner id set by RequireOwner, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey).(string)
	return owner
}

// SetOwnerInContext adds an owner id to the context.
// This is primarily for testing - use RequireOwner middleware in production.
func SetOwnerInContext(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey, owner)
}

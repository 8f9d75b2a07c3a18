package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ignite/outreach/internal/pkg/httputil"
)

// UserHeader carries the authenticated user's id, set by the gateway in
// front of this service.
const UserHeader = "X-User-ID"

// UserContextKey is the key for storing the user id in the request context.
type UserContextKey struct{}

// RequireUser rejects requests without a user id and stores it in the
// request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			httputil.Error(w, http.StatusUnauthorized, "unauthenticated", "missing user")
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the user id stored by RequireUser.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserContextKey{}).(string)
	return id
}

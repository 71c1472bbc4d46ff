// Package middleware provides the HTTP middleware chain: actor resolution,
// request correlation, structured request logging and panic recovery.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/opsdesk/guichet/pkg/contextkeys"
	"github.com/opsdesk/guichet/pkg/httputil"
	"github.com/opsdesk/guichet/pkg/rbac"
)

// ActorHeader carries the caller identity. The identity itself is
// established upstream (reverse proxy or SSO gateway); this service trusts
// the header and resolves the user with their current role set on every
// request.
const ActorHeader = "X-Guichet-User"

// UserDirectory resolves user ids to users with roles attached.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*rbac.User, error)
}

// ActorMiddleware resolves the caller from the identity header and attaches
// the user to the request context. Permissions are looked up fresh every
// request so role changes take effect immediately.
type ActorMiddleware struct {
	directory UserDirectory
}

// NewActorMiddleware creates an actor resolution middleware.
func NewActorMiddleware(directory UserDirectory) *ActorMiddleware {
	return &ActorMiddleware{directory: directory}
}

// Handler wraps an HTTP handler with actor resolution.
func (m *ActorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(ActorHeader)
		if userID == "" {
			httputil.WriteUnauthorized(w, "missing "+ActorHeader+" header")
			return
		}

		actor, err := m.directory.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				httputil.WriteUnauthorized(w, "unknown user")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithActor(r.Context(), actor)))
	})
}

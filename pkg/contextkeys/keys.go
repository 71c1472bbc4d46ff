// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/opsdesk/guichet/pkg/rbac"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains the resolved *rbac.User for the request.
	// Set by: middleware.ActorMiddleware
	// Required by: All request and role endpoints
	ActorKey Key = "actor"

	// RequestIDKey contains the request correlation ID string.
	// Set by: middleware.RequestIDMiddleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"
)

// WithActor attaches the resolved actor to the context.
func WithActor(ctx context.Context, actor *rbac.User) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// Actor returns the resolved actor, or nil when none was attached.
func Actor(ctx context.Context) *rbac.User {
	actor, _ := ctx.Value(ActorKey).(*rbac.User)
	return actor
}

// WithRequestID attaches the correlation ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID returns the correlation ID, or empty when none was attached.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

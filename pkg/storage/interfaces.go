// Package storage defines the narrow persistence contract the workflow
// engine depends on. The engine never talks to the database directly.
package storage

import (
	"context"
	"errors"

	"github.com/opsdesk/guichet/pkg/request"
)

var (
	// ErrNotFound is returned when no request exists with the given id.
	ErrNotFound = errors.New("storage: request not found")

	// ErrConflict is returned when a save loses the optimistic concurrency
	// race: the stored version no longer matches the loaded one.
	ErrConflict = errors.New("storage: version conflict")
)

// Filter narrows a request listing.
type Filter struct {
	Status      request.Status
	RequesterID string
	Category    string
	Limit       int
	Offset      int
}

// Repository is the load/save contract for request aggregates. SaveRequest
// must compare-and-swap on the aggregate's Version: a stale writer gets
// ErrConflict and must re-read.
type Repository interface {
	CreateRequest(ctx context.Context, r *request.Request) error
	LoadRequest(ctx context.Context, id string) (*request.Request, error)
	SaveRequest(ctx context.Context, r *request.Request) error
	ListRequests(ctx context.Context, f Filter) ([]*request.Request, error)
}

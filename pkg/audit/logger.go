// Package audit provides the append-only security and compliance log. It is
// best-effort by contract: a failed audit write is reported to its caller
// but must never roll back the operation that triggered it.
package audit

import (
	"context"
)

// Logger is the interface for audit recording.
type Logger interface {
	// Record appends one audit entry. Implementations never mutate or
	// reorder previously written entries.
	Record(ctx context.Context, rec *Record) error

	// Close flushes any buffered entries.
	Close() error
}

// NopLogger discards all records. Used when auditing is disabled and as a
// safe default.
type NopLogger struct{}

func (NopLogger) Record(ctx context.Context, rec *Record) error { return nil }
func (NopLogger) Close() error                                  { return nil }

// Package notify delivers fire-and-forget notifications after successful
// workflow transitions. Delivery failures never fail the transition; they
// are at most logged by the sink itself.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event names mirror the workflow history action vocabulary.
type Event string

const (
	EventSubmitted         Event = "request.submitted"
	EventVerificationStart Event = "request.verification_started"
	EventVerified          Event = "request.verified"
	EventRejected          Event = "request.rejected"
	EventModificationAsked Event = "request.modification_requested"
	EventDECApproved       Event = "request.dec_approved"
	EventBAOApproved       Event = "request.bao_approved"
	EventAssigned          Event = "request.assigned"
	EventProcessingStarted Event = "request.processing_started"
	EventResolved          Event = "request.resolved"
	EventClosed            Event = "request.closed"
)

// Notification is one message for one recipient about one request.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Event       Event     `json:"event"`
	Reference   string    `json:"reference"`
	Timestamp   time.Time `json:"timestamp"`
}

// New builds a notification with id and timestamp populated.
func New(recipientID string, event Event, reference string) Notification {
	return Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Event:       event,
		Reference:   reference,
		Timestamp:   time.Now().UTC(),
	}
}

// Notifier is the delivery sink. Implementations are expected to be
// non-blocking or internally asynchronous; the returned error exists for
// sink-local reporting and is ignored by the workflow engine.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, n Notification) error { return nil }

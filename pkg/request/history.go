package request

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one record of the per-request timeline. Entries are
// write-once and the ledger is append-only: insertion order is the canonical
// ordering, timestamps are for display.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
	Stage     Stage     `json:"stage,omitempty"`
}

// AppendHistory appends a new entry to the request's timeline and returns it.
func (r *Request) AppendHistory(action, actorID, details string, stage Stage, at time.Time) HistoryEntry {
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: at,
		Details:   details,
		Stage:     stage,
	}
	r.History = append(r.History, entry)
	return entry
}

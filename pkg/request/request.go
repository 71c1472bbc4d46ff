package request

import (
	"time"

	"github.com/google/uuid"
)

// Status represents where in the approval pipeline a request currently is.
// It is the single source of truth for transition legality.
type Status string

const (
	StatusBrouillon     Status = "brouillon"
	StatusSoumise       Status = "soumise"
	StatusVerification  Status = "verification"
	StatusValidationDEC Status = "validation_dec"
	StatusValidationBAO Status = "validation_bao"
	StatusApprouvee     Status = "approuvee"
	StatusAssignee      Status = "assignee"
	StatusEnCours       Status = "en_cours"
	StatusResolue       Status = "resolue"
	StatusFermee        Status = "fermee"
	StatusRejetee       Status = "rejetee"
)

// AllStatuses returns the full status enumeration in pipeline order.
func AllStatuses() []Status {
	return []Status{
		StatusBrouillon,
		StatusSoumise,
		StatusVerification,
		StatusValidationDEC,
		StatusValidationBAO,
		StatusApprouvee,
		StatusAssignee,
		StatusEnCours,
		StatusResolue,
		StatusFermee,
		StatusRejetee,
	}
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusFermee || s == StatusRejetee
}

// Priority classifies the urgency of a request. Informational only: it does
// not affect transition legality.
type Priority string

const (
	PriorityBasse    Priority = "basse"
	PriorityNormale  Priority = "normale"
	PriorityHaute    Priority = "haute"
	PriorityCritique Priority = "critique"
)

var priorityRank = map[Priority]int{
	PriorityBasse:    0,
	PriorityNormale:  1,
	PriorityHaute:    2,
	PriorityCritique: 3,
}

// Rank returns the ordering position of the priority (basse < normale <
// haute < critique). Unknown priorities rank below basse.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// Valid reports whether p is one of the enumerated priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Request is the aggregate root of the assistance pipeline. It is mutated
// exclusively through workflow transitions and persisted as a whole, guarded
// by the Version field.
type Request struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`

	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Priority    Priority `json:"priority"`

	Status Status `json:"status"`

	// Party bindings. RequesterID is fixed at creation; the others are set
	// as their stage is reached and only cleared by an explicit reset
	// transition.
	RequesterID    string  `json:"requester_id"`
	VerifierID     *string `json:"verifier_id,omitempty"`
	DECValidatorID *string `json:"dec_validator_id,omitempty"`
	BAOValidatorID *string `json:"bao_validator_id,omitempty"`
	TechnicianID   *string `json:"technician_id,omitempty"`
	AssignedByID   *string `json:"assigned_by_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Stage timestamps, each set exactly once on first entry to the stage.
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	DECValidatedAt *time.Time `json:"dec_validated_at,omitempty"`
	BAOValidatedAt *time.Time `json:"bao_validated_at,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	Steps   []WorkflowStep `json:"steps"`
	History []HistoryEntry `json:"history"`

	// Version is the optimistic concurrency token, incremented on every
	// successful save.
	Version int64 `json:"version"`
}

// New creates a draft request owned by the given requester.
func New(requesterID, subject, category string, priority Priority) *Request {
	now := time.Now().UTC()
	if !priority.Valid() {
		priority = PriorityNormale
	}
	return &Request{
		ID:          uuid.NewString(),
		Reference:   NewReference(),
		Subject:     subject,
		Category:    category,
		Priority:    priority,
		Status:      StatusBrouillon,
		RequesterID: requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of the request. Repositories hand out clones so
// that a failed transition attempt never leaks partial mutations into the
// stored aggregate.
func (r *Request) Clone() *Request {
	cp := *r
	cp.VerifierID = clonePtr(r.VerifierID)
	cp.DECValidatorID = clonePtr(r.DECValidatorID)
	cp.BAOValidatorID = clonePtr(r.BAOValidatorID)
	cp.TechnicianID = clonePtr(r.TechnicianID)
	cp.AssignedByID = clonePtr(r.AssignedByID)
	cp.SubmittedAt = clonePtr(r.SubmittedAt)
	cp.VerifiedAt = clonePtr(r.VerifiedAt)
	cp.DECValidatedAt = clonePtr(r.DECValidatedAt)
	cp.BAOValidatedAt = clonePtr(r.BAOValidatedAt)
	cp.AssignedAt = clonePtr(r.AssignedAt)
	cp.ResolvedAt = clonePtr(r.ResolvedAt)

	cp.Steps = make([]WorkflowStep, len(r.Steps))
	for i, s := range r.Steps {
		cp.Steps[i] = s
		cp.Steps[i].StartedAt = clonePtr(s.StartedAt)
		cp.Steps[i].CompletedAt = clonePtr(s.CompletedAt)
		cp.Steps[i].AssigneeID = clonePtr(s.AssigneeID)
	}
	cp.History = make([]HistoryEntry, len(r.History))
	copy(cp.History, r.History)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

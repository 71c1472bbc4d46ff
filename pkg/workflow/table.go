package workflow

import (
	"time"

	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/request"
)

// Transition is a named, guarded edge in the request status state machine.
type Transition string

const (
	TransitionSubmit              Transition = "submit"
	TransitionStartVerification   Transition = "start_verification"
	TransitionApproveVerification Transition = "approve_verification"
	TransitionRejectVerification  Transition = "reject_verification"
	TransitionRequestModification Transition = "request_modification"
	TransitionApproveDEC          Transition = "approve_dec"
	TransitionRejectDEC           Transition = "reject_dec"
	TransitionApproveBAO          Transition = "approve_bao"
	TransitionRejectBAO           Transition = "reject_bao"
	TransitionAssign              Transition = "assign"
	TransitionStartProcessing     Transition = "start_processing"
	TransitionResolve             Transition = "resolve"
	TransitionClose               Transition = "close"
)

// History action labels, one per edge.
const (
	ActionSubmission           = "submission"
	ActionVerificationStarted  = "verification_started"
	ActionVerificationApproved = "verification_approved"
	ActionVerificationRejected = "verification_rejected"
	ActionModificationRequest  = "modification_requested"
	ActionDelegueApproved      = "delegue_approved"
	ActionDelegueRejected      = "delegue_rejected"
	ActionBAOApproved          = "bao_approved"
	ActionBAORejected          = "bao_rejected"
	ActionAssigned             = "assigned"
	ActionProcessingStarted    = "processing_started"
	ActionResolved             = "resolved"
	ActionClosed               = "closed"
)

// boundParty names a party binding on the request that may satisfy an edge's
// guard by identity instead of capability.
type boundParty int

const (
	bindNone boundParty = iota
	bindRequester
	bindTechnician
)

// rule is one row of the transition table: source, target, guard, payload
// requirement and side effects, co-located so every edge is independently
// testable.
type rule struct {
	To request.Status

	// Guard: satisfied when the actor is the bound party, or holds the
	// capability. Either may be absent; at least one is always set.
	party      boundParty
	capability *rbac.Permission

	// Action is the history label appended on success.
	action string
	stage  request.Stage

	// needsTechnician marks edges whose payload must carry a technician id.
	needsTechnician bool

	// effect applies the row's side effects to the aggregate. Timestamps
	// are set exactly once; step mutations are idempotent.
	effect func(req *request.Request, actor *rbac.User, p Payload, now time.Time)
}

// permitted evaluates the edge's guard for the acting user. Pure; no side
// effects.
func (r rule) permitted(req *request.Request, actor *rbac.User, gate *rbac.Gate) bool {
	if actor == nil {
		return false
	}
	switch r.party {
	case bindRequester:
		if req.RequesterID == actor.ID {
			return true
		}
	case bindTechnician:
		if req.TechnicianID != nil && *req.TechnicianID == actor.ID {
			return true
		}
	}
	if r.capability != nil && gate.Authorize(actor, *r.capability) {
		return true
	}
	return false
}

// transitionTable is the closed state graph of the request lifecycle. An
// absent (status, transition) pair is an illegal transition; terminal states
// (fermee, rejetee) have no entry at all.
var transitionTable = map[request.Status]map[Transition]rule{
	request.StatusBrouillon: {
		TransitionSubmit: {
			To:     request.StatusSoumise,
			party:  bindRequester,
			action: ActionSubmission,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				if req.SubmittedAt == nil {
					req.SubmittedAt = &now
				}
			},
		},
	},
	request.StatusSoumise: {
		TransitionStartVerification: {
			To:         request.StatusVerification,
			capability: &rbac.PermVerify,
			action:     ActionVerificationStarted,
			stage:      request.StageVerification,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				req.StartStep(request.StageVerification, actor.ID, now)
				if req.VerifierID == nil {
					id := actor.ID
					req.VerifierID = &id
				}
			},
		},
	},
	request.StatusVerification: {
		TransitionApproveVerification: {
			To:         request.StatusValidationDEC,
			capability: &rbac.PermVerify,
			action:     ActionVerificationApproved,
			stage:      request.StageVerification,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				req.CompleteStep(request.StageVerification, p.Comment, now)
				if req.VerifiedAt == nil {
					req.VerifiedAt = &now
				}
				req.StartStep(request.StageValidationDEC, "", now)
			},
		},
		TransitionRejectVerification: {
			To:         request.StatusRejetee,
			capability: &rbac.PermVerify,
			action:     ActionVerificationRejected,
			stage:      request.StageVerification,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				req.RejectStep(request.StageVerification, p.Comment, now)
			},
		},
		TransitionRequestModification: {
			To:         request.StatusBrouillon,
			capability: &rbac.PermVerify,
			action:     ActionModificationRequest,
			stage:      request.StageVerification,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				// Explicit reset: the verifier binding is released, prior
				// workflow steps are retained in the ledger.
				req.VerifierID = nil
			},
		},
	},
	request.StatusValidationDEC: {
		TransitionApproveDEC: {
			To:         request.StatusValidationBAO,
			capability: &rbac.PermValidateDEC,
			action:     ActionDelegueApproved,
			stage:      request.StageValidationDEC,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				if req.DECValidatorID == nil {
					id := actor.ID
					req.DECValidatorID = &id
				}
				if req.DECValidatedAt == nil {
					req.DECValidatedAt = &now
				}
				step := req.CompleteStep(request.StageValidationDEC, p.Comment, now)
				if step.AssigneeID == nil {
					id := actor.ID
					step.AssigneeID = &id
				}
				req.StartStep(request.StageValidationBAO, "", now)
			},
		},
		TransitionRejectDEC: {
			To:         request.StatusRejetee,
			capability: &rbac.PermValidateDEC,
			action:     ActionDelegueRejected,
			stage:      request.StageValidationDEC,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				req.RejectStep(request.StageValidationDEC, p.Comment, now)
			},
		},
	},
	request.StatusValidationBAO: {
		TransitionApproveBAO: {
			To:         request.StatusApprouvee,
			capability: &rbac.PermValidateBAO,
			action:     ActionBAOApproved,
			stage:      request.StageValidationBAO,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				if req.BAOValidatorID == nil {
					id := actor.ID
					req.BAOValidatorID = &id
				}
				if req.BAOValidatedAt == nil {
					req.BAOValidatedAt = &now
				}
				step := req.CompleteStep(request.StageValidationBAO, p.Comment, now)
				if step.AssigneeID == nil {
					id := actor.ID
					step.AssigneeID = &id
				}
			},
		},
		TransitionRejectBAO: {
			To:         request.StatusRejetee,
			capability: &rbac.PermValidateBAO,
			action:     ActionBAORejected,
			stage:      request.StageValidationBAO,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				req.RejectStep(request.StageValidationBAO, p.Comment, now)
			},
		},
	},
	request.StatusApprouvee: {
		TransitionAssign: {
			To:              request.StatusAssignee,
			capability:      &rbac.PermAssign,
			action:          ActionAssigned,
			stage:           request.StageAssignation,
			needsTechnician: true,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				if req.TechnicianID == nil {
					id := p.TechnicianID
					req.TechnicianID = &id
				}
				if req.AssignedByID == nil {
					id := actor.ID
					req.AssignedByID = &id
				}
				if req.AssignedAt == nil {
					req.AssignedAt = &now
				}
				step := req.CompleteStep(request.StageAssignation, p.Comment, now)
				if step.AssigneeID == nil {
					id := p.TechnicianID
					step.AssigneeID = &id
				}
			},
		},
	},
	request.StatusAssignee: {
		TransitionStartProcessing: {
			To:         request.StatusEnCours,
			party:      bindTechnician,
			capability: &rbac.PermAssign,
			action:     ActionProcessingStarted,
			stage:      request.StageResolution,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				assignee := ""
				if req.TechnicianID != nil {
					assignee = *req.TechnicianID
				}
				req.StartStep(request.StageResolution, assignee, now)
			},
		},
	},
	request.StatusEnCours: {
		TransitionResolve: {
			To:         request.StatusResolue,
			party:      bindTechnician,
			capability: &rbac.PermManage,
			action:     ActionResolved,
			stage:      request.StageResolution,
			effect: func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {
				req.CompleteStep(request.StageResolution, p.Comment, now)
				if req.ResolvedAt == nil {
					req.ResolvedAt = &now
				}
			},
		},
	},
	request.StatusResolue: {
		TransitionClose: {
			To:         request.StatusFermee,
			party:      bindRequester,
			capability: &rbac.PermManage,
			action:     ActionClosed,
			effect:     func(req *request.Request, actor *rbac.User, p Payload, now time.Time) {},
		},
	},
}

// AllowedTransitions returns the transition names legal from the given
// status, in no particular order. Terminal states return nothing.
func AllowedTransitions(status request.Status) []Transition {
	edges, ok := transitionTable[status]
	if !ok {
		return nil
	}
	out := make([]Transition, 0, len(edges))
	for name := range edges {
		out = append(out, name)
	}
	return out
}

// ParseTransition maps a wire name to a Transition, reporting whether the
// name is part of the canonical vocabulary.
func ParseTransition(name string) (Transition, bool) {
	for _, t := range AllTransitions() {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// AllTransitions returns every transition name in the table.
func AllTransitions() []Transition {
	return []Transition{
		TransitionSubmit,
		TransitionStartVerification,
		TransitionApproveVerification,
		TransitionRejectVerification,
		TransitionRequestModification,
		TransitionApproveDEC,
		TransitionRejectDEC,
		TransitionApproveBAO,
		TransitionRejectBAO,
		TransitionAssign,
		TransitionStartProcessing,
		TransitionResolve,
		TransitionClose,
	}
}

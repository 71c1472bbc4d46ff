// Package workflow implements the request lifecycle state machine: a closed
// transition table combining legality, authorization guards and side effects
// per edge, applied atomically against one request aggregate at a time.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/opsdesk/guichet/pkg/audit"
	"github.com/opsdesk/guichet/pkg/notify"
	"github.com/opsdesk/guichet/pkg/observability"
	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/request"
	"github.com/opsdesk/guichet/pkg/storage"
)

// Payload carries the transition-specific input fields.
type Payload struct {
	// TechnicianID is required by the assign transition.
	TechnicianID string `json:"technician_id,omitempty"`

	// Comment is attached to the touched workflow step and the history
	// entry.
	Comment string `json:"comment,omitempty"`
}

// Engine applies transitions to request aggregates. Each Apply call is a
// single-writer operation: load, validate, mutate, save under optimistic
// concurrency. The engine itself holds no state between calls.
type Engine struct {
	repo     storage.Repository
	gate     *rbac.Gate
	auditLog audit.Logger
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *observability.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuditLogger sets the audit sink.
func WithAuditLogger(l audit.Logger) Option {
	return func(e *Engine) { e.auditLog = l }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a workflow engine over the given repository.
func NewEngine(repo storage.Repository, gate *rbac.Gate, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		gate:     gate,
		auditLog: audit.NopLogger{},
		notifier: notify.NopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply executes one named transition on the request as the given actor.
// On success it returns the persisted aggregate at its new version. On any
// failure the stored aggregate is untouched and a typed *Error is returned.
func (e *Engine) Apply(ctx context.Context, requestID string, transition Transition, actor *rbac.User, payload Payload) (*request.Request, error) {
	start := time.Now()
	req, err := e.apply(ctx, requestID, transition, actor, payload)
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveTransition(string(transition), outcome, time.Since(start))
	}
	return req, err
}

func (e *Engine) apply(ctx context.Context, requestID string, transition Transition, actor *rbac.User, payload Payload) (*request.Request, error) {
	req, err := e.repo.LoadRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotFound, transition, "", "request %s not found", requestID)
		}
		return nil, err
	}

	edges, ok := transitionTable[req.Status]
	if !ok {
		// Terminal state: no outgoing edges at all.
		return nil, newError(KindIllegalTransition, transition, req.Status,
			"status %s is terminal", req.Status)
	}
	r, ok := edges[transition]
	if !ok {
		return nil, newError(KindIllegalTransition, transition, req.Status,
			"no transition %q from status %s", transition, req.Status)
	}

	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}

	if !r.permitted(req, actor, e.gate) {
		e.recordAudit(ctx, audit.NewRecord(audit.ActionAccessDenied, audit.StatusDenied,
			actorID, "request", req.ID,
			"transition "+string(transition)+" denied from status "+string(req.Status)))
		return nil, newError(KindUnauthorized, transition, req.Status,
			"actor %s is not permitted to %s", actorID, transition)
	}

	if r.needsTechnician && payload.TechnicianID == "" {
		return nil, newError(KindInvalidPayload, transition, req.Status,
			"transition %s requires a technician id", transition)
	}

	now := e.now()
	from := req.Status
	req.Status = r.To
	r.effect(req, actor, payload, now)
	req.AppendHistory(r.action, actorID, payload.Comment, r.stage, now)
	req.UpdatedAt = now

	if err := e.repo.SaveRequest(ctx, req); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return nil, newError(KindStaleState, transition, from,
				"request %s was modified concurrently", req.ID)
		case errors.Is(err, storage.ErrNotFound):
			return nil, newError(KindNotFound, transition, from, "request %s not found", req.ID)
		default:
			return nil, err
		}
	}

	e.recordAudit(ctx, audit.NewRecord(audit.ActionTransition, audit.StatusSuccess,
		actorID, "request", req.ID,
		string(from)+" -> "+string(req.Status)+" ("+string(transition)+")"))
	e.sendNotifications(ctx, req, transition, actorID)

	if e.logger != nil {
		e.logger.InfoContext(ctx, "transition applied",
			"request", req.Reference,
			"transition", string(transition),
			"from", string(from),
			"to", string(req.Status),
			"actor", actorID,
		)
	}
	return req, nil
}

// recordAudit writes to the audit sink, swallowing failures: audit delivery
// is best-effort and never rolls back a transition.
func (e *Engine) recordAudit(ctx context.Context, rec *audit.Record) {
	if err := e.auditLog.Record(ctx, rec); err != nil {
		if e.metrics != nil {
			e.metrics.AuditWriteErrorsTotal.Inc()
		}
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "audit record failed", "action", string(rec.Action), "error", err)
		}
		return
	}
	if e.metrics != nil {
		e.metrics.AuditRecordsTotal.WithLabelValues(string(rec.Action), string(rec.Status)).Inc()
	}
}

var transitionEvents = map[Transition]notify.Event{
	TransitionSubmit:              notify.EventSubmitted,
	TransitionStartVerification:   notify.EventVerificationStart,
	TransitionApproveVerification: notify.EventVerified,
	TransitionRejectVerification:  notify.EventRejected,
	TransitionRequestModification: notify.EventModificationAsked,
	TransitionApproveDEC:          notify.EventDECApproved,
	TransitionRejectDEC:           notify.EventRejected,
	TransitionApproveBAO:          notify.EventBAOApproved,
	TransitionRejectBAO:           notify.EventRejected,
	TransitionAssign:              notify.EventAssigned,
	TransitionStartProcessing:     notify.EventProcessingStarted,
	TransitionResolve:             notify.EventResolved,
	TransitionClose:               notify.EventClosed,
}

// sendNotifications emits fire-and-forget notifications for a successful
// transition: the requester always hears about progress on their request
// (unless they acted themselves), and a newly assigned technician is told
// about the assignment.
func (e *Engine) sendNotifications(ctx context.Context, req *request.Request, transition Transition, actorID string) {
	event, ok := transitionEvents[transition]
	if !ok {
		return
	}

	if req.RequesterID != "" && req.RequesterID != actorID {
		e.emit(ctx, notify.New(req.RequesterID, event, req.Reference))
	}
	if event == notify.EventAssigned && req.TechnicianID != nil && *req.TechnicianID != actorID {
		e.emit(ctx, notify.New(*req.TechnicianID, event, req.Reference))
	}
}

func (e *Engine) emit(ctx context.Context, n notify.Notification) {
	_ = e.notifier.Notify(ctx, n)
	if e.metrics != nil {
		e.metrics.NotificationsTotal.WithLabelValues(string(n.Event)).Inc()
	}
}

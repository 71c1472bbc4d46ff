package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/opsdesk/guichet/pkg/contextkeys"
	"github.com/opsdesk/guichet/pkg/httputil"
	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/request"
	"github.com/opsdesk/guichet/pkg/storage"
	"github.com/opsdesk/guichet/pkg/workflow"
)

// actorFrom returns the resolved actor, writing a 401 when the middleware
// did not attach one.
func actorFrom(w http.ResponseWriter, r *http.Request) (*rbac.User, bool) {
	actor := contextkeys.Actor(r.Context())
	if actor == nil {
		httputil.WriteUnauthorized(w, "no acting user")
		return nil, false
	}
	return actor, true
}

func (s *Server) requirePermission(w http.ResponseWriter, actor *rbac.User, required rbac.Permission) bool {
	if !s.gate.Authorize(actor, required) {
		httputil.WriteForbidden(w, "missing permission "+required.String())
		return false
	}
	return true
}

type createRequestInput struct {
	Subject     string           `json:"subject"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Priority    request.Priority `json:"priority"`
}

// createRequest handles POST /api/v1/requests
func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleAssistance, Action: rbac.ActionCreate}) {
		return
	}

	var input createRequestInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if !httputil.RequireNonEmpty(w, input.Subject, "subject") {
		return
	}
	if input.Priority != "" && !input.Priority.Valid() {
		httputil.WriteBadRequest(w, "unknown priority "+string(input.Priority))
		return
	}

	req := request.New(actor.ID, input.Subject, input.Category, input.Priority)
	req.Description = input.Description

	if err := s.repo.CreateRequest(r.Context(), req); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.logger != nil {
		s.logger.InfoContext(r.Context(), "request created",
			"request", req.Reference, "requester", actor.ID)
	}
	httputil.WriteCreated(w, req)
}

// getRequest handles GET /api/v1/requests/{id}
func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	req, err := s.repo.LoadRequest(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

// listRequests handles GET /api/v1/requests
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := storage.Filter{
		Status:      request.Status(httputil.ParseQueryString(r, "status", "")),
		RequesterID: httputil.ParseQueryString(r, "requester_id", ""),
		Category:    httputil.ParseQueryString(r, "category", ""),
		Limit:       limit,
		Offset:      offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.WriteBadRequest(w, "unknown status "+string(filter.Status))
		return
	}

	requests, err := s.repo.ListRequests(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if requests == nil {
		requests = []*request.Request{}
	}
	httputil.WriteSuccess(w, requests)
}

type updateRequestInput struct {
	Subject     *string           `json:"subject"`
	Description *string           `json:"description"`
	Category    *string           `json:"category"`
	Priority    *request.Priority `json:"priority"`
}

// updateRequest handles PUT /api/v1/requests/{id}. Only drafts are editable;
// everything after submission changes through transitions only.
func (s *Server) updateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var input updateRequestInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	req, err := s.repo.LoadRequest(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if req.Status != request.StatusBrouillon {
		httputil.WriteCodedError(w, http.StatusConflict, string(workflow.KindIllegalTransition),
			"only draft requests are editable")
		return
	}
	isOwner := req.RequesterID == actor.ID
	if !isOwner && !s.gate.Authorize(actor, rbac.Permission{Module: rbac.ModuleAssistance, Action: rbac.ActionUpdate}) {
		httputil.WriteForbidden(w, "only the requester may edit a draft")
		return
	}

	if input.Subject != nil {
		if !httputil.RequireNonEmpty(w, *input.Subject, "subject") {
			return
		}
		req.Subject = *input.Subject
	}
	if input.Description != nil {
		req.Description = *input.Description
	}
	if input.Category != nil {
		req.Category = *input.Category
	}
	if input.Priority != nil {
		if !input.Priority.Valid() {
			httputil.WriteBadRequest(w, "unknown priority "+string(*input.Priority))
			return
		}
		req.Priority = *input.Priority
	}

	if err := s.repo.SaveRequest(r.Context(), req); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

// getHistory handles GET /api/v1/requests/{id}/history
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	req, err := s.repo.LoadRequest(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	history := req.History
	if history == nil {
		history = []request.HistoryEntry{}
	}
	httputil.WriteSuccess(w, history)
}

// listTransitions handles GET /api/v1/requests/{id}/transitions, returning
// the transition names legal from the request's current status.
func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	req, err := s.repo.LoadRequest(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	transitions := workflow.AllowedTransitions(req.Status)
	if transitions == nil {
		transitions = []workflow.Transition{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":      req.Status,
		"transitions": transitions,
	})
}

// applyTransition handles POST /api/v1/requests/{id}/transitions/{name}
func (s *Server) applyTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	transition, ok := workflow.ParseTransition(name)
	if !ok {
		httputil.WriteCodedError(w, http.StatusBadRequest, string(workflow.KindInvalidPayload),
			"unknown transition "+name)
		return
	}

	// The body is optional: most transitions carry no payload.
	var payload workflow.Payload
	if err := httputil.ParseJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	req, err := s.engine.Apply(r.Context(), id, transition, actor, payload)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

package api

import (
	"net/http"

	"github.com/opsdesk/guichet/pkg/audit"
	"github.com/opsdesk/guichet/pkg/httputil"
	"github.com/opsdesk/guichet/pkg/rbac"
)

// searchAudit handles GET /api/v1/audit
func (s *Server) searchAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleAudit, Action: rbac.ActionRead}) {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := audit.Filter{
		ActorID:    httputil.ParseQueryString(r, "actor_id", ""),
		Status:     audit.Status(httputil.ParseQueryString(r, "status", "")),
		EntityType: httputil.ParseQueryString(r, "entity_type", ""),
		EntityID:   httputil.ParseQueryString(r, "entity_id", ""),
		Limit:      limit,
		Offset:     offset,
	}
	if action := httputil.ParseQueryString(r, "action", ""); action != "" {
		filter.Actions = []audit.Action{audit.Action(action)}
	}

	records, err := s.auditLog.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	httputil.WriteSuccess(w, records)
}

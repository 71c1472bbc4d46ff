package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/guichet/pkg/audit"
	"github.com/opsdesk/guichet/pkg/contextkeys"
	"github.com/opsdesk/guichet/pkg/httputil"
	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/request"
	"github.com/opsdesk/guichet/pkg/storage"
	"github.com/opsdesk/guichet/pkg/workflow"
)

func roleByName(t *testing.T, name string) rbac.Role {
	t.Helper()
	for _, role := range rbac.BuiltInRoles() {
		if role.Name == name {
			return role
		}
	}
	t.Fatalf("unknown built-in role %q", name)
	return rbac.Role{}
}

func newActor(t *testing.T, id string, roleNames ...string) *rbac.User {
	t.Helper()
	user := &rbac.User{ID: id, Username: id}
	for _, name := range roleNames {
		user.Roles = append(user.Roles, roleByName(t, name))
	}
	return user
}

type testServer struct {
	server *Server
	repo   *storage.MemoryRepository
}

func newTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()
	repo := storage.NewMemoryRepository()
	gate := rbac.NewGate()
	engine := workflow.NewEngine(repo, gate)
	return &testServer{
		server: NewServer(engine, repo, gate, opts...),
		repo:   repo,
	}
}

func (ts *testServer) do(t *testing.T, actor *rbac.User, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req = req.WithContext(contextkeys.WithActor(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decodeRequest(t *testing.T, rec *httptest.ResponseRecorder) *request.Request {
	t.Helper()
	var req request.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	return &req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func TestCreateRequest(t *testing.T) {
	ts := newTestServer(t)
	actor := newActor(t, "u-1", rbac.RoleDemandeur)

	rec := ts.do(t, actor, http.MethodPost, "/api/v1/requests", map[string]string{
		"subject":     "imprimante en panne",
		"description": "bourrage papier permanent",
		"category":    "materiel",
		"priority":    "haute",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req := decodeRequest(t, rec)
	assert.Equal(t, request.StatusBrouillon, req.Status)
	assert.Equal(t, "u-1", req.RequesterID)
	assert.Equal(t, request.PriorityHaute, req.Priority)
	assert.NotEmpty(t, req.Reference)
	assert.Empty(t, req.History)
}

func TestCreateRequest_Validation(t *testing.T) {
	ts := newTestServer(t)
	actor := newActor(t, "u-1", rbac.RoleDemandeur)

	t.Run("missing subject", func(t *testing.T) {
		rec := ts.do(t, actor, http.MethodPost, "/api/v1/requests", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown priority", func(t *testing.T) {
		rec := ts.do(t, actor, http.MethodPost, "/api/v1/requests", map[string]string{
			"subject":  "x",
			"priority": "urgentissime",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no actor", func(t *testing.T) {
		rec := ts.do(t, nil, http.MethodPost, "/api/v1/requests", map[string]string{"subject": "x"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no create permission", func(t *testing.T) {
		outsider := newActor(t, "u-2", rbac.RoleTechnicien)
		rec := ts.do(t, outsider, http.MethodPost, "/api/v1/requests", map[string]string{"subject": "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestGetRequest(t *testing.T) {
	ts := newTestServer(t)
	actor := newActor(t, "u-1", rbac.RoleDemandeur)

	seed := request.New("u-1", "ecran noir", "materiel", request.PriorityNormale)
	require.NoError(t, ts.repo.CreateRequest(context.Background(), seed))

	rec := ts.do(t, actor, http.MethodGet, "/api/v1/requests/"+seed.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, seed.ID, decodeRequest(t, rec).ID)

	rec = ts.do(t, actor, http.MethodGet, "/api/v1/requests/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRequests(t *testing.T) {
	ts := newTestServer(t)
	actor := newActor(t, "u-1", rbac.RoleDemandeur)

	for i := 0; i < 3; i++ {
		seed := request.New("u-1", fmt.Sprintf("demande %d", i), "reseau", request.PriorityNormale)
		require.NoError(t, ts.repo.CreateRequest(context.Background(), seed))
	}
	other := request.New("u-2", "autre", "logiciel", request.PriorityNormale)
	require.NoError(t, ts.repo.CreateRequest(context.Background(), other))

	rec := ts.do(t, actor, http.MethodGet, "/api/v1/requests?requester_id=u-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []*request.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 3)

	rec = ts.do(t, actor, http.MethodGet, "/api/v1/requests?status=pas_un_statut", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRequest(t *testing.T) {
	ts := newTestServer(t)
	owner := newActor(t, "u-1", rbac.RoleDemandeur)

	seed := request.New("u-1", "sujet initial", "materiel", request.PriorityNormale)
	require.NoError(t, ts.repo.CreateRequest(context.Background(), seed))

	rec := ts.do(t, owner, http.MethodPut, "/api/v1/requests/"+seed.ID, map[string]string{
		"subject":  "sujet corrige",
		"priority": "critique",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeRequest(t, rec)
	assert.Equal(t, "sujet corrige", got.Subject)
	assert.Equal(t, request.PriorityCritique, got.Priority)

	t.Run("non-owner forbidden", func(t *testing.T) {
		stranger := newActor(t, "u-2", rbac.RoleDemandeur)
		rec := ts.do(t, stranger, http.MethodPut, "/api/v1/requests/"+seed.ID, map[string]string{"description": "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("submitted request not editable", func(t *testing.T) {
		submit := ts.do(t, owner, http.MethodPost, "/api/v1/requests/"+seed.ID+"/transitions/submit", nil)
		require.Equal(t, http.StatusOK, submit.Code, submit.Body.String())

		rec := ts.do(t, owner, http.MethodPut, "/api/v1/requests/"+seed.ID, map[string]string{"subject": "trop tard"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestApplyTransition(t *testing.T) {
	ts := newTestServer(t)
	owner := newActor(t, "u-1", rbac.RoleDemandeur)

	seed := request.New("u-1", "vpn inaccessible", "reseau", request.PriorityHaute)
	require.NoError(t, ts.repo.CreateRequest(context.Background(), seed))

	rec := ts.do(t, owner, http.MethodPost, "/api/v1/requests/"+seed.ID+"/transitions/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeRequest(t, rec)
	assert.Equal(t, request.StatusSoumise, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, workflow.ActionSubmission, got.History[0].Action)
	assert.NotNil(t, got.SubmittedAt)
}

func TestApplyTransition_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	owner := newActor(t, "u-1", rbac.RoleDemandeur)

	seed := request.New("u-1", "sujet", "", request.PriorityNormale)
	require.NoError(t, ts.repo.CreateRequest(context.Background(), seed))

	t.Run("unauthorized is 403", func(t *testing.T) {
		outsider := newActor(t, "u-9", rbac.RoleTechnicien)
		rec := ts.do(t, outsider, http.MethodPost, "/api/v1/requests/"+seed.ID+"/transitions/submit", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "unauthorized", errorCode(t, rec))
	})

	t.Run("illegal transition is 409", func(t *testing.T) {
		rec := ts.do(t, owner, http.MethodPost, "/api/v1/requests/"+seed.ID+"/transitions/resolve", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "illegal_transition", errorCode(t, rec))
	})

	t.Run("unknown transition name is 400", func(t *testing.T) {
		rec := ts.do(t, owner, http.MethodPost, "/api/v1/requests/"+seed.ID+"/transitions/teleport", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_payload", errorCode(t, rec))
	})

	t.Run("missing request is 404", func(t *testing.T) {
		rec := ts.do(t, owner, http.MethodPost, "/api/v1/requests/ghost/transitions/submit", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errorCode(t, rec))
	})

	t.Run("missing technician is 400", func(t *testing.T) {
		approved := request.New("u-1", "pret a assigner", "", request.PriorityNormale)
		approved.Status = request.StatusApprouvee
		require.NoError(t, ts.repo.CreateRequest(context.Background(), approved))

		admin := newActor(t, "admin-1", rbac.RoleAdmin)
		rec := ts.do(t, admin, http.MethodPost, "/api/v1/requests/"+approved.ID+"/transitions/assign", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_payload", errorCode(t, rec))
	})
}

type conflictRepo struct {
	storage.Repository
}

func (r *conflictRepo) SaveRequest(ctx context.Context, req *request.Request) error {
	return fmt.Errorf("request %s: %w", req.ID, storage.ErrConflict)
}

func TestApplyTransition_StaleStateIs409(t *testing.T) {
	mem := storage.NewMemoryRepository()
	seed := request.New("u-1", "sujet", "", request.PriorityNormale)
	require.NoError(t, mem.CreateRequest(context.Background(), seed))

	gate := rbac.NewGate()
	engine := workflow.NewEngine(&conflictRepo{Repository: mem}, gate)
	server := NewServer(engine, mem, gate)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+seed.ID+"/transitions/submit", nil)
	req = req.WithContext(contextkeys.WithActor(req.Context(), newActor(t, "u-1", rbac.RoleDemandeur)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stale_state", errorCode(t, rec))
}

func TestListTransitionsAndHistory(t *testing.T) {
	ts := newTestServer(t)
	owner := newActor(t, "u-1", rbac.RoleDemandeur)

	seed := request.New("u-1", "sujet", "", request.PriorityNormale)
	require.NoError(t, ts.repo.CreateRequest(context.Background(), seed))

	rec := ts.do(t, owner, http.MethodGet, "/api/v1/requests/"+seed.ID+"/transitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Status      request.Status        `json:"status"`
		Transitions []workflow.Transition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, request.StatusBrouillon, listing.Status)
	assert.Equal(t, []workflow.Transition{workflow.TransitionSubmit}, listing.Transitions)

	rec = ts.do(t, owner, http.MethodGet, "/api/v1/requests/"+seed.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

type stubDirectory struct {
	users     map[string]*rbac.User
	roles     map[int64]*rbac.Role
	assigned  []string
	nextID    int64
	createErr error
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		users:  map[string]*rbac.User{},
		roles:  map[int64]*rbac.Role{},
		nextID: 1,
	}
}

func (d *stubDirectory) GetUser(_ context.Context, userID string) (*rbac.User, error) {
	user, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, rbac.ErrNotFound)
	}
	return user, nil
}

func (d *stubDirectory) CreateUser(_ context.Context, user *rbac.User) error {
	if d.createErr != nil {
		return d.createErr
	}
	d.users[user.ID] = user
	return nil
}

func (d *stubDirectory) ListRoles(_ context.Context) ([]rbac.Role, error) {
	var out []rbac.Role
	for _, role := range d.roles {
		out = append(out, *role)
	}
	return out, nil
}

func (d *stubDirectory) CreateRole(_ context.Context, role *rbac.Role) error {
	role.ID = d.nextID
	d.nextID++
	d.roles[role.ID] = role
	return nil
}

func (d *stubDirectory) GetRole(_ context.Context, roleID int64) (*rbac.Role, error) {
	role, ok := d.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("role %d: %w", roleID, rbac.ErrNotFound)
	}
	cp := *role
	return &cp, nil
}

func (d *stubDirectory) UpdateRole(_ context.Context, role *rbac.Role) error {
	if _, ok := d.roles[role.ID]; !ok {
		return fmt.Errorf("role %d: %w", role.ID, rbac.ErrNotFound)
	}
	d.roles[role.ID] = role
	return nil
}

func (d *stubDirectory) DeleteRole(_ context.Context, roleID int64) error {
	if _, ok := d.roles[roleID]; !ok {
		return fmt.Errorf("role %d: %w", roleID, rbac.ErrNotFound)
	}
	delete(d.roles, roleID)
	return nil
}

func (d *stubDirectory) AssignRole(_ context.Context, userID string, roleID int64, grantedBy string) error {
	d.assigned = append(d.assigned, fmt.Sprintf("%s:%d:%s", userID, roleID, grantedBy))
	return nil
}

func (d *stubDirectory) UnassignRole(_ context.Context, userID string, roleID int64) error {
	return nil
}

func TestAdminEndpoints(t *testing.T) {
	dir := newStubDirectory()
	ts := newTestServer(t, WithDirectory(dir))
	admin := newActor(t, "admin-1", rbac.RoleAdmin)

	t.Run("create user", func(t *testing.T) {
		rec := ts.do(t, admin, http.MethodPost, "/api/v1/users", map[string]string{
			"id": "u-7", "username": "martin",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Contains(t, dir.users, "u-7")
	})

	t.Run("create user requires permission", func(t *testing.T) {
		rec := ts.do(t, newActor(t, "u-1", rbac.RoleDemandeur), http.MethodPost, "/api/v1/users", map[string]string{
			"id": "u-8", "username": "x",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("role lifecycle", func(t *testing.T) {
		rec := ts.do(t, admin, http.MethodPost, "/api/v1/roles", map[string]interface{}{
			"name":        "support_n2",
			"description": "escalation",
			"permissions": []map[string]string{{"module": "assistance", "action": "read"}},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var created rbac.Role
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

		rec = ts.do(t, admin, http.MethodPut, fmt.Sprintf("/api/v1/roles/%d", created.ID), map[string]interface{}{
			"description": "escalation niveau 2",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, admin, http.MethodDelete, fmt.Sprintf("/api/v1/roles/%d", created.ID), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("built-in role protected", func(t *testing.T) {
		builtin := &rbac.Role{Name: rbac.RoleVerifieur, IsBuiltIn: true}
		require.NoError(t, dir.CreateRole(context.Background(), builtin))

		rec := ts.do(t, admin, http.MethodPut, fmt.Sprintf("/api/v1/roles/%d", builtin.ID), map[string]interface{}{
			"description": "x",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = ts.do(t, admin, http.MethodDelete, fmt.Sprintf("/api/v1/roles/%d", builtin.ID), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("assign role", func(t *testing.T) {
		rec := ts.do(t, admin, http.MethodPut, "/api/v1/users/u-7/roles/3", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, dir.assigned, "u-7:3:admin-1")
	})
}

type stubSearcher struct {
	records   []*audit.Record
	gotFilter audit.Filter
}

func (s *stubSearcher) Search(_ context.Context, f audit.Filter) ([]*audit.Record, error) {
	s.gotFilter = f
	return s.records, nil
}

func TestSearchAudit(t *testing.T) {
	searcher := &stubSearcher{records: []*audit.Record{
		audit.NewRecord(audit.ActionTransition, audit.StatusSuccess, "u-1", "request", "r-1", "submit"),
	}}
	ts := newTestServer(t, WithAuditSearcher(searcher))
	admin := newActor(t, "admin-1", rbac.RoleAdmin)

	rec := ts.do(t, admin, http.MethodGet, "/api/v1/audit?actor_id=u-1&action=workflow.transition&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u-1", searcher.gotFilter.ActorID)
	assert.Equal(t, []audit.Action{audit.ActionTransition}, searcher.gotFilter.Actions)
	assert.Equal(t, 10, searcher.gotFilter.Limit)

	var got []*audit.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	t.Run("requires audit read", func(t *testing.T) {
		rec := ts.do(t, newActor(t, "u-1", rbac.RoleDemandeur), http.MethodGet, "/api/v1/audit", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

// Package api exposes the assistance request workflow over HTTP. Handlers
// stay thin: decode, resolve the actor from context, call the engine or
// store, map typed errors to status codes.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/opsdesk/guichet/pkg/audit"
	"github.com/opsdesk/guichet/pkg/observability"
	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/storage"
	"github.com/opsdesk/guichet/pkg/workflow"
)

// Directory is the slice of the rbac store the API needs for user and role
// administration.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*rbac.User, error)
	CreateUser(ctx context.Context, user *rbac.User) error
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	CreateRole(ctx context.Context, role *rbac.Role) error
	GetRole(ctx context.Context, roleID int64) (*rbac.Role, error)
	UpdateRole(ctx context.Context, role *rbac.Role) error
	DeleteRole(ctx context.Context, roleID int64) error
	AssignRole(ctx context.Context, userID string, roleID int64, grantedBy string) error
	UnassignRole(ctx context.Context, userID string, roleID int64) error
}

// AuditSearcher reads back the audit trail.
type AuditSearcher interface {
	Search(ctx context.Context, f audit.Filter) ([]*audit.Record, error)
}

// Server represents the API server
type Server struct {
	router    *mux.Router
	engine    *workflow.Engine
	repo      storage.Repository
	directory Directory
	auditLog  AuditSearcher
	gate      *rbac.Gate
	logger    *observability.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithDirectory enables the user/role admin endpoints.
func WithDirectory(d Directory) ServerOption {
	return func(s *Server) { s.directory = d }
}

// WithAuditSearcher enables the audit search endpoint.
func WithAuditSearcher(a AuditSearcher) ServerOption {
	return func(s *Server) { s.auditLog = a }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *observability.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the API server and registers its routes.
func NewServer(engine *workflow.Engine, repo storage.Repository, gate *rbac.Gate, opts ...ServerOption) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: engine,
		repo:   repo,
		gate:   gate,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Request routes
	s.router.HandleFunc("/api/v1/requests", s.createRequest).Methods("POST")
	s.router.HandleFunc("/api/v1/requests", s.listRequests).Methods("GET")
	s.router.HandleFunc("/api/v1/requests/{id}", s.getRequest).Methods("GET")
	s.router.HandleFunc("/api/v1/requests/{id}", s.updateRequest).Methods("PUT")
	s.router.HandleFunc("/api/v1/requests/{id}/history", s.getHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/requests/{id}/transitions", s.listTransitions).Methods("GET")
	s.router.HandleFunc("/api/v1/requests/{id}/transitions/{name}", s.applyTransition).Methods("POST")

	// User and role administration
	if s.directory != nil {
		s.router.HandleFunc("/api/v1/users", s.createUser).Methods("POST")
		s.router.HandleFunc("/api/v1/users/{id}", s.getUser).Methods("GET")
		s.router.HandleFunc("/api/v1/users/{id}/roles/{roleId}", s.assignRole).Methods("PUT")
		s.router.HandleFunc("/api/v1/users/{id}/roles/{roleId}", s.unassignRole).Methods("DELETE")
		s.router.HandleFunc("/api/v1/roles", s.createRole).Methods("POST")
		s.router.HandleFunc("/api/v1/roles", s.listRoles).Methods("GET")
		s.router.HandleFunc("/api/v1/roles/{id}", s.getRole).Methods("GET")
		s.router.HandleFunc("/api/v1/roles/{id}", s.updateRole).Methods("PUT")
		s.router.HandleFunc("/api/v1/roles/{id}", s.deleteRole).Methods("DELETE")
	}

	// Audit trail
	if s.auditLog != nil {
		s.router.HandleFunc("/api/v1/audit", s.searchAudit).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the mux router so the binary can wrap it in middleware.
func (s *Server) Router() *mux.Router {
	return s.router
}

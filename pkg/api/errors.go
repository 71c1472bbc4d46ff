package api

import (
	"errors"
	"net/http"

	"github.com/opsdesk/guichet/pkg/httputil"
	"github.com/opsdesk/guichet/pkg/rbac"
	"github.com/opsdesk/guichet/pkg/storage"
	"github.com/opsdesk/guichet/pkg/workflow"
)

// writeWorkflowError maps a workflow error kind to an HTTP status. Both
// illegal transitions and stale writes come back as 409: in either case the
// caller's view of the request is out of date and they should re-read.
func writeWorkflowError(w http.ResponseWriter, err error) {
	kind := workflow.KindOf(err)
	switch kind {
	case workflow.KindIllegalTransition:
		httputil.WriteCodedError(w, http.StatusConflict, string(kind), err.Error())
	case workflow.KindStaleState:
		httputil.WriteCodedError(w, http.StatusConflict, string(kind), err.Error())
	case workflow.KindUnauthorized:
		httputil.WriteCodedError(w, http.StatusForbidden, string(kind), err.Error())
	case workflow.KindInvalidPayload:
		httputil.WriteCodedError(w, http.StatusBadRequest, string(kind), err.Error())
	case workflow.KindNotFound:
		httputil.WriteCodedError(w, http.StatusNotFound, string(kind), err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// writeStoreError maps storage and rbac sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, rbac.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, storage.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

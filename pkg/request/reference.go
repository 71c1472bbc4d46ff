package request

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewReference returns a human-readable, lexicographically sortable request
// reference, e.g. "AST-01J9ZK...". References sort by creation time.
func NewReference() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "AST-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

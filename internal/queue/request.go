package queue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MethodKind tags how a queued request's HTTP method was determined. The tag
// is resolved once at enqueue time; replay never re-derives it.
type MethodKind string

const (
	// MethodExplicit means the caller supplied the HTTP method directly.
	MethodExplicit MethodKind = "explicit"
	// MethodInferred means the method was derived from an action tag.
	MethodInferred MethodKind = "inferred"
	// MethodUnknown means no method could be determined. Unknown entries are
	// dropped at replay rather than guessed: guessing risks replaying a read
	// as a destructive write.
	MethodUnknown MethodKind = "unknown"
)

// Action tags carried by legacy queue entries that predate explicit methods.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Request is one durable not-yet-confirmed mutation (or deferred read).
type Request struct {
	ID          string            `json:"id"`
	Endpoint    string            `json:"endpoint"`
	Kind        MethodKind        `json:"kind"`
	Method      string            `json:"method,omitempty"`
	Action      string            `json:"action,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Invalidate  []string          `json:"invalidate,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	LastAttempt *time.Time        `json:"last_attempt,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// ResolvedMethod returns the HTTP method to replay with. The second return is
// false for unknown entries, which cannot be safely replayed.
func (r *Request) ResolvedMethod() (string, bool) {
	if r.Kind == MethodUnknown || r.Method == "" {
		return "", false
	}
	return r.Method, true
}

// Exhausted reports whether the request has used up its retry budget.
func (r *Request) Exhausted() bool {
	return r.RetryCount > r.MaxRetries
}

// ReadOnlyFunc reports whether an endpoint is known to be read-only, used to
// resolve CREATE-tagged legacy entries that were actually deferred reads.
type ReadOnlyFunc func(endpoint string) bool

// Resolve fills in Kind and Method from what the caller supplied. Explicit
// methods win; otherwise the action tag is mapped (CREATE becomes GET for
// known read-only endpoints, POST elsewhere); anything else is Unknown.
func Resolve(method, action, endpoint string, readOnly ReadOnlyFunc) (MethodKind, string) {
	if method != "" {
		return MethodExplicit, method
	}
	switch action {
	case ActionCreate:
		if readOnly != nil && readOnly(endpoint) {
			return MethodInferred, http.MethodGet
		}
		return MethodInferred, http.MethodPost
	case ActionUpdate:
		return MethodInferred, http.MethodPut
	case ActionDelete:
		return MethodInferred, http.MethodDelete
	}
	return MethodUnknown, ""
}

// newID builds a monotonic-ish id: zero-padded nanosecond timestamp plus a
// random suffix, so lexicographic key order matches enqueue order.
func newID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString()[:8])
}

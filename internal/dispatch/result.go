package dispatch

import (
	"encoding/json"
	"fmt"
)

// Class partitions request failures by what the caller can do about them.
type Class string

const (
	// ClassQueued: no connectivity, the request was persisted for later
	// replay. Not an error from the user's point of view.
	ClassQueued Class = "queued"
	// ClassOffline: no connectivity and the call had no offline fallback.
	ClassOffline Class = "offline"
	// ClassTransport: timeout/abort/DNS after exhausting retries.
	ClassTransport Class = "transport"
	// ClassRateLimited: the server kept answering 429 past the retry budget.
	ClassRateLimited Class = "rate_limited"
	// ClassClient: terminal 4xx (other than 401/429). Retrying cannot help.
	ClassClient Class = "client"
	// ClassSession: 401 on a non-auth endpoint; the session was invalidated.
	ClassSession Class = "session"
	// ClassServer: 5xx after exhausting retries.
	ClassServer Class = "server"
)

// Terminal reports whether a replay of the same request can ever succeed.
func (c Class) Terminal() bool {
	return c == ClassClient || c == ClassSession
}

// Failure describes one classified request failure.
type Failure struct {
	Class   Class
	Status  int    // HTTP status when one was received, else 0
	Message string
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", f.Class, f.Status, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Class, f.Message)
}

// Result is the uniform outcome of a dispatched request. Exactly one of
// Success/Failure is meaningful; no error ever crosses the package boundary
// any other way.
type Result struct {
	Success bool
	Status  int
	Data    json.RawMessage
	Failure *Failure
	// QueuedID is set when the request was persisted for later replay.
	QueuedID string
}

// Queued reports whether the request was stored for later sync.
func (r Result) Queued() bool {
	return r.Failure != nil && r.Failure.Class == ClassQueued
}

// SessionExpired reports whether the failure invalidated the session.
func (r Result) SessionExpired() bool {
	return r.Failure != nil && r.Failure.Class == ClassSession
}

// RateLimited reports whether the server asked us to slow down.
func (r Result) RateLimited() bool {
	return r.Failure != nil && r.Failure.Class == ClassRateLimited
}

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func failure(class Class, status int, format string, args ...any) Result {
	return Result{
		Status:  status,
		Failure: &Failure{Class: class, Status: status, Message: fmt.Sprintf(format, args...)},
	}
}

// envelope is the server's standard response wrapper:
// {success: bool, data?: T, error?: string, message?: string}.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// unwrap extracts the data payload and error text from a response body. Bodies
// that don't carry the envelope are passed through as-is.
func unwrap(body []byte) (data json.RawMessage, errMsg string) {
	if len(body) == 0 {
		return nil, ""
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Success == nil {
		return body, ""
	}
	msg := env.Error
	if msg == "" {
		msg = env.Message
	}
	if *env.Success {
		if env.Data != nil {
			return env.Data, ""
		}
		return body, ""
	}
	return nil, msg
}

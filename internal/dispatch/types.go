package dispatch

import (
	"context"
	"strings"
)

// Request is one queued operation.
type Request struct {
	Origin    string
	Operation string
	Parts     []string       // Operation split on whitespace
	Params    map[string]any // opaque caller parameters
	Meta      map[string]any // echoed verbatim on the Response

	ctx      context.Context
	future   *Future
	sentinel bool
}

// Context returns the context the request was submitted with.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Arg returns the i-th word of the operation or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Parts) {
		return ""
	}
	return r.Parts[i]
}

// Param returns a string parameter or "".
func (r *Request) Param(key string) string {
	if v, ok := r.Params[key].(string); ok {
		return v
	}
	return ""
}

// Response is produced exactly once for every dequeued Request.
type Response struct {
	Origin    string         `json:"origin"`
	Operation string         `json:"operation"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Next      string         `json:"next,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// TraceID returns the correlation id attached at submit time.
func (r Response) TraceID() string {
	id, _ := r.Meta[TraceKey].(string)
	return id
}

// Result is what a handler hands back to the worker.
type Result struct {
	Message string
	Success bool
	Next    string
	Data    map[string]any
}

// OK builds a successful result.
func OK(msg string) *Result {
	return &Result{Message: msg, Success: true}
}

// Fail builds a failed result.
func Fail(msg string) *Result {
	return &Result{Message: msg}
}

// WithData attaches a structured payload.
func (r *Result) WithData(data map[string]any) *Result {
	r.Data = data
	return r
}

// WithNext attaches a navigation hint.
func (r *Result) WithNext(next string) *Result {
	r.Next = next
	return r
}

// Handler executes one operation. A nil result with a nil error is malformed.
type Handler func(ctx context.Context, req *Request) (*Result, error)

// Subscriber receives every Response a dispatcher produces.
type Subscriber func(Response)

// SubscriptionID identifies a registered Subscriber.
type SubscriptionID uint64

// KeyFunc maps an operation to its handler key.
type KeyFunc func(operation string) string

// FirstWord keys commands by their lower-cased first word.
func FirstWord(operation string) string {
	fields := strings.Fields(operation)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// WholeOperation keys typed requests by the trimmed operation string.
func WholeOperation(operation string) string {
	return strings.TrimSpace(operation)
}

package grpcdispatch

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"
)

// StreamKind identifies the streaming shape a handler was registered for.
// It is part of the registry key: the same service/method may have distinct
// registrations per kind, and the binder probes kinds in a fixed order.
type StreamKind int

const (
	// StreamKindNone matches methods whose request is a single message.
	StreamKindNone StreamKind = iota

	// StreamKindRequestOnly matches request-streaming methods whose handler
	// takes over the raw call (no request-sequence conversion).
	StreamKindRequestOnly

	// StreamKindPush matches request-streaming methods whose handler consumes
	// the inbound messages as a [Source].
	StreamKindPush
)

// String returns a short name for the kind, for logging.
func (k StreamKind) String() string {
	switch k {
	case StreamKindNone:
		return "none"
	case StreamKindRequestOnly:
		return "request_only"
	case StreamKindPush:
		return "push"
	default:
		return fmt.Sprintf("StreamKind(%d)", int(k))
	}
}

// Pattern is the registry key for a handler registration. Patterns are
// compared structurally - two patterns with equal field values identify the
// same registration.
type Pattern struct {
	// Service is the fully-qualified service name (e.g. "pkg.GreetService").
	Service string
	// Method is the method name as the service definition spells it.
	Method string
	// Kind is the streaming shape the handler expects.
	Kind StreamKind
}

// Handler processes a dispatched call and produces its response sequence.
//
// For methods bound with [StreamKindNone], req is the decoded request
// message. For request-streaming methods bound with [StreamKindPush], req is
// a [Source] of the inbound messages. The returned [Source] produces the
// response(s); for non-response-streaming methods its final value before
// completion becomes the single response. A non-nil error reports a setup
// failure; no response is produced.
//
// Handlers run on the loop goroutine and must not block. Long-running work
// should be dispatched to separate goroutines that feed the returned Source
// (see [FromChannel]).
type Handler func(ctx context.Context, req any, md metadata.MD, call Call) (Source, error)

// Callback delivers a single response message, or an error, to the peer.
// It is invoked exactly once per call.
type Callback func(msg any, err error)

// PassthroughHandler receives the raw [Call] for request-streaming methods
// registered with [StreamKindRequestOnly]. The handler has full manual
// control: it subscribes to the call's events and writes responses itself.
//
// For non-response-streaming methods, respond is non-nil and must be invoked
// exactly once. For response-streaming methods, respond is nil and the
// handler ends the call via [Call.End] or [Call.Fail].
type PassthroughHandler func(ctx context.Context, call Call, respond Callback)

// Registry maps patterns to handler functions. A handler registered under an
// already-present pattern silently replaces the previous one.
//
// Handlers must not be registered concurrently with dispatch. Register all
// handlers during setup, before the transport starts delivering calls -
// consistent with the [grpc.ServiceRegistrar] contract. Lookups during
// dispatch take no locks.
type Registry struct {
	handlers map[Pattern]any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Pattern]any)}
}

// Register stores a value-sequence handler under the given pattern.
// Panics if h is nil, or if the pattern's kind is [StreamKindRequestOnly]
// (request-only patterns take a [PassthroughHandler]).
func (r *Registry) Register(p Pattern, h Handler) {
	if h == nil {
		panic("grpcdispatch: handler must not be nil")
	}
	if p.Kind == StreamKindRequestOnly {
		panic(fmt.Sprintf("grpcdispatch: pattern %+v requires RegisterPassthrough", p))
	}
	r.store(p, h)
}

// RegisterPassthrough stores a raw-call handler under the given pattern.
// Panics if h is nil, or if the pattern's kind is not [StreamKindRequestOnly].
func (r *Registry) RegisterPassthrough(p Pattern, h PassthroughHandler) {
	if h == nil {
		panic("grpcdispatch: handler must not be nil")
	}
	if p.Kind != StreamKindRequestOnly {
		panic(fmt.Sprintf("grpcdispatch: pattern %+v requires Register", p))
	}
	r.store(p, h)
}

func (r *Registry) store(p Pattern, h any) {
	if r.handlers == nil {
		r.handlers = make(map[Pattern]any)
	}
	r.handlers[p] = h
}

// Lookup returns the handler registered under p, if any. The result is
// either a [Handler] or a [PassthroughHandler], per the pattern's kind.
func (r *Registry) Lookup(p Pattern) (any, bool) {
	h, ok := r.handlers[p]
	return h, ok
}

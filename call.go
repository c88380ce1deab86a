package grpcdispatch

import (
	"google.golang.org/grpc/metadata"
)

// Call is the per-RPC handle supplied by the transport. One Call exists per
// in-flight invocation; it is created by the transport before dispatch and
// torn down after End, Fail, or a cancel signal.
//
// All methods must be called on the loop goroutine. Transports that receive
// network events on other goroutines must submit them to the loop (see the
// bundled gRPC bridge for the canonical shape).
//
// Listener registration methods return a removal function; removing a
// listener that already fired is a no-op. The dispatch core removes every
// listener it registers on all call exit paths.
type Call interface {
	// Request returns the decoded request message for methods whose request
	// is a single value. For request-streaming methods it returns nil; the
	// inbound messages arrive via OnData.
	Request() any

	// Metadata returns the request metadata.
	Metadata() metadata.MD

	// Write sends one response message. The return value is the
	// clear-to-write signal: false means the transport is backpressured and
	// the caller should hold further messages until OnDrain fires. The
	// message passed to a Write returning false is still delivered.
	Write(msg any) bool

	// End completes the call successfully. Idempotent once the call reached
	// a terminal state.
	End()

	// Fail completes the call with an error, delivered on the call's error
	// channel to the peer.
	Fail(err error)

	// OnData registers a listener for inbound request messages
	// (request-streaming methods only).
	OnData(fn func(msg any)) (remove func())

	// OnEnd registers a listener for the end of the inbound request stream.
	OnEnd(fn func()) (remove func())

	// OnError registers a listener for transport errors observed while
	// reading the request stream.
	OnError(fn func(err error)) (remove func())

	// OnDrain registers a listener for the clear-to-write signal after a
	// Write returned false. While a writer holds undelivered messages the
	// transport must keep emitting drain events as capacity frees up.
	OnDrain(fn func()) (remove func())

	// OnCancel registers a listener for cancellation of the call by the peer
	// or the transport (timeouts included). Cancellation is terminal: no
	// further writes are delivered.
	OnCancel(fn func()) (remove func())
}

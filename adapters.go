package grpcdispatch

import (
	"context"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-grpcdispatch/internal/grpcutil"
)

// AdapterFunc is a bound method, ready for dispatch: it invokes the resolved
// handler for one inbound call and routes the result back onto the transport.
//
// For methods with a single response, respond delivers it (exactly one
// invocation per call); for response-streaming methods respond is ignored and
// responses are written to the call directly.
//
// Adapters run on the loop goroutine and do not block.
type AdapterFunc func(ctx context.Context, call Call, respond Callback)

// newUnaryAdapter adapts a [Handler] for a single-request, single-response
// method. The handler's result sequence is reduced to its final value.
func newUnaryAdapter(h Handler) AdapterFunc {
	return func(ctx context.Context, call Call, respond Callback) {
		src, err := h(ctx, call.Request(), call.Metadata(), call)
		if err != nil {
			respond(nil, err)
			return
		}
		if src == nil {
			src = Empty()
		}
		collectLast(call, src, respond)
	}
}

// newServerStreamAdapter adapts a [Handler] for a single-request,
// response-streaming method. A synchronous setup failure is reported as a
// call-level error; no writes are attempted after it.
func newServerStreamAdapter(h Handler, logger *logiface.Logger[logiface.Event]) AdapterFunc {
	return func(ctx context.Context, call Call, _ Callback) {
		src, err := h(ctx, call.Request(), call.Metadata(), call)
		if err != nil {
			call.Fail(err)
			return
		}
		if src == nil {
			src = Empty()
		}
		writeStream(call, src, logger)
	}
}

// newClientStreamAdapter adapts a [Handler] for a request-streaming method
// bound with [StreamKindPush]. Inbound call events are converted into the
// request [Source] handed to the handler: data produces a value, end
// completes the sequence, and a read error fails it - unless the error (or an
// explicit cancel signal) indicates the peer cancelled, which is a clean end
// of the request stream rather than a failure.
func newClientStreamAdapter(h Handler, responseStreaming bool, logger *logiface.Logger[logiface.Event]) AdapterFunc {
	return func(ctx context.Context, call Call, respond Callback) {
		requests := new(Pipe)

		var removeData, removeEnd, removeErr, removeCancel func()
		cleanup := func() {
			removeData()
			removeEnd()
			removeErr()
			removeCancel()
		}
		removeData = call.OnData(requests.Push)
		removeEnd = call.OnEnd(func() {
			cleanup()
			requests.Close()
		})
		removeErr = call.OnError(func(err error) {
			cleanup()
			if grpcutil.IsCancellation(err) {
				requests.Close()
				return
			}
			requests.CloseWithError(err)
		})
		removeCancel = call.OnCancel(func() {
			cleanup()
			requests.Close()
		})

		src, err := h(ctx, requests, call.Metadata(), call)
		if err != nil {
			cleanup()
			if responseStreaming {
				call.Fail(err)
			} else {
				respond(nil, err)
			}
			return
		}
		if src == nil {
			src = Empty()
		}
		if responseStreaming {
			writeStream(call, src, logger)
			return
		}
		collectLast(call, src, respond)
	}
}

// newPassthroughAdapter adapts a [PassthroughHandler] for a request-streaming
// method bound with [StreamKindRequestOnly]. The raw call is delegated to the
// handler; respond is forwarded only when the method has a single response.
func newPassthroughAdapter(h PassthroughHandler, responseStreaming bool) AdapterFunc {
	return func(ctx context.Context, call Call, respond Callback) {
		if responseStreaming {
			h(ctx, call, nil)
			return
		}
		h(ctx, call, respond)
	}
}

// lastCollector reduces a response [Source] to its final value and delivers
// it through the one-shot callback: the last value before completion (or
// cancellation), nil for an empty sequence, or the sequence's error. The
// callback fires exactly once; late emissions are suppressed.
type lastCollector struct {
	respond      Callback
	last         any
	unsubscribe  func()
	removeCancel func()
	done         bool
}

var _ Sink = (*lastCollector)(nil)

func collectLast(call Call, src Source, respond Callback) {
	c := &lastCollector{respond: respond}
	c.removeCancel = call.OnCancel(c.cancel)
	unsubscribe := src.Subscribe(c)
	if c.done {
		// Terminated synchronously, before Subscribe returned.
		unsubscribe()
		return
	}
	c.unsubscribe = unsubscribe
}

func (c *lastCollector) Next(msg any) {
	if !c.done {
		c.last = msg
	}
}

func (c *lastCollector) Complete() { c.finish(c.last, nil) }

func (c *lastCollector) Error(err error) { c.finish(nil, err) }

func (c *lastCollector) cancel() { c.finish(c.last, nil) }

func (c *lastCollector) finish(msg any, err error) {
	if c.done {
		return
	}
	c.done = true
	c.removeCancel()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.respond(msg, err)
}

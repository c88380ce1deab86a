package grpcdispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/joeycumines/go-grpcdispatch/internal/grpcutil"
)

// InstallServices binds each definition and registers the result with reg as
// a dynamically-constructed [grpc.ServiceDesc]: single-request/single-response
// methods as unary methods, everything else as streams with the appropriate
// direction flags. Services whose methods all resolved to no handler are not
// installed.
//
// The bundled bridge materializes wire messages via [dynamicpb], so every
// bound method must carry Input and Output descriptors (the loaders populate
// them). A loop (see [WithLoop]) is required: inbound stream events are
// pumped onto it, and handlers run on it.
//
// Install all services before the server starts listening.
func (d *Dispatcher) InstallServices(reg grpc.ServiceRegistrar, defs []ServiceDefinition) error {
	if d.loop == nil {
		return errors.New("grpcdispatch: InstallServices requires a loop (see WithLoop)")
	}
	for _, def := range defs {
		binding := d.BindService(def)
		if len(binding) == 0 {
			d.logger.Debug().
				Str("service", def.Name).
				Log("no methods bound, service not installed")
			continue
		}
		desc := &grpc.ServiceDesc{
			ServiceName: def.Name,
			HandlerType: (*any)(nil),
		}
		for _, name := range slices.Sorted(maps.Keys(binding)) {
			md := def.Methods[name]
			if md.Name == "" {
				md.Name = name
			}
			if md.Input == nil || md.Output == nil {
				return fmt.Errorf("grpcdispatch: method %s/%s: missing message descriptors", def.Name, name)
			}
			adapter := binding[name]
			if !md.RequestStreaming && !md.ResponseStreaming {
				desc.Methods = append(desc.Methods, grpc.MethodDesc{
					MethodName: md.WireName(),
					Handler:    d.unaryMethodHandler(def.Name, md, adapter),
				})
				continue
			}
			desc.Streams = append(desc.Streams, grpc.StreamDesc{
				StreamName:    md.WireName(),
				Handler:       d.streamMethodHandler(md, adapter),
				ServerStreams: md.ResponseStreaming,
				ClientStreams: md.RequestStreaming,
			})
		}
		reg.RegisterService(desc, struct{}{})
	}
	return nil
}

// unaryMethodHandler builds the [grpc.MethodDesc] handler for a unary method:
// decode into a dynamic message, dispatch the adapter on the loop, and block
// the transport goroutine until the one-shot callback fires.
func (d *Dispatcher) unaryMethodHandler(service string, md MethodDescriptor, adapter AdapterFunc) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	path := grpcutil.MethodPath(service, md.WireName())
	input := md.Input
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(input)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
		}
		if interceptor == nil {
			return d.dispatchUnary(ctx, adapter, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: path}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return d.dispatchUnary(ctx, adapter, req)
		})
	}
}

func (d *Dispatcher) dispatchUnary(ctx context.Context, adapter AdapterFunc, req any) (any, error) {
	inMD, _ := metadata.FromIncomingContext(ctx)
	call := newGRPCCall(ctx, d.loop, nil, req, inMD)
	defer call.release()
	call.watchCancel()

	type result struct {
		msg any
		err error
	}
	ch := make(chan result, 1)
	if err := d.loop.Submit(func() {
		adapter(ctx, call, func(msg any, err error) {
			ch <- result{msg: msg, err: err}
		})
	}); err != nil {
		return nil, status.Error(codes.Unavailable, "event loop not running")
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, toStatusError(r.err)
		}
		if r.msg == nil {
			return nil, status.Error(codes.Internal, "handler returned no response")
		}
		return r.msg, nil
	case <-ctx.Done():
		return nil, grpcutil.TranslateContextError(ctx.Err())
	}
}

// streamMethodHandler builds the [grpc.StreamDesc] handler for a streaming
// method. The transport goroutine constructs the call, dispatches the adapter
// on the loop, then blocks until the call reaches a terminal state.
func (d *Dispatcher) streamMethodHandler(md MethodDescriptor, adapter AdapterFunc) grpc.StreamHandler {
	requestStreaming := md.RequestStreaming
	responseStreaming := md.ResponseStreaming
	input := md.Input
	return func(srv any, stream grpc.ServerStream) error {
		ctx := stream.Context()
		inMD, _ := metadata.FromIncomingContext(ctx)
		call := newGRPCCall(ctx, d.loop, stream, nil, inMD)
		defer call.release()

		if !requestStreaming {
			in := dynamicpb.NewMessage(input)
			if err := stream.RecvMsg(in); err != nil {
				return grpcutil.TranslateContextError(err)
			}
			call.request = in
		}

		// For single-response methods the one-shot callback routes the
		// response (or error) back through the call's write pump.
		var respond Callback
		if !responseStreaming {
			respond = func(msg any, err error) {
				if err != nil {
					call.Fail(err)
					return
				}
				if msg != nil {
					call.Write(msg)
				}
				call.End()
			}
		}

		if err := d.loop.Submit(func() {
			adapter(ctx, call, respond)
			// Inbound delivery starts only after the adapter registered its
			// listeners; nothing is lost to subscription order.
			if requestStreaming {
				call.startRecv(input)
			} else {
				call.watchCancel()
			}
		}); err != nil {
			return status.Error(codes.Unavailable, "event loop not running")
		}

		select {
		case <-call.done:
			return toStatusError(call.finishErr)
		case <-ctx.Done():
			return grpcutil.TranslateContextError(ctx.Err())
		}
	}
}

// toStatusError passes gRPC status errors through unchanged and wraps
// anything else as codes.Unknown, matching the grpc-go server's own
// treatment of plain errors.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unknown, err.Error())
}

// grpcCall adapts a [grpc.ServerStream] (or a unary invocation) to the
// [Call] interface. Event listeners and all mutable state are owned by the
// loop goroutine; the blocking transport goroutine communicates through the
// write pump and the done channel.
type grpcCall struct {
	ctx     context.Context
	loop    Loop
	stream  grpc.ServerStream // nil for unary invocations
	request any
	md      metadata.MD

	dataListeners   listenerList[func(msg any)]
	endListeners    listenerList[func()]
	errorListeners  listenerList[func(err error)]
	drainListeners  listenerList[func()]
	cancelListeners listenerList[func()]

	// Write pump: messages queue on the loop and a single in-flight
	// goroutine performs the blocking SendMsg. Clear-to-write means the
	// queue is empty; a drain event fires each time the pump empties it.
	queue   []any
	sending bool
	ending  bool

	finished  bool
	finishErr error
	done      chan struct{}
	closeOnce sync.Once
}

var _ Call = (*grpcCall)(nil)

func newGRPCCall(ctx context.Context, loop Loop, stream grpc.ServerStream, request any, md metadata.MD) *grpcCall {
	if md == nil {
		md = metadata.MD{}
	}
	return &grpcCall{
		ctx:     ctx,
		loop:    loop,
		stream:  stream,
		request: request,
		md:      md,
		done:    make(chan struct{}),
	}
}

func (c *grpcCall) Request() any          { return c.request }
func (c *grpcCall) Metadata() metadata.MD { return c.md }

func (c *grpcCall) Write(msg any) bool {
	if c.finished || c.ending || c.stream == nil {
		return true
	}
	c.queue = append(c.queue, msg)
	c.pump()
	return len(c.queue) == 0
}

func (c *grpcCall) End() {
	if c.finished || c.ending {
		return
	}
	c.ending = true
	if !c.sending && len(c.queue) == 0 {
		c.finish(nil)
	}
}

func (c *grpcCall) Fail(err error) {
	if c.finished {
		return
	}
	if err == nil {
		c.End()
		return
	}
	c.queue = nil
	c.finish(grpcutil.TranslateContextError(err))
}

func (c *grpcCall) OnData(fn func(msg any)) func()    { return c.dataListeners.add(fn) }
func (c *grpcCall) OnEnd(fn func()) func()            { return c.endListeners.add(fn) }
func (c *grpcCall) OnError(fn func(err error)) func() { return c.errorListeners.add(fn) }
func (c *grpcCall) OnDrain(fn func()) func()          { return c.drainListeners.add(fn) }
func (c *grpcCall) OnCancel(fn func()) func()         { return c.cancelListeners.add(fn) }

// pump starts a send if none is in flight. Completion is submitted back to
// the loop, which continues with the next queued message, finishes a pending
// End, or emits drain.
func (c *grpcCall) pump() {
	if c.sending || c.finished || len(c.queue) == 0 {
		return
	}
	msg := c.queue[0]
	c.queue[0] = nil // release reference from backing array
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil // free backing array when fully drained
	}
	c.sending = true
	go func() {
		err := c.stream.SendMsg(msg)
		_ = c.loop.Submit(func() {
			c.sending = false
			if c.finished {
				return
			}
			if err != nil {
				c.finish(grpcutil.TranslateContextError(err))
				return
			}
			if len(c.queue) > 0 {
				c.pump()
				return
			}
			if c.ending {
				c.finish(nil)
				return
			}
			c.drainListeners.each(func(fn func()) { fn() })
		})
	}()
}

// startRecv pumps inbound messages onto the loop as data events. EOF becomes
// an end event; a cancellation becomes a cancel event; anything else an
// error event. Must be called on the loop goroutine, after listeners are
// registered.
func (c *grpcCall) startRecv(input protoreflect.MessageDescriptor) {
	go func() {
		for {
			msg := dynamicpb.NewMessage(input)
			err := c.stream.RecvMsg(msg)
			if err != nil {
				_ = c.loop.Submit(func() {
					if c.finished {
						return
					}
					switch {
					case errors.Is(err, io.EOF):
						c.endListeners.each(func(fn func()) { fn() })
					case grpcutil.IsCancellation(err) || c.ctx.Err() != nil:
						c.cancelListeners.each(func(fn func()) { fn() })
					default:
						c.errorListeners.each(func(fn func(error)) { fn(err) })
					}
				})
				return
			}
			if c.loop.Submit(func() {
				if !c.finished {
					c.dataListeners.each(func(fn func(any)) { fn(msg) })
				}
			}) != nil {
				return
			}
		}
	}()
}

// watchCancel surfaces context cancellation as a cancel event, for methods
// with no inbound read loop to observe it.
func (c *grpcCall) watchCancel() {
	go func() {
		select {
		case <-c.ctx.Done():
			_ = c.loop.Submit(func() {
				if !c.finished {
					c.cancelListeners.each(func(fn func()) { fn() })
				}
			})
		case <-c.done:
		}
	}()
}

func (c *grpcCall) finish(err error) {
	if c.finished {
		return
	}
	c.finished = true
	c.finishErr = err
	c.closeOnce.Do(func() { close(c.done) })
}

// release unblocks the transport goroutine's wait regardless of call state;
// used on handler-exit paths that bypass End/Fail.
func (c *grpcCall) release() {
	c.closeOnce.Do(func() { close(c.done) })
}

// listenerList is a removable listener collection for one event. Removal
// marks the entry dead rather than compacting; per-call listener counts are
// small and the list dies with the call.
type listenerList[T any] struct {
	entries []*listenerEntry[T]
}

type listenerEntry[T any] struct {
	fn      T
	removed bool
}

func (l *listenerList[T]) add(fn T) (remove func()) {
	e := &listenerEntry[T]{fn: fn}
	l.entries = append(l.entries, e)
	return func() { e.removed = true }
}

// each invokes every live listener, tolerating removals during dispatch.
func (l *listenerList[T]) each(call func(T)) {
	entries := l.entries
	for _, e := range entries {
		if !e.removed {
			call(e.fn)
		}
	}
}

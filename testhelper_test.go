package grpcdispatch

import (
	"context"
	"testing"

	eventloop "github.com/joeycumines/go-eventloop"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// newTestLoop creates a new event loop, starts it, and registers cleanup.
func newTestLoop(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// submitWait runs fn on the loop and blocks until it returns. The test
// goroutine stands in for transport goroutines, which interact with the
// dispatch core the same way.
func submitWait(t testing.TB, loop Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := loop.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		t.Fatal(err)
	}
	<-done
}

// testCall is a scripted Call implementation. Tests invoke dispatch functions
// directly from the test goroutine, which plays the role of the loop, so no
// synchronization is needed.
type testCall struct {
	request any
	md      metadata.MD

	// writeOK scripts the clear-to-write result per message; nil means every
	// write reports clear.
	writeOK func(msg any) bool

	writes []any
	ends   int
	fails  []error

	data   listenerList[func(msg any)]
	end    listenerList[func()]
	err    listenerList[func(err error)]
	drain  listenerList[func()]
	cancel listenerList[func()]
}

var _ Call = (*testCall)(nil)

func (c *testCall) Request() any          { return c.request }
func (c *testCall) Metadata() metadata.MD { return c.md }

func (c *testCall) Write(msg any) bool {
	c.writes = append(c.writes, msg)
	if c.writeOK != nil {
		return c.writeOK(msg)
	}
	return true
}

func (c *testCall) End()           { c.ends++ }
func (c *testCall) Fail(err error) { c.fails = append(c.fails, err) }

func (c *testCall) OnData(fn func(msg any)) func()    { return c.data.add(fn) }
func (c *testCall) OnEnd(fn func()) func()            { return c.end.add(fn) }
func (c *testCall) OnError(fn func(err error)) func() { return c.err.add(fn) }
func (c *testCall) OnDrain(fn func()) func()          { return c.drain.add(fn) }
func (c *testCall) OnCancel(fn func()) func()         { return c.cancel.add(fn) }

func (c *testCall) emitData(msg any) { c.data.each(func(fn func(any)) { fn(msg) }) }
func (c *testCall) emitEnd()         { c.end.each(func(fn func()) { fn() }) }
func (c *testCall) emitError(e error) {
	c.err.each(func(fn func(error)) { fn(e) })
}
func (c *testCall) emitDrain()  { c.drain.each(func(fn func()) { fn() }) }
func (c *testCall) emitCancel() { c.cancel.each(func(fn func()) { fn() }) }

// greeterDescriptorSet describes pkg.greet.GreetService with one method of
// each streaming shape, for loader and transport tests.
func greeterDescriptorSet() *descriptorpb.FileDescriptorSet {
	field := func(name string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			Number:   proto.Int32(1),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			JsonName: proto.String(name),
		}
	}
	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("greet.proto"),
		Package: proto.String("pkg.greet"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  proto.String("HelloRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{field("name")},
			},
			{
				Name:  proto.String("HelloReply"),
				Field: []*descriptorpb.FieldDescriptorProto{field("message")},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("GreetService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("SayHello"),
					InputType:  proto.String(".pkg.greet.HelloRequest"),
					OutputType: proto.String(".pkg.greet.HelloReply"),
				},
				{
					Name:            proto.String("StreamHellos"),
					InputType:       proto.String(".pkg.greet.HelloRequest"),
					OutputType:      proto.String(".pkg.greet.HelloReply"),
					ServerStreaming: proto.Bool(true),
				},
				{
					Name:            proto.String("CollectHellos"),
					InputType:       proto.String(".pkg.greet.HelloRequest"),
					OutputType:      proto.String(".pkg.greet.HelloReply"),
					ClientStreaming: proto.Bool(true),
				},
			},
		}},
	}}}
}

// greeterService loads the greeter fixture into a single ServiceDefinition.
func greeterService(t testing.TB) ServiceDefinition {
	t.Helper()
	defs, err := ServicesFromDescriptorSet(greeterDescriptorSet(), "pkg.greet")
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 service, got %d", len(defs))
	}
	return defs[0]
}

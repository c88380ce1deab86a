package grpcdispatch

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
)

func registerEcho(r *Registry, p Pattern) {
	r.Register(p, func(ctx context.Context, req any, md metadata.MD, call Call) (Source, error) {
		return Just(req), nil
	})
}

func TestBindService_adapterSelection(t *testing.T) {
	// One registration per kind; each method shape must resolve to the
	// matching adapter, verified through how the adapter routes output.
	r := NewRegistry()
	registerEcho(r, Pattern{Service: "svc", Method: "unary", Kind: StreamKindNone})
	registerEcho(r, Pattern{Service: "svc", Method: "serverStream", Kind: StreamKindNone})
	r.Register(Pattern{Service: "svc", Method: "clientStream", Kind: StreamKindPush},
		func(ctx context.Context, req any, md metadata.MD, call Call) (Source, error) {
			out := new(Pipe)
			req.(Source).Subscribe(sinkFuncs{
				complete: func() { out.Push("collected"); out.Close() },
				err:      func(err error) { out.CloseWithError(err) },
			})
			return out, nil
		})
	r.RegisterPassthrough(Pattern{Service: "svc", Method: "raw", Kind: StreamKindRequestOnly},
		func(ctx context.Context, call Call, respond Callback) {
			call.Write("raw")
			call.End()
		})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(ServiceDefinition{
		Name: "svc",
		Methods: map[string]MethodDescriptor{
			"unary":        {},
			"serverStream": {ResponseStreaming: true},
			"clientStream": {RequestStreaming: true},
			"raw":          {RequestStreaming: true, ResponseStreaming: true},
			"unmatched":    {},
		},
	})

	if len(binding) != 4 {
		t.Fatalf("bound %d methods, want 4: %v", len(binding), binding)
	}
	if _, ok := binding["unmatched"]; ok {
		t.Error("method without a registration was bound")
	}

	t.Run("unary", func(t *testing.T) {
		call := &testCall{request: "req"}
		res := &oneShot{t: t}
		binding["unary"](context.Background(), call, res.respond)
		if !res.fired || res.msg != "req" {
			t.Errorf("respond: fired=%v msg=%v", res.fired, res.msg)
		}
		if len(call.writes) != 0 {
			t.Errorf("unary adapter wrote to the call: %v", call.writes)
		}
	})

	t.Run("server stream", func(t *testing.T) {
		call := &testCall{request: "req"}
		binding["serverStream"](context.Background(), call, nil)
		if len(call.writes) != 1 || call.writes[0] != "req" || call.ends != 1 {
			t.Errorf("writes=%v ends=%d", call.writes, call.ends)
		}
	})

	t.Run("client stream", func(t *testing.T) {
		call := &testCall{}
		res := &oneShot{t: t}
		binding["clientStream"](context.Background(), call, res.respond)
		call.emitData("a")
		call.emitEnd()
		if !res.fired || res.msg != "collected" {
			t.Errorf("respond: fired=%v msg=%v", res.fired, res.msg)
		}
	})

	t.Run("passthrough", func(t *testing.T) {
		call := &testCall{}
		binding["raw"](context.Background(), call, nil)
		if len(call.writes) != 1 || call.writes[0] != "raw" || call.ends != 1 {
			t.Errorf("writes=%v ends=%d", call.writes, call.ends)
		}
	})
}

func TestBindService_pushPreferredOverPassthrough(t *testing.T) {
	r := NewRegistry()
	r.Register(Pattern{Service: "svc", Method: "m", Kind: StreamKindPush},
		func(ctx context.Context, req any, md metadata.MD, call Call) (Source, error) {
			return Just("push"), nil
		})
	r.RegisterPassthrough(Pattern{Service: "svc", Method: "m", Kind: StreamKindRequestOnly},
		func(ctx context.Context, call Call, respond Callback) {
			respond("passthrough", nil)
		})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(ServiceDefinition{
		Name:    "svc",
		Methods: map[string]MethodDescriptor{"m": {RequestStreaming: true}},
	})

	res := &oneShot{t: t}
	binding["m"](context.Background(), &testCall{}, res.respond)
	if res.msg != "push" {
		t.Errorf("msg = %v, want the push-kind handler to win", res.msg)
	}
}

func TestBindService_passthroughOnlyRegistration(t *testing.T) {
	r := NewRegistry()
	r.RegisterPassthrough(Pattern{Service: "svc", Method: "m", Kind: StreamKindRequestOnly},
		func(ctx context.Context, call Call, respond Callback) {
			respond("passthrough", nil)
		})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(ServiceDefinition{
		Name:    "svc",
		Methods: map[string]MethodDescriptor{"m": {RequestStreaming: true}},
	})

	res := &oneShot{t: t}
	binding["m"](context.Background(), &testCall{}, res.respond)
	if res.msg != "passthrough" {
		t.Errorf("msg = %v", res.msg)
	}
}

func TestBindService_originalNameFallback(t *testing.T) {
	r := NewRegistry()
	registerEcho(r, Pattern{Service: "svc", Method: "SayHello", Kind: StreamKindNone})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(ServiceDefinition{
		Name: "svc",
		Methods: map[string]MethodDescriptor{
			"sayHello": {Name: "sayHello", OriginalName: "SayHello"},
		},
	})

	adapter, ok := binding["sayHello"]
	if !ok {
		t.Fatal("method not bound via original name")
	}
	res := &oneShot{t: t}
	adapter(context.Background(), &testCall{request: "hi"}, res.respond)
	if res.msg != "hi" {
		t.Errorf("msg = %v", res.msg)
	}
}

func TestBindService_normalizedNameWins(t *testing.T) {
	r := NewRegistry()
	registerEcho(r, Pattern{Service: "svc", Method: "SayHello", Kind: StreamKindNone})
	r.Register(Pattern{Service: "svc", Method: "sayHello", Kind: StreamKindNone},
		func(ctx context.Context, req any, md metadata.MD, call Call) (Source, error) {
			return Just("normalized"), nil
		})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(ServiceDefinition{
		Name: "svc",
		Methods: map[string]MethodDescriptor{
			"sayHello": {Name: "sayHello", OriginalName: "SayHello"},
		},
	})

	res := &oneShot{t: t}
	binding["sayHello"](context.Background(), &testCall{request: "hi"}, res.respond)
	if res.msg != "normalized" {
		t.Errorf("msg = %v, want the Name registration probed first", res.msg)
	}
}

func TestBindService_defaultsNameFromMapKey(t *testing.T) {
	r := NewRegistry()
	registerEcho(r, Pattern{Service: "svc", Method: "m", Kind: StreamKindNone})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(ServiceDefinition{
		Name:    "svc",
		Methods: map[string]MethodDescriptor{"m": {}},
	})
	if _, ok := binding["m"]; !ok {
		t.Error("descriptor with empty Name did not bind under its map key")
	}
}

func TestBindServices(t *testing.T) {
	r := NewRegistry()
	registerEcho(r, Pattern{Service: "a", Method: "m", Kind: StreamKindNone})
	registerEcho(r, Pattern{Service: "b", Method: "m", Kind: StreamKindNone})

	d := NewDispatcher(WithRegistry(r))
	bindings := d.BindServices([]ServiceDefinition{
		{Name: "a", Methods: map[string]MethodDescriptor{"m": {}}},
		{Name: "b", Methods: map[string]MethodDescriptor{"m": {}, "other": {}}},
	})

	if len(bindings) != 2 || len(bindings["a"]) != 1 || len(bindings["b"]) != 1 {
		t.Errorf("bindings = %v", bindings)
	}
}

func TestNewDispatcher_invalidOptionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewDispatcher(WithLoop(nil))
}

func TestDispatcher_registryAccessor(t *testing.T) {
	d := NewDispatcher()
	if d.Registry() == nil {
		t.Fatal("default registry missing")
	}
	registerEcho(d.Registry(), Pattern{Service: "svc", Method: "m", Kind: StreamKindNone})
	binding := d.BindService(ServiceDefinition{
		Name:    "svc",
		Methods: map[string]MethodDescriptor{"m": {}},
	})
	if len(binding) != 1 {
		t.Errorf("binding = %v", binding)
	}
}

// TestBindService_greeterEndToEnd drives the full path: definitions loaded
// from descriptors, handlers registered under lowerCamelCase names, one call
// per streaming shape.
func TestBindService_greeterEndToEnd(t *testing.T) {
	def := greeterService(t)
	if def.Name != "pkg.greet.GreetService" {
		t.Fatalf("service name = %q", def.Name)
	}

	r := NewRegistry()
	registerEcho(r, Pattern{Service: def.Name, Method: "sayHello", Kind: StreamKindNone})
	registerEcho(r, Pattern{Service: def.Name, Method: "streamHellos", Kind: StreamKindNone})
	r.Register(Pattern{Service: def.Name, Method: "collectHellos", Kind: StreamKindPush},
		func(ctx context.Context, req any, md metadata.MD, call Call) (Source, error) {
			out := new(Pipe)
			n := 0
			req.(Source).Subscribe(sinkFuncs{
				next:     func(any) { n++ },
				complete: func() { out.Push(n); out.Close() },
				err:      func(err error) { out.CloseWithError(err) },
			})
			return out, nil
		})

	d := NewDispatcher(WithRegistry(r))
	binding := d.BindService(def)
	if len(binding) != 3 {
		t.Fatalf("bound %d methods: %v", len(binding), binding)
	}

	// Unary: exactly one callback with the handler's value.
	res := &oneShot{t: t}
	binding["sayHello"](context.Background(), &testCall{request: "hello"}, res.respond)
	if !res.fired || res.msg != "hello" || res.err != nil {
		t.Errorf("sayHello: fired=%v msg=%v err=%v", res.fired, res.msg, res.err)
	}

	// Server streaming: response written to the call, then ended.
	call := &testCall{request: "hello"}
	binding["streamHellos"](context.Background(), call, nil)
	if len(call.writes) != 1 || call.ends != 1 {
		t.Errorf("streamHellos: writes=%v ends=%d", call.writes, call.ends)
	}

	// Client streaming: inbound messages counted, single response.
	call = &testCall{}
	res = &oneShot{t: t}
	binding["collectHellos"](context.Background(), call, res.respond)
	call.emitData("a")
	call.emitData("b")
	call.emitData("c")
	call.emitEnd()
	if !res.fired || res.msg != 3 || res.err != nil {
		t.Errorf("collectHellos: fired=%v msg=%v err=%v", res.fired, res.msg, res.err)
	}
}

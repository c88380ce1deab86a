package grpcdispatch

import (
	"fmt"
	"maps"
	"slices"

	"github.com/joeycumines/logiface"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// MethodDescriptor describes one method of a generically-loaded service
// definition. Descriptors are supplied by the loader (or constructed by
// hand for custom transports) and are never mutated by the dispatcher.
type MethodDescriptor struct {
	// Name is the method name as the service definition spells it. This is
	// the name the binder probes first and the key the resulting binding is
	// stored under.
	Name string

	// OriginalName is the method name as written in the .proto file, when it
	// differs from Name (loaders may normalize Name, e.g. to lowerCamelCase).
	// The binder retries an unmatched method under this name.
	OriginalName string

	// Input and Output are the request/response message descriptors. They
	// are optional; transports that materialize wire messages themselves
	// (such as the bundled gRPC bridge) require them.
	Input  protoreflect.MessageDescriptor
	Output protoreflect.MessageDescriptor

	// RequestStreaming reports whether the client sends a stream of messages.
	RequestStreaming bool

	// ResponseStreaming reports whether the server sends a stream of messages.
	ResponseStreaming bool
}

// WireName returns the name the method goes by on the wire: OriginalName
// when set, Name otherwise.
func (m MethodDescriptor) WireName() string {
	if m.OriginalName != "" {
		return m.OriginalName
	}
	return m.Name
}

// ServiceDefinition is a generically-loaded service: its fully-qualified
// name and its methods, keyed by method name.
type ServiceDefinition struct {
	Name    string
	Methods map[string]MethodDescriptor
}

// ServiceBinding maps method names to bound adapters, for installation into
// the transport. Built once per service at bind time; immutable afterwards.
// Methods that resolved to no handler are absent.
type ServiceBinding map[string]AdapterFunc

// Dispatcher binds generically-loaded service definitions to registered
// handler functions and adapts each inbound call onto its handler's
// streaming shape.
//
// Create instances with [NewDispatcher]. The zero value is not usable.
// Populate the registry and bind all services before the transport starts
// delivering calls; bindings and registrations are read-only during dispatch.
type Dispatcher struct {
	registry *Registry
	loop     Loop
	logger   *logiface.Logger[logiface.Event]
}

// NewDispatcher creates a Dispatcher. Panics if any option fails validation
// (invalid options are programming errors).
func NewDispatcher(opts ...Option) *Dispatcher {
	cfg, err := resolveOptions(opts)
	if err != nil {
		panic(fmt.Sprintf("grpcdispatch: %s", err))
	}
	return &Dispatcher{
		registry: cfg.registry,
		loop:     cfg.loop,
		logger:   cfg.logger,
	}
}

// Registry returns the pattern registry consulted at bind time.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// BindService resolves every method of def against the registry and returns
// the resulting binding. Resolution per method:
//
//   - request-streaming methods probe [StreamKindPush] first, then
//     [StreamKindRequestOnly] (raw pass-through);
//   - single-request methods probe [StreamKindNone];
//   - an unmatched method whose OriginalName differs from Name is retried
//     under OriginalName with the same probe order;
//   - a method matching no registration is skipped, silently (calls to it
//     fail at the transport, not here).
//
// Methods are processed in sorted name order, so logging and binding
// construction are deterministic.
func (d *Dispatcher) BindService(def ServiceDefinition) ServiceBinding {
	binding := make(ServiceBinding, len(def.Methods))
	for _, name := range slices.Sorted(maps.Keys(def.Methods)) {
		md := def.Methods[name]
		if md.Name == "" {
			md.Name = name
		}
		adapter, pattern, ok := d.bindMethod(def.Name, md)
		if !ok {
			d.logger.Debug().
				Str("service", def.Name).
				Str("method", name).
				Log("no handler registered, method left unbound")
			continue
		}
		binding[name] = adapter
		d.logger.Debug().
			Str("service", def.Name).
			Str("method", name).
			Stringer("kind", pattern.Kind).
			Log("method bound")
	}
	return binding
}

// BindServices binds each definition, returning bindings keyed by service
// name.
func (d *Dispatcher) BindServices(defs []ServiceDefinition) map[string]ServiceBinding {
	bindings := make(map[string]ServiceBinding, len(defs))
	for _, def := range defs {
		bindings[def.Name] = d.BindService(def)
	}
	return bindings
}

// bindMethod resolves one method to an adapter, reporting the pattern that
// matched.
func (d *Dispatcher) bindMethod(service string, md MethodDescriptor) (AdapterFunc, Pattern, bool) {
	names := []string{md.Name}
	if md.OriginalName != "" && md.OriginalName != md.Name {
		names = append(names, md.OriginalName)
	}
	for _, name := range names {
		if md.RequestStreaming {
			p := Pattern{Service: service, Method: name, Kind: StreamKindPush}
			if h, ok := d.registry.Lookup(p); ok {
				return newClientStreamAdapter(h.(Handler), md.ResponseStreaming, d.logger), p, true
			}
			p.Kind = StreamKindRequestOnly
			if h, ok := d.registry.Lookup(p); ok {
				return newPassthroughAdapter(h.(PassthroughHandler), md.ResponseStreaming), p, true
			}
			continue
		}
		p := Pattern{Service: service, Method: name, Kind: StreamKindNone}
		if h, ok := d.registry.Lookup(p); ok {
			if md.ResponseStreaming {
				return newServerStreamAdapter(h.(Handler), d.logger), p, true
			}
			return newUnaryAdapter(h.(Handler)), p, true
		}
	}
	return nil, Pattern{}, false
}

// Package grpcdispatch provides a server-side gRPC dispatch layer driven by
// an [eventloop.Loop]-style scheduler.
//
// Handlers are registered against streaming-aware patterns (service, method,
// stream kind) rather than generated service interfaces, which makes the
// package suitable for hosting dynamically-discovered services: descriptor
// sets loaded at runtime, scripted handlers, or bridges to non-Go runtimes.
// All dispatch state is managed on the loop goroutine, ensuring thread safety
// without mutexes on the fast path. Transport goroutines communicate with the
// loop via the write pump and blocking waits built into the bundled bridge.
//
// # Architecture
//
// A [Dispatcher] is created via [NewDispatcher] with a running loop and
// optional configuration via [Option] functions. Handlers are registered on
// its [Registry] keyed by [Pattern]; [Dispatcher.BindService] resolves a
// [ServiceDefinition] (one [MethodDescriptor] per method) against the
// registry, selecting the call adapter that matches each method's shape:
//
//   - unary: the handler's response source is collected to its last value and
//     delivered through a one-shot callback
//   - server streaming: the response source is written to the call under
//     backpressure
//   - client streaming: inbound messages are pushed through a [Pipe] handed
//     to the handler as its request [Source]
//   - passthrough: the handler receives the raw [Call] and drives it directly
//
// # Backpressure
//
// Responses flow through a writer that honors the transport's clear-to-write
// signal: [Call.Write] reports whether the transport accepted the message
// without queueing, and the writer buffers and defers completion until the
// transport drains. See [Call.OnDrain] for the transport's obligations.
//
// # Discovery
//
// [ServicesFromDescriptorSet] and [ServicesFromFiles] build service
// definitions from protobuf descriptors, and [DiscoverServices] walks a
// nested [Namespace] producing fully-qualified service names.
//
// # Transport
//
// [Dispatcher.InstallServices] registers bound services with any
// [grpc.ServiceRegistrar], adapting real gRPC streams to the [Call]
// interface with dynamic messages. The dispatch core is transport-agnostic;
// alternative transports only need to implement [Call].
//
// # Thread Safety
//
// Registration ([Registry.Register], [Dispatcher.BindService],
// [Dispatcher.InstallServices]) must complete before dispatch begins.
// Once serving, all dispatch state mutations occur on the loop goroutine.
package grpcdispatch

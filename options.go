package grpcdispatch

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// Loop is the interface required by grpcdispatch for event loop integration.
// It provides methods for submitting tasks to the event loop for execution.
type Loop interface {
	// Submit submits a task to the external queue for execution on the loop.
	// Returns an error if the loop has been shut down.
	Submit(func()) error

	// SubmitInternal submits a task to the internal priority queue.
	// These tasks are processed before external tasks.
	// Returns an error if the loop has been shut down.
	SubmitInternal(func()) error
}

// dispatcherOptions holds configuration for a [Dispatcher] instance.
type dispatcherOptions struct {
	loop     Loop
	registry *Registry
	logger   *logiface.Logger[logiface.Event]
}

// Option configures a [Dispatcher] instance. Options are applied during
// construction.
type Option interface {
	applyOption(*dispatcherOptions) error
}

// dispatcherOptionImpl implements [Option] via a closure.
type dispatcherOptionImpl struct {
	fn func(*dispatcherOptions) error
}

func (o *dispatcherOptionImpl) applyOption(opts *dispatcherOptions) error {
	return o.fn(opts)
}

// WithLoop configures the event loop used to coordinate call state.
// Required for transports that bridge goroutine-based I/O onto the loop
// (such as [Dispatcher.InstallServices]); the loop should be running before
// the transport starts delivering calls.
func WithLoop(loop Loop) Option {
	return &dispatcherOptionImpl{fn: func(opts *dispatcherOptions) error {
		if loop == nil {
			return errors.New("loop must not be nil")
		}
		opts.loop = loop
		return nil
	}}
}

// WithRegistry configures the pattern registry consulted at bind time.
// If not set, the dispatcher starts with an empty registry, accessible via
// [Dispatcher.Registry].
func WithRegistry(registry *Registry) Option {
	return &dispatcherOptionImpl{fn: func(opts *dispatcherOptions) error {
		if registry == nil {
			return errors.New("registry must not be nil")
		}
		opts.registry = registry
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &dispatcherOptionImpl{fn: func(opts *dispatcherOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies the given options, returning an error for invalid
// configurations.
func resolveOptions(opts []Option) (*dispatcherOptions, error) {
	var cfg dispatcherOptions
	for _, opt := range opts {
		if opt == nil {
			return nil, errors.New("nil option")
		}
		if err := opt.applyOption(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}
	return &cfg, nil
}

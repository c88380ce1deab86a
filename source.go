package grpcdispatch

// Sink receives the values produced by a [Source]. Exactly one of Complete
// or Error terminates the sequence; no methods are invoked after either.
//
// All methods are invoked on the loop goroutine.
type Sink interface {
	// Next delivers the next value in the sequence.
	Next(msg any)

	// Complete signals successful exhaustion of the sequence.
	Complete()

	// Error signals failure of the sequence. No values were lost before err;
	// none follow it.
	Error(err error)
}

// Source is a lazy, push-based sequence of values. Nothing is produced until
// [Source.Subscribe] attaches a sink.
//
// Sources returned by handlers are consumed exactly once, on the loop
// goroutine.
type Source interface {
	// Subscribe attaches sink and starts production. The returned function
	// detaches the sink early; after it returns, no further sink methods are
	// invoked. It must be safe to call after the sequence terminated.
	Subscribe(sink Sink) (unsubscribe func())
}

// SourceFunc adapts a function to the [Source] interface.
type SourceFunc func(sink Sink) (unsubscribe func())

// Subscribe calls the function.
func (f SourceFunc) Subscribe(sink Sink) (unsubscribe func()) { return f(sink) }

// Just returns a Source producing a single value, then completing.
func Just(msg any) Source {
	return SourceFunc(func(sink Sink) func() {
		sink.Next(msg)
		sink.Complete()
		return func() {}
	})
}

// Empty returns a Source that completes without producing any values.
func Empty() Source {
	return SourceFunc(func(sink Sink) func() {
		sink.Complete()
		return func() {}
	})
}

// Fail returns a Source that fails immediately with err.
func Fail(err error) Source {
	return SourceFunc(func(sink Sink) func() {
		sink.Error(err)
		return func() {}
	})
}

// FromValues returns a Source producing the given values in order, then
// completing. Delivery is synchronous within Subscribe.
func FromValues(msgs ...any) Source {
	return SourceFunc(func(sink Sink) func() {
		for _, msg := range msgs {
			sink.Next(msg)
		}
		sink.Complete()
		return func() {}
	})
}

// FromChannel returns a Source that drains ch onto the loop: each received
// value is submitted as a sink.Next task, and closing ch completes the
// sequence. The pump goroutine starts on Subscribe and exits when ch closes,
// or when the loop shuts down.
//
// Unsubscribing stops delivery but does not stop the pump draining ch; the
// producing goroutine owns the channel's lifetime.
func FromChannel(loop Loop, ch <-chan any) Source {
	return SourceFunc(func(sink Sink) func() {
		var stopped bool // loop-owned
		go func() {
			for msg := range ch {
				msg := msg
				if loop.Submit(func() {
					if !stopped {
						sink.Next(msg)
					}
				}) != nil {
					return
				}
			}
			_ = loop.Submit(func() {
				if !stopped {
					sink.Complete()
				}
			})
		}()
		return func() { stopped = true }
	})
}

// Pipe is a [Source] fed by explicit pushes. Values pushed before a sink
// attaches are buffered in FIFO order and flushed on Subscribe; values pushed
// afterwards are forwarded directly. A Pipe supports a single subscriber.
//
// All methods must be called on the loop goroutine. The zero value is ready
// to use.
type Pipe struct {
	sink   Sink
	err    error
	buf    []any
	closed bool
}

var _ Source = (*Pipe)(nil)

// Push buffers or forwards a value. Values pushed after Close or
// CloseWithError are discarded.
func (p *Pipe) Push(msg any) {
	if p.closed {
		return
	}
	if p.sink != nil {
		p.sink.Next(msg)
		return
	}
	p.buf = append(p.buf, msg)
}

// Close terminates the sequence successfully. Buffered values are still
// delivered to a later subscriber before the completion. Idempotent.
func (p *Pipe) Close() {
	if p.closed {
		return
	}
	p.closed = true
	if p.sink != nil {
		sink := p.sink
		p.sink = nil
		sink.Complete()
	}
}

// CloseWithError terminates the sequence with err. Buffered values are still
// delivered to a later subscriber before the error. Idempotent; a nil err is
// equivalent to Close.
func (p *Pipe) CloseWithError(err error) {
	if err == nil {
		p.Close()
		return
	}
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	if p.sink != nil {
		sink := p.sink
		p.sink = nil
		sink.Error(err)
	}
}

// Subscribe attaches sink, flushing any buffered values (and the terminal
// state, if the pipe already closed). Panics if a sink is already attached.
func (p *Pipe) Subscribe(sink Sink) (unsubscribe func()) {
	if p.sink != nil {
		panic("grpcdispatch: pipe already subscribed")
	}
	for len(p.buf) > 0 {
		msg := p.buf[0]
		p.buf[0] = nil // release reference from backing array
		p.buf = p.buf[1:]
		sink.Next(msg)
	}
	p.buf = nil
	unsubscribe = func() { p.sink = nil }
	if p.closed {
		if p.err != nil {
			sink.Error(p.err)
		} else {
			sink.Complete()
		}
		return
	}
	p.sink = sink
	return
}

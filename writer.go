package grpcdispatch

import (
	"github.com/joeycumines/logiface"
)

// writeState is the lifecycle of one streaming response delivery.
// Exactly one of the three terminal states is reached per invocation.
type writeState int

const (
	writeStreaming writeState = iota
	writeDraining
	writeComplete
	writeCancelled
	writeFailed
)

// streamWriter drains a [Source] into a flow-controlled [Call]. Values are
// written as they arrive while the call is clear-to-write; once a write
// reports backpressure, subsequent values queue in FIFO order and are flushed
// one per drain event. The call is ended exactly once, after the buffer fully
// drains (or immediately on producer error / cancellation), and the drain and
// cancel listeners are removed on every exit path.
//
// All fields are owned by the loop goroutine.
type streamWriter struct {
	call         Call
	logger       *logiface.Logger[logiface.Event]
	unsubscribe  func()
	removeDrain  func()
	removeCancel func()
	buf          []any
	state        writeState
	srcDone      bool
}

var _ Sink = (*streamWriter)(nil)

// writeStream subscribes to src and delivers its values to call.
// Must be called on the loop goroutine.
func writeStream(call Call, src Source, logger *logiface.Logger[logiface.Event]) {
	w := &streamWriter{call: call, logger: logger}
	w.removeDrain = call.OnDrain(w.drain)
	w.removeCancel = call.OnCancel(w.cancel)
	unsubscribe := src.Subscribe(w)
	if w.terminal() {
		// The source terminated synchronously, before Subscribe returned;
		// teardown already ran without the subscription handle.
		unsubscribe()
		return
	}
	w.unsubscribe = unsubscribe
}

func (w *streamWriter) terminal() bool { return w.state >= writeComplete }

// Next implements [Sink]. While clear-to-write the value goes straight to
// the call; under backpressure it queues behind earlier values.
func (w *streamWriter) Next(msg any) {
	if w.terminal() {
		return
	}
	if w.state == writeDraining {
		w.buf = append(w.buf, msg)
		return
	}
	if !w.call.Write(msg) {
		w.state = writeDraining
	}
}

// Complete implements [Sink]. The call ends immediately if nothing is
// buffered; otherwise the end is deferred until the buffer flushes.
func (w *streamWriter) Complete() {
	if w.terminal() {
		return
	}
	w.srcDone = true
	if len(w.buf) == 0 {
		w.call.End()
		w.finish(writeComplete)
	}
}

// Error implements [Sink]. Buffered-but-unwritten values are discarded;
// the peer receives exactly one error.
func (w *streamWriter) Error(err error) {
	if w.terminal() {
		return
	}
	w.buf = nil
	w.call.Fail(err)
	w.finish(writeFailed)
	w.logger.Debug().Err(err).Log("response stream failed")
}

// drain flushes exactly one buffered value and stays in the draining state
// until the next drain event. The call ends once the buffer is empty and the
// source has completed.
func (w *streamWriter) drain() {
	if w.terminal() {
		return
	}
	if len(w.buf) > 0 {
		msg := w.buf[0]
		w.buf[0] = nil // release reference from backing array
		w.buf = w.buf[1:]
		w.call.Write(msg)
		if len(w.buf) > 0 {
			w.state = writeDraining
			return
		}
		w.buf = nil // free backing array when fully drained
		if w.srcDone {
			w.call.End()
			w.finish(writeComplete)
			return
		}
		w.state = writeDraining
		return
	}
	if w.srcDone {
		w.call.End()
		w.finish(writeComplete)
		return
	}
	w.state = writeStreaming
}

// cancel tears down on the transport's cancellation signal: the producer is
// unsubscribed immediately and buffered values are discarded. Written values
// are not retracted. A second signal is a no-op.
func (w *streamWriter) cancel() {
	if w.terminal() {
		return
	}
	w.buf = nil
	w.call.End()
	w.finish(writeCancelled)
}

func (w *streamWriter) finish(state writeState) {
	w.state = state
	w.removeDrain()
	w.removeCancel()
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}

package sync

import (
	"sync"
	"time"
)

// DebouncedEmitter coalesces rapid successive values (e.g. per-keystroke
// edits) into fewer emissions. The first value of a quiet period starts the
// window; everything published inside the window is folded together with
// `combine` and emitted once when the window elapses. A value is thus never
// delayed by more than the window.
type DebouncedEmitter[V any] struct {
	window  time.Duration
	combine func(pending V, next V) V
	emit    func(V)

	mutex   sync.Mutex
	timer   *time.Timer
	pending V
	dirty   bool
	closed  bool
}

func NewDebouncedEmitter[V any](
	window time.Duration,
	combine func(pending V, next V) V,
	emit func(V),
) *DebouncedEmitter[V] {
	return &DebouncedEmitter[V]{
		window:  window,
		combine: combine,
		emit:    emit,
	}
}

// Publish folds a value into the pending window, starting one if needed.
func (e *DebouncedEmitter[V]) Publish(value V) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return
	}

	if e.dirty {
		e.pending = e.combine(e.pending, value)
	} else {
		e.pending = value
		e.dirty = true
	}

	if e.timer == nil {
		e.timer = time.AfterFunc(e.window, e.flush)
	}
}

// Flush emits the pending value immediately, if any.
func (e *DebouncedEmitter[V]) Flush() {
	e.flush()
}

func (e *DebouncedEmitter[V]) flush() {
	e.mutex.Lock()
	if e.closed || !e.dirty {
		e.mutex.Unlock()
		return
	}
	value := e.pending
	e.dirty = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	var zero V
	e.pending = zero
	e.mutex.Unlock()

	// Emit outside the lock: the emit closure broadcasts over the relay and
	// may call back into the owner.
	e.emit(value)
}

// Close cancels the window timer and drops whatever is pending, without
// emitting. Used on teardown so no timer fires against a dead session.
func (e *DebouncedEmitter[V]) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.closed = true
	e.dirty = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

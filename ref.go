package pinna

import "sync/atomic"

// Ref is a reference-counted handle to a value with a release action,
// used where an async continuation must extend a decoder's (or a
// factory's) lifetime past the call that spawned it. It is not a
// substitute for Go's garbage collector; it exists purely to run Close
// exactly once, from whichever holder drops the last reference.
type Ref[T any] struct {
	val     T
	count   *int32
	closeFn func(T)
}

// NewRef wraps val with a release action that runs the first time the
// reference count reaches zero.
func NewRef[T any](val T, closeFn func(T)) *Ref[T] {
	count := int32(1)

	return &Ref[T]{val: val, count: &count, closeFn: closeFn}
}

// Get returns the underlying value.
func (r *Ref[T]) Get() T { return r.val }

// Retain increments the reference count and returns the same handle, for
// capture into a new continuation.
func (r *Ref[T]) Retain() *Ref[T] {
	atomic.AddInt32(r.count, 1)

	return r
}

// Release decrements the reference count, running the close action when
// it reaches zero. Calling Release more times than the handle has been
// retained is a caller bug; the count goes negative and closeFn does not
// run again.
func (r *Ref[T]) Release() {
	if atomic.AddInt32(r.count, -1) == 0 && r.closeFn != nil {
		r.closeFn(r.val)
	}
}

// Weak is a non-owning back-reference that breaks retain cycles (the
// factory registers a creator closure that the transmuxer decoder holds;
// that closure must not, in turn, keep the transmuxer alive). Once the
// owning side calls Invalidate, Get reports ok=false.
type Weak[T any] struct {
	val   T
	alive *atomic.Bool
}

// NewWeak creates a Weak handle alongside the Invalidate function its
// owner must call at teardown.
func NewWeak[T any](val T) (*Weak[T], func()) {
	alive := &atomic.Bool{}
	alive.Store(true)

	return &Weak[T]{val: val, alive: alive}, func() { alive.Store(false) }
}

// Get returns the wrapped value and whether its owner is still alive.
func (w *Weak[T]) Get() (T, bool) {
	if w.alive.Load() {
		return w.val, true
	}

	var zero T

	return zero, false
}

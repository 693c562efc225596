// Package atom provides small reactive state containers: a Cell holds a value,
// notifies subscribers synchronously when it changes and runs an optional
// side effect through a Scheduler. Data specializes Cell for fetch-backed state.
package atom

import (
	"reflect"
	"sync"
)

// Effect runs after a state change and may return a disposer that is called
// before the next run.
type Effect[T any] func(value T) (dispose func())

// Option configures a Cell or Data.
type Option func(*options)

type options struct {
	scheduler Scheduler
}

// WithScheduler sets the scheduler used to run effects.
// Cells without one use a fresh Immediate scheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.scheduler == nil {
		o.scheduler = NewImmediate()
	}
	return o
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Cell is a value holder with ordered subscribers and an optional effect.
// Values must be replaced, never mutated in place: a set whose next value is
// identical to the current one is ignored.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	subs   []subscription[T]
	nextID uint64

	effect    Effect[T]
	scheduler Scheduler
	effectMu  sync.Mutex
	cleanup   func()
}

// New creates a cell holding initial and schedules the effect once, if given.
func New[T any](initial T, effect Effect[T], opts ...Option) *Cell[T] {
	c := newCell(initial, effect, opts...)
	c.scheduleEffect(initial)
	return c
}

// newCell builds a cell without running the initial effect.
func newCell[T any](initial T, effect Effect[T], opts ...Option) *Cell[T] {
	o := buildOptions(opts)
	return &Cell[T]{
		value:     initial,
		effect:    effect,
		scheduler: o.scheduler,
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value.
func (c *Cell[T]) Set(value T) {
	c.Update(func(T) T { return value })
}

// Update computes the next value from the current one. fn runs under the
// cell lock and must not call back into the cell.
func (c *Cell[T]) Update(fn func(current T) T) {
	c.apply(func(current T) (T, bool) {
		return fn(current), true
	})
}

// apply runs fn under the cell lock. fn may veto the write by returning false.
func (c *Cell[T]) apply(fn func(current T) (T, bool)) bool {
	next, subs, changed := c.swap(fn)
	if !changed {
		return false
	}

	// A panicking subscriber must not prevent the effect from being scheduled.
	defer c.scheduleEffect(next)

	for _, sub := range subs {
		sub.fn(next)
	}
	return true
}

// swap stores fn's result and snapshots the subscribers. The lock is
// released even when fn panics.
func (c *Cell[T]) swap(fn func(current T) (T, bool)) (next T, subs []subscription[T], changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := fn(c.value)
	if !ok || Same(c.value, next) {
		return next, nil, false
	}
	c.value = next
	subs = make([]subscription[T], len(c.subs))
	copy(subs, c.subs)
	return next, subs, true
}

// Subscribe registers fn to be called with every new value, in subscription
// order. The returned function removes the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription[T]{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subs {
			if sub.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (c *Cell[T]) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close disposes the live effect instance, if any.
func (c *Cell[T]) Close() {
	c.effectMu.Lock()
	defer c.effectMu.Unlock()

	if cleanup := c.cleanup; cleanup != nil {
		c.cleanup = nil
		cleanup()
	}
}

func (c *Cell[T]) scheduleEffect(value T) {
	if c.effect == nil {
		return
	}
	c.scheduler.Schedule(func() {
		c.runEffect(value)
	})
}

func (c *Cell[T]) runEffect(value T) {
	c.effectMu.Lock()
	defer c.effectMu.Unlock()

	if cleanup := c.cleanup; cleanup != nil {
		c.cleanup = nil
		cleanup()
	}
	c.cleanup = c.effect(value)
}

// Same reports whether a and b are the same value: identical references for
// pointers, maps, channels and slices, equality for other comparable values.
// Structs and arrays compare field by field under the same rules. Functions
// are never the same.
func Same[T any](a, b T) bool {
	va := reflect.ValueOf(&a).Elem()
	vb := reflect.ValueOf(&b).Elem()
	return sameValue(va, vb)
}

func sameValue(va, vb reflect.Value) bool {
	switch va.Kind() {
	case reflect.Interface:
		if va.IsNil() || vb.IsNil() {
			return va.IsNil() && vb.IsNil()
		}
		ea, eb := va.Elem(), vb.Elem()
		if ea.Type() != eb.Type() {
			return false
		}
		return sameValue(ea, eb)
	case reflect.Slice:
		if va.IsNil() || vb.IsNil() {
			return va.IsNil() && vb.IsNil()
		}
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Func:
		return false
	case reflect.Struct:
		for i := 0; i < va.NumField(); i++ {
			if !sameValue(va.Field(i), vb.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < va.Len(); i++ {
			if !sameValue(va.Index(i), vb.Index(i)) {
				return false
			}
		}
		return true
	}
	if va.Comparable() {
		return va.Equal(vb)
	}
	return false
}

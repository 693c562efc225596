package atom

import (
	"context"
	"sync/atomic"
)

// Status is the lifecycle stage of a Data cell.
type Status int

const (
	// Idle means nothing has been requested yet.
	Idle Status = iota
	// Loading means a fetch is in flight.
	Loading
	// Loaded means the last fetch succeeded.
	Loaded
	// Failed means the last fetch failed. Data still holds the previous payload.
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the value held by a Data cell.
type State[T any] struct {
	Status  Status
	Data    T
	HasData bool
	Err     error
}

// Init reports whether the cell has never been asked to load.
func (s State[T]) Init() bool {
	return s.Status == Idle
}

// Fetcher loads a payload for param.
type Fetcher[P, T any] func(ctx context.Context, param P) (T, error)

// DataEffect runs after every state change of a Data cell. It receives the
// cell so it can trigger fetches, typically on the initial Idle state.
type DataEffect[P, T any] func(d *Data[P, T], state State[T]) (dispose func())

// Data is a fetch-backed cell. Only the most recently issued fetch may write
// its result; earlier fetches that settle later are discarded.
type Data[P, T any] struct {
	cell    *Cell[State[T]]
	fetch   Fetcher[P, T]
	current atomic.Uint64
}

// NewData creates a data cell in the Idle state and schedules effect once.
func NewData[P, T any](fetch Fetcher[P, T], effect DataEffect[P, T], opts ...Option) *Data[P, T] {
	d := &Data[P, T]{fetch: fetch}

	var cellEffect Effect[State[T]]
	if effect != nil {
		cellEffect = func(s State[T]) func() {
			return effect(d, s)
		}
	}

	initial := State[T]{Status: Idle}
	d.cell = newCell(initial, cellEffect, opts...)
	d.cell.scheduleEffect(initial)
	return d
}

// Get returns the current state.
func (d *Data[P, T]) Get() State[T] {
	return d.cell.Get()
}

// Subscribe registers fn for state changes.
func (d *Data[P, T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	return d.cell.Subscribe(fn)
}

// Close disposes the live effect instance.
func (d *Data[P, T]) Close() {
	d.cell.Close()
}

// Refetch issues a fetch for param and makes it the current one. Previous
// fetches keep running but lose the right to write. The returned channel is
// closed once this fetch has settled, whether or not its result was kept.
func (d *Data[P, T]) Refetch(ctx context.Context, param P) <-chan struct{} {
	id := d.current.Add(1)

	d.cell.apply(func(s State[T]) (State[T], bool) {
		if d.current.Load() != id {
			return s, false
		}
		return State[T]{Status: Loading, Data: s.Data, HasData: s.HasData}, true
	})

	done := make(chan struct{})
	go func() {
		defer close(done)

		data, err := d.fetch(ctx, param)

		d.cell.apply(func(s State[T]) (State[T], bool) {
			if d.current.Load() != id {
				return s, false
			}
			if err != nil {
				return State[T]{Status: Failed, Data: s.Data, HasData: s.HasData, Err: err}, true
			}
			return State[T]{Status: Loaded, Data: data, HasData: true}, true
		})
	}()

	return done
}

// RefetchWith computes the fetch parameter from the current state.
func (d *Data[P, T]) RefetchWith(ctx context.Context, param func(State[T]) P) <-chan struct{} {
	return d.Refetch(ctx, param(d.Get()))
}

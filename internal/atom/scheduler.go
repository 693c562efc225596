package atom

import (
	"log/slog"
	"sync"
)

// Scheduler defers effect work to a later point of the host's event loop.
type Scheduler interface {
	Schedule(fn func())
}

// Immediate runs scheduled work on the calling goroutine.
// Work scheduled while another task is running is queued and drained by the
// outer call, so effects that set state never re-enter each other.
type Immediate struct {
	mu      sync.Mutex
	running bool
	queue   []func()
}

// NewImmediate creates a synchronous scheduler, mostly useful in tests.
func NewImmediate() *Immediate {
	return &Immediate{}
}

// Schedule runs fn now, or after the task currently being drained.
func (s *Immediate) Schedule(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			panic(r)
		}
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next()
	}
}

// Loop runs scheduled work one task at a time on a dedicated goroutine,
// in submission order.
type Loop struct {
	mu        sync.Mutex
	queue     []func()
	wakeCh    chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

// NewLoop creates a new loop scheduler. Call Start before scheduling work.
func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		logger:    logger,
	}
}

// Start begins the loop goroutine.
func (l *Loop) Start() {
	go l.worker()
}

// Stop signals the loop to stop and waits for the running task to finish.
// Tasks still queued are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	<-l.stoppedCh
}

// Schedule queues fn. It never blocks, so it is safe to call from a running task.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Loop) worker() {
	defer close(l.stoppedCh)

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.wakeCh:
			for {
				fn, ok := l.next()
				if !ok {
					break
				}
				l.run(fn)

				select {
				case <-l.stopCh:
					return
				default:
				}
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	fn()
}

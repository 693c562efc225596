package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gdorsi/BangleApps/internal/catalog"
)

// ErrQueueStopped is returned for calls made after the queue stopped
var ErrQueueStopped = errors.New("device queue stopped")

// Observer is told about every device call the queue executes
type Observer interface {
	ObserveDeviceCall(call string, err error, duration time.Duration)
}

// Queue serializes device calls: the watch accepts one transfer at a time,
// so every call runs on a single worker goroutine in arrival order.
// Queue is itself a Transport and is safe for concurrent use.
type Queue struct {
	transport Transport
	requestCh chan queuedCall
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	observer  Observer
	logger    *slog.Logger
}

// queuedCall is a single device call waiting in the queue
type queuedCall struct {
	Name     string
	Run      func(ctx context.Context) (any, error)
	ResultCh chan callResult
	Ctx      context.Context
}

// callResult carries a call's return values back to the caller
type callResult struct {
	Value any
	Err   error
}

// NewQueue creates a queue in front of transport. observer may be nil.
func NewQueue(transport Transport, observer Observer, logger *slog.Logger) *Queue {
	return &Queue{
		transport: transport,
		requestCh: make(chan queuedCall, 32),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		observer:  observer,
		logger:    logger,
	}
}

// Start begins the queue worker goroutine.
func (q *Queue) Start() {
	go q.worker()
}

// Stop signals the worker to stop and waits for the running call to finish.
// It is safe to call more than once.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	<-q.stoppedCh
}

// enqueue adds a call to the queue and waits for its result.
func (q *Queue) enqueue(ctx context.Context, name string, run func(ctx context.Context) (any, error)) (any, error) {
	op := queuedCall{
		Name:     name,
		Run:      run,
		ResultCh: make(chan callResult, 1),
		Ctx:      ctx,
	}

	select {
	case q.requestCh <- op:
		q.logger.Debug("device call queued", "call", name)
	case <-ctx.Done():
		q.logger.Warn("device call cancelled before queuing", "call", name, "error", ctx.Err())
		return nil, ctx.Err()
	case <-q.stopCh:
		q.logger.Warn("device call rejected, queue stopping", "call", name)
		return nil, ErrQueueStopped
	}

	select {
	case result := <-op.ResultCh:
		return result.Value, result.Err
	case <-ctx.Done():
		// The call may still run; the device cannot abort a started transfer.
		q.logger.Warn("device call cancelled while waiting", "call", name, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// worker is the main loop that executes calls one at a time.
func (q *Queue) worker() {
	defer close(q.stoppedCh)

	for {
		select {
		case <-q.stopCh:
			q.drainPending()
			return
		case op := <-q.requestCh:
			q.execute(op)
		}
	}
}

func (q *Queue) execute(op queuedCall) {
	if err := op.Ctx.Err(); err != nil {
		op.ResultCh <- callResult{Err: err}
		return
	}

	start := time.Now()
	value, err := op.Run(op.Ctx)
	elapsed := time.Since(start)

	if q.observer != nil {
		q.observer.ObserveDeviceCall(op.Name, err, elapsed)
	}
	if err != nil {
		q.logger.Warn("device call failed", "call", op.Name, "duration", elapsed, "error", err)
	} else {
		q.logger.Debug("device call complete", "call", op.Name, "duration", elapsed)
	}

	op.ResultCh <- callResult{Value: value, Err: err}
}

// drainPending fails all pending calls during shutdown.
func (q *Queue) drainPending() {
	for {
		select {
		case op := <-q.requestCh:
			op.ResultCh <- callResult{Err: ErrQueueStopped}
		default:
			return
		}
	}
}

func (q *Queue) GetInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	v, err := q.enqueue(ctx, "list", func(ctx context.Context) (any, error) {
		return q.transport.GetInstalledApps(ctx)
	})
	apps, _ := v.([]InstalledApp)
	return apps, err
}

func (q *Queue) UploadApp(ctx context.Context, app *catalog.App, opts UploadOptions) (*InstalledApp, error) {
	v, err := q.enqueue(ctx, "upload", func(ctx context.Context) (any, error) {
		return q.transport.UploadApp(ctx, app, opts)
	})
	installed, _ := v.(*InstalledApp)
	return installed, err
}

func (q *Queue) RemoveApp(ctx context.Context, app InstalledApp) error {
	_, err := q.enqueue(ctx, "remove", func(ctx context.Context) (any, error) {
		return nil, q.transport.RemoveApp(ctx, app)
	})
	return err
}

func (q *Queue) RemoveAllApps(ctx context.Context) error {
	_, err := q.enqueue(ctx, "remove_all", func(ctx context.Context) (any, error) {
		return nil, q.transport.RemoveAllApps(ctx)
	})
	return err
}

func (q *Queue) SetClock(ctx context.Context) error {
	_, err := q.enqueue(ctx, "set_clock", func(ctx context.Context) (any, error) {
		return nil, q.transport.SetClock(ctx)
	})
	return err
}

func (q *Queue) ReadStorageFile(ctx context.Context, name string) ([]byte, error) {
	v, err := q.enqueue(ctx, "read_file", func(ctx context.Context) (any, error) {
		return q.transport.ReadStorageFile(ctx, name)
	})
	data, _ := v.([]byte)
	return data, err
}

func (q *Queue) Disconnect(ctx context.Context) error {
	_, err := q.enqueue(ctx, "disconnect", func(ctx context.Context) (any, error) {
		return nil, q.transport.Disconnect(ctx)
	})
	return err
}

var _ Transport = (*Queue)(nil)

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
)

// Reloader is what the watcher and the refresher drive
type Reloader interface {
	Reload(ctx context.Context)
}

// Watcher reloads the library when a catalog file in a local directory changes
type Watcher struct {
	dir          string
	target       Reloader
	watcher      *fsnotify.Watcher
	logger       *slog.Logger
	debounceTime time.Duration
	reloadCh     chan struct{}
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, target Reloader, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve catalog dir: %w", err)
	}

	return &Watcher{
		dir:          absDir,
		target:       target,
		watcher:      watcher,
		logger:       logger,
		debounceTime: 500 * time.Millisecond,
		reloadCh:     make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}, nil
}

// Start begins watching the directory
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch catalog directory %s: %w", w.dir, err)
	}

	w.logger.Info("watching catalog directory", "dir", w.dir)

	go w.watchLoop()
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops watching
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if err := w.watcher.Close(); err != nil {
			w.logger.Error("error closing catalog watcher", "error", err)
		}
	})
}

func isCatalogFile(name string) bool {
	switch filepath.Base(name) {
	case AppsFile, DefaultsFile, SortInfoFile:
		return true
	}
	return false
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isCatalogFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("catalog file changed", "file", event.Name, "op", event.Op.String())
				w.trigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) trigger() {
	select {
	case w.reloadCh <- struct{}{}:
	default:
	}
}

// reloadLoop coalesces bursts of events into one reload
func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-w.stopCh:
			stopTimer()
			return
		case <-w.reloadCh:
			stopTimer()
			timer = time.AfterFunc(w.debounceTime, func() {
				w.logger.Info("reloading catalog", "dir", w.dir)
				w.target.Reload(ctx)
			})
		}
	}
}

// Refresher reloads the library on a fixed interval
type Refresher struct {
	scheduler gocron.Scheduler
	target    Reloader
	logger    *slog.Logger
}

// NewRefresher schedules a reload every interval
func NewRefresher(ctx context.Context, interval time.Duration, target Reloader, logger *slog.Logger) (*Refresher, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	r := &Refresher{scheduler: s, target: target, logger: logger}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { r.refresh(ctx) }),
		gocron.WithName("catalog-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("failed to schedule catalog refresh: %w", err)
	}
	return r, nil
}

func (r *Refresher) refresh(ctx context.Context) {
	r.logger.Info("scheduled catalog refresh")
	r.target.Reload(ctx)
}

// Start begins the schedule
func (r *Refresher) Start() {
	r.scheduler.Start()
}

// Stop shuts the scheduler down
func (r *Refresher) Stop() error {
	return r.scheduler.Shutdown()
}

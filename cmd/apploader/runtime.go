package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/gdorsi/BangleApps/internal/atom"
	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/config"
	"github.com/gdorsi/BangleApps/internal/device"
	"github.com/gdorsi/BangleApps/internal/metrics"
	"github.com/gdorsi/BangleApps/internal/notify"
	"github.com/gdorsi/BangleApps/internal/orchestrator"
)

// runtime is the wired application: one event loop, one catalog library,
// one serialized device transport and the installer on top of them
type runtime struct {
	cfg       *config.Config
	loop      *atom.Loop
	library   *catalog.Library
	queue     *device.Queue
	installer *orchestrator.Installer
	toasts    *notify.ToastCell
	progress  *notify.ProgressCell
	recorder  *metrics.Recorder
	lock      *flock.Flock
	watcher   *catalog.Watcher
	refresher *catalog.Refresher
	closers   []func()
	logger    *slog.Logger
}

type runtimeOptions struct {
	// Extra installer toast and progress sinks, e.g. the console for one-shot commands
	toasters   []notify.Toaster
	progresses []notify.Progress
	// background enables the catalog watcher and the periodic refresh
	background bool
}

// newRuntime acquires the device lock and wires every component
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runtimeOptions) (*runtime, error) {
	r := &runtime{cfg: cfg, logger: logger}

	if err := r.acquireLock(); err != nil {
		return nil, err
	}

	r.loop = atom.NewLoop(logger)
	r.loop.Start()
	r.closers = append(r.closers, r.loop.Stop)
	cellOpts := []atom.Option{atom.WithScheduler(r.loop)}

	r.recorder = metrics.New()
	r.toasts = notify.NewToastCell(cellOpts...)
	r.progress = notify.NewProgressCell(cellOpts...)

	libraryToaster := notify.Toasters{r.toasts, notify.NewLogToaster(logger)}
	toaster := append(libraryToaster, opts.toasters...)
	progress := append(notify.Progresses{r.progress, notify.NewLogProgress(logger)}, opts.progresses...)

	r.library = catalog.NewLibrary(ctx, catalog.NewLoader(catalog.NewSource(cfg.CatalogURL)), libraryToaster, logger, cellOpts...)
	r.closers = append(r.closers, r.library.Close)

	transport, err := newTransport(cfg)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.queue = device.NewQueue(transport, r.recorder, logger)
	r.queue.Start()
	r.closers = append(r.closers, r.queue.Stop)

	installed := orchestrator.NewInstalledCell(cellOpts...)
	r.closers = append(r.closers, installed.Subscribe(func(inst *orchestrator.Installed) {
		r.recorder.SetInstalledApps(inst.Len())
	}))

	r.installer = orchestrator.NewInstaller(orchestrator.Config{
		Transport:   r.queue,
		Library:     r.library,
		Installed:   installed,
		Status:      orchestrator.NewStatusCell(cellOpts...),
		Pretokenise: orchestrator.NewPretokeniseCell(cfg.Pretokenise, logger, cellOpts...),
		Toaster:     toaster,
		Progress:    progress,
		Observer:    r.recorder,
		Logger:      logger,
	})

	if opts.background {
		if err := r.startBackground(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}

	return r, nil
}

func newTransport(cfg *config.Config) (device.Transport, error) {
	switch cfg.Device {
	case config.DeviceEmulator:
		return device.NewEmulator(), nil
	case config.DeviceBridge:
		return device.NewBridgeTransport(cfg.BridgeURL, cfg.DeviceTimeout), nil
	}
	return nil, fmt.Errorf("unknown device %q", cfg.Device)
}

// acquireLock makes sure only one process drives the device
func (r *runtime) acquireLock() error {
	if r.cfg.LockFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.cfg.LockFile), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(r.cfg.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another apploader holds %s", r.cfg.LockFile)
	}
	r.lock = lock
	return nil
}

// startBackground starts the catalog watcher and refresher the config asks for
func (r *runtime) startBackground(ctx context.Context) error {
	local := !strings.HasPrefix(r.cfg.CatalogURL, "http://") && !strings.HasPrefix(r.cfg.CatalogURL, "https://")
	if local && r.cfg.WatchCatalog {
		w, err := catalog.NewWatcher(r.cfg.CatalogURL, r.library, r.logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return err
		}
		r.watcher = w
		r.closers = append(r.closers, w.Stop)
	}

	if r.cfg.CatalogRefresh > 0 {
		refresher, err := catalog.NewRefresher(ctx, r.cfg.CatalogRefresh, r.library, r.logger)
		if err != nil {
			return err
		}
		refresher.Start()
		r.refresher = refresher
		r.closers = append(r.closers, func() {
			if err := refresher.Stop(); err != nil {
				r.logger.Warn("failed to stop catalog refresh", "error", err)
			}
		})
	}
	return nil
}

// Close stops everything newRuntime started, in reverse order, then
// releases the lock
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil

	if r.lock != nil {
		if err := r.lock.Unlock(); err != nil && !errors.Is(err, os.ErrClosed) {
			r.logger.Warn("failed to release lock", "error", err)
		}
		r.lock = nil
	}
}

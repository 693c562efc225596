package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
	"github.com/gdorsi/BangleApps/internal/notify"
)

// Library provides the catalog and the default app list
type Library interface {
	Ready(ctx context.Context) (*catalog.Catalog, error)
	LoadDefaults(ctx context.Context) ([]string, error)
}

// Observer is told about every finished operation
type Observer interface {
	ObserveOperation(op string, err error, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error, time.Duration) {}

// Config wires an Installer. Transport and Library are required; the
// rest fall back to quiet defaults.
type Config struct {
	Transport   device.Transport
	Library     Library
	Codec       device.Codec
	Installed   *InstalledCell
	Status      *StatusCell
	Pretokenise *PretokeniseCell
	Toaster     notify.Toaster
	Progress    notify.Progress
	Observer    Observer
	Logger      *slog.Logger
}

// Installer sequences device writes for installs, updates and removals.
// Operations never interleave: each holds the operation lock until its
// last device call has returned.
type Installer struct {
	transport   device.Transport
	library     Library
	codec       device.Codec
	installed   *InstalledCell
	status      *StatusCell
	pretokenise *PretokeniseCell
	toaster     notify.Toaster
	progress    notify.Progress
	observer    Observer
	resolver    *Resolver
	logger      *slog.Logger

	opMu sync.Mutex
}

// NewInstaller creates an installer
func NewInstaller(cfg Config) *Installer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	in := &Installer{
		transport:   cfg.Transport,
		library:     cfg.Library,
		codec:       cfg.Codec,
		installed:   cfg.Installed,
		status:      cfg.Status,
		pretokenise: cfg.Pretokenise,
		toaster:     cfg.Toaster,
		progress:    cfg.Progress,
		observer:    cfg.Observer,
		resolver:    NewResolver(logger),
		logger:      logger,
	}
	if in.codec == nil {
		in.codec = device.InfoCodec{}
	}
	if in.installed == nil {
		in.installed = NewInstalledCell()
	}
	if in.status == nil {
		in.status = NewStatusCell()
	}
	if in.pretokenise == nil {
		in.pretokenise = NewPretokeniseCell(true, logger)
	}
	if in.toaster == nil {
		in.toaster = notify.Toasters{}
	}
	if in.progress == nil {
		in.progress = notify.Progresses{}
	}
	if in.observer == nil {
		in.observer = nopObserver{}
	}
	return in
}

// Installed exposes the installed-apps cell
func (in *Installer) Installed() *InstalledCell { return in.installed }

// Status exposes the operation status cell
func (in *Installer) Status() *StatusCell { return in.status }

// Pretokenise exposes the upload setting
func (in *Installer) Pretokenise() *PretokeniseCell { return in.pretokenise }

// Connected reports whether the installed list has been loaded this session
func (in *Installer) Connected() bool {
	return in.installed.Get() != nil
}

type operation struct {
	name    string
	target  string
	batch   bool
	failure string
}

// run executes one operation under the operation lock. A failure is logged,
// counted and toasted exactly once here; fn and its helpers only return errors.
func (in *Installer) run(ctx context.Context, op operation, fn func(ctx context.Context) (string, error)) error {
	in.opMu.Lock()
	defer in.opMu.Unlock()

	opID := uuid.NewString()
	logger := in.logger.With("operation", op.name, "operation_id", opID)
	if op.target != "" {
		logger = logger.With("app", op.target)
	}

	transition(in.status, func(s *Status) {
		*s = Status{OperationID: opID, Operation: op.name, App: op.target, Phase: PhaseIdle}
	})

	logger.Info("operation started")
	start := time.Now()

	msg, err := fn(ctx)

	duration := time.Since(start)
	in.observer.ObserveOperation(op.name, err, duration)

	if err != nil {
		logger.Error("operation failed", "error", err, "duration", duration)
		transition(in.status, func(s *Status) {
			s.Phase = PhaseFailed
			if op.batch {
				s.Phase = PhaseBatchAborted
			}
			s.Error = err.Error()
		})
		in.toaster.Show(fmt.Sprintf("%s, %v", op.failure, err), notify.SeverityError)
		return err
	}

	logger.Info("operation completed", "duration", duration)
	transition(in.status, func(s *Status) {
		s.Phase = PhaseSuccess
		if op.batch {
			s.Phase = PhaseBatchSuccess
		}
		s.Error = ""
	})
	if msg != "" {
		in.toaster.Show(msg, notify.SeveritySuccess)
	}
	return nil
}

func (in *Installer) setPhase(phase Phase) {
	transition(in.status, func(s *Status) { s.Phase = phase })
}

func (in *Installer) uploadOptions(batch bool) device.UploadOptions {
	return device.UploadOptions{
		SkipReset:   batch,
		Pretokenise: in.pretokenise.Get(),
	}
}

// Connect loads the installed-app list from the device
func (in *Installer) Connect(ctx context.Context) error {
	return in.run(ctx, operation{name: "connect", failure: "Connection failed"}, func(ctx context.Context) (string, error) {
		_, err := in.load(ctx)
		return "", err
	})
}

// Disconnect drops the device connection. The installed list is reset at
// once without waiting for a running operation, whose later writes to the
// list are discarded. The transport disconnect still queues behind any
// device call in flight.
func (in *Installer) Disconnect(ctx context.Context) error {
	in.installed.Set(nil)

	start := time.Now()
	err := in.transport.Disconnect(ctx)
	duration := time.Since(start)
	in.observer.ObserveOperation("disconnect", err, duration)

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		in.logger.Error("disconnect failed", "error", err, "duration", duration)
		in.toaster.Show(fmt.Sprintf("Disconnect failed, %v", err), notify.SeverityError)
		return err
	}
	in.logger.Info("disconnected", "duration", duration)
	return nil
}

// SetTime sets the device clock
func (in *Installer) SetTime(ctx context.Context) error {
	return in.run(ctx, operation{name: "set_time", failure: "Error setting time"}, func(ctx context.Context) (string, error) {
		if _, err := in.ensureConnected(ctx); err != nil {
			return "", err
		}
		in.setPhase(PhaseTransferring)
		if err := in.transport.SetClock(ctx); err != nil {
			return "", &TransferError{Op: "set clock", Err: err}
		}
		return "Time set successfully", nil
	})
}

// ReadStorageFile reads a file from the device
func (in *Installer) ReadStorageFile(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := in.run(ctx, operation{name: "read_file", target: name, failure: "Could not read " + name}, func(ctx context.Context) (string, error) {
		if _, err := in.ensureConnected(ctx); err != nil {
			return "", err
		}
		in.setPhase(PhaseTransferring)
		var err error
		data, err = in.transport.ReadStorageFile(ctx, name)
		if err != nil {
			return "", &TransferError{Op: "read", App: name, Err: err}
		}
		return "", nil
	})
	return data, err
}

// Install uploads app and any missing dependencies. An app that is already
// on the device is updated instead.
func (in *Installer) Install(ctx context.Context, app *catalog.App) error {
	return in.run(ctx, operation{name: "install", target: app.ID, failure: "Upload failed"}, func(ctx context.Context) (string, error) {
		current, err := in.ensureConnected(ctx)
		if err != nil {
			return "", err
		}

		if current.Has(app.ID) {
			in.logger.Info("app already installed, updating", "app", app.ID)
			if err := in.update(ctx, app); err != nil {
				return "", err
			}
			return app.Name + " Updated!", nil
		}

		if err := in.install(ctx, app, in.uploadOptions(false), "Uploading "+app.Name); err != nil {
			return "", err
		}
		return app.Name + " Uploaded!", nil
	})
}

// Update replaces an installed app with the given version. Files the new
// version no longer writes are removed from the device first.
func (in *Installer) Update(ctx context.Context, app *catalog.App) error {
	return in.run(ctx, operation{name: "update", target: app.ID, failure: app.Name + " update failed"}, func(ctx context.Context) (string, error) {
		if err := in.update(ctx, app); err != nil {
			return "", err
		}
		return app.Name + " Updated!", nil
	})
}

// Remove deletes an installed app and its data from the device
func (in *Installer) Remove(ctx context.Context, id string) error {
	name := id
	if rec, ok := in.installed.Get().Find(id); ok && rec.Name != "" {
		name = rec.Name
	}

	return in.run(ctx, operation{name: "remove", target: id, failure: name + " removal failed"}, func(ctx context.Context) (string, error) {
		current, err := in.ensureConnected(ctx)
		if err != nil {
			return "", err
		}

		rec, ok := current.Find(id)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNotInstalled, id)
		}

		in.setPhase(PhaseTransferring)
		if err := in.transport.RemoveApp(ctx, rec); err != nil {
			return "", &TransferError{Op: "remove", App: id, Err: err}
		}
		in.installed.Update(func(cur *Installed) *Installed { return cur.Without(id) })

		return name + " removed successfully", nil
	})
}

// RemoveAll wipes every app from the device and reloads the installed list
func (in *Installer) RemoveAll(ctx context.Context) error {
	return in.run(ctx, operation{name: "remove_all", failure: "App removal failed"}, func(ctx context.Context) (string, error) {
		if err := in.removeAll(ctx); err != nil {
			return "", err
		}
		if _, err := in.load(ctx); err != nil {
			return "", err
		}
		return "All apps removed", nil
	})
}

// InstallMultipleApps installs the catalog apps named by ids, one at a time
// and in order. The first failure aborts the batch; apps installed before it
// stay installed.
func (in *Installer) InstallMultipleApps(ctx context.Context, ids []string) error {
	return in.run(ctx, operation{name: "install_multiple", batch: true, failure: "App Install failed"}, func(ctx context.Context) (string, error) {
		if err := in.installBatch(ctx, ids); err != nil {
			return "", err
		}
		return "Apps successfully installed!", nil
	})
}

// ResetToDefaults removes every app, installs the default set and sets the clock
func (in *Installer) ResetToDefaults(ctx context.Context) error {
	return in.run(ctx, operation{name: "reset_defaults", batch: true, failure: "App Install failed"}, func(ctx context.Context) (string, error) {
		ids, err := in.library.LoadDefaults(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrDefaultsUnavailable, err)
		}

		if err := in.removeAll(ctx); err != nil {
			return "", err
		}
		in.toaster.Show("Existing apps removed.", notify.SeverityInfo)

		if err := in.installBatch(ctx, ids); err != nil {
			return "", err
		}

		if err := in.transport.SetClock(ctx); err != nil {
			return "", &TransferError{Op: "set clock", Err: err}
		}
		return "Default apps installed", nil
	})
}

// load reads the installed list from the device into the cell
func (in *Installer) load(ctx context.Context) (*Installed, error) {
	in.setPhase(PhaseConnecting)

	apps, err := in.transport.GetInstalledApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	installed := NewInstalled(apps)
	in.installed.Set(installed)
	in.logger.Info("loaded installed apps", "count", installed.Len())
	return installed, nil
}

func (in *Installer) ensureConnected(ctx context.Context) (*Installed, error) {
	if current := in.installed.Get(); current != nil {
		return current, nil
	}
	return in.load(ctx)
}

// record adds rec to the installed list, replacing any entry with the same id
func (in *Installer) record(rec *device.InstalledApp) {
	if rec == nil {
		return
	}
	in.installed.Update(func(cur *Installed) *Installed {
		if cur == nil {
			// disconnected mid-operation
			return cur
		}
		return cur.Without(rec.ID).With(*rec)
	})
}

// plan validates every dependency of app before anything is transferred
func (in *Installer) plan(ctx context.Context, app *catalog.App) ([]DependencyStep, error) {
	in.setPhase(PhaseResolvingDependencies)

	if len(app.Dependencies) == 0 {
		return nil, nil
	}

	cat, err := in.library.Ready(ctx)
	if err != nil {
		in.logger.Warn("catalog unavailable for dependency resolution", "app", app.ID, "error", err)
		cat = nil
	}
	return in.resolver.Plan(app, in.installed.Get(), cat)
}

// installDependencies uploads each planned dependency in order, skipping
// any type an earlier step has installed since the plan was made
func (in *Installer) installDependencies(ctx context.Context, steps []DependencyStep, opts device.UploadOptions) error {
	for _, step := range steps {
		if found, ok := in.installed.Get().FindType(step.Type); ok {
			in.logger.Debug("dependency satisfied earlier in chain", "type", step.Type, "provider", found.ID)
			continue
		}
		in.logger.Info("installing dependency", "type", step.Type, "app", step.App.ID)
		if err := in.upload(ctx, step.App, opts); err != nil {
			return err
		}
	}
	return nil
}

func (in *Installer) upload(ctx context.Context, app *catalog.App, opts device.UploadOptions) error {
	in.setPhase(PhaseTransferring)

	rec, err := in.transport.UploadApp(ctx, app, opts)
	if err != nil {
		return &TransferError{Op: "upload", App: app.ID, Err: err}
	}
	in.record(rec)
	return nil
}

// install resolves dependencies and uploads app with the progress indicator
// shown. The indicator is hidden on every path.
func (in *Installer) install(ctx context.Context, app *catalog.App, opts device.UploadOptions, label string) error {
	steps, err := in.plan(ctx, app)
	if err != nil {
		return err
	}

	in.progress.Show(label)
	defer in.progress.Hide()

	if err := in.installDependencies(ctx, steps, opts); err != nil {
		return err
	}
	return in.upload(ctx, app, opts)
}

func (in *Installer) update(ctx context.Context, app *catalog.App) error {
	current, err := in.ensureConnected(ctx)
	if err != nil {
		return err
	}

	existing, ok := current.Find(app.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInstalled, app.ID)
	}

	steps, err := in.plan(ctx, app)
	if err != nil {
		return err
	}

	stale := Reconcile(existing, app, in.codec)
	in.logger.Info("removing stale files before update",
		"app", app.ID,
		"from_version", existing.Version,
		"to_version", app.Version,
		"files", stale.Files,
		"data", stale.Data)

	in.setPhase(PhaseTransferring)
	if err := in.transport.RemoveApp(ctx, stale); err != nil {
		return &TransferError{Op: "remove", App: app.ID, Err: err}
	}

	in.toaster.Show(fmt.Sprintf("Updating %s...", app.Name), notify.SeverityInfo)
	in.installed.Update(func(cur *Installed) *Installed { return cur.Without(app.ID) })

	opts := in.uploadOptions(false)
	in.progress.Show("Updating " + app.Name)
	defer in.progress.Hide()

	if err := in.installDependencies(ctx, steps, opts); err != nil {
		return err
	}
	return in.upload(ctx, app, opts)
}

func (in *Installer) removeAll(ctx context.Context) error {
	if _, err := in.ensureConnected(ctx); err != nil {
		return err
	}

	in.setPhase(PhaseTransferring)
	if err := in.transport.RemoveAllApps(ctx); err != nil {
		return &TransferError{Op: "remove all", Err: err}
	}
	in.installed.Update(func(cur *Installed) *Installed {
		if cur == nil {
			return cur
		}
		return NewInstalled(nil)
	})
	return nil
}

func (in *Installer) installBatch(ctx context.Context, ids []string) error {
	cat, err := in.library.Ready(ctx)
	if err != nil {
		return err
	}

	apps, missing := cat.Resolve(ids)
	if len(missing) > 0 {
		return &CatalogResolutionError{Missing: missing}
	}

	if _, err := in.ensureConnected(ctx); err != nil {
		return err
	}

	total := len(apps)
	in.toaster.Show(fmt.Sprintf("Installing %d apps...", total), notify.SeverityInfo)
	opts := in.uploadOptions(true)

	for i, app := range apps {
		index := i + 1
		transition(in.status, func(s *Status) {
			s.Phase = PhaseBatchRunning
			s.App = app.ID
			s.Index = index
			s.Total = total
		})

		label := fmt.Sprintf("%s (%d/%d)", app.Name, index, total)
		if err := in.install(ctx, app, opts, label); err != nil {
			return fmt.Errorf("%s (%d/%d): %w", app.ID, index, total, err)
		}
		in.toaster.Show(fmt.Sprintf("(%d/%d) %s Uploaded", index, total, app.Name), notify.SeverityInfo)
	}

	_, err = in.load(ctx)
	return err
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
	"github.com/gdorsi/BangleApps/internal/notify"
)

var errInjected = errors.New("injected failure")

// journal records calls from every fake in the order they happened
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *journal) count(prefix string) int {
	n := 0
	for _, e := range j.all() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// fakeTransport is an emulator that journals calls and fails on demand
type fakeTransport struct {
	*device.Emulator
	log *journal

	failList    bool
	failUpload  map[string]bool
	failRemove  bool
	failClock   bool
	nilRecords  bool
	removed     []device.InstalledApp
	uploadOpts  []device.UploadOptions
	removeAlls  int
	disconnects int

	// When set, uploads report on uploading and wait for release
	uploading chan string
	release   chan struct{}
}

func newFakeTransport(log *journal) *fakeTransport {
	return &fakeTransport{
		Emulator:   device.NewEmulator(),
		log:        log,
		failUpload: make(map[string]bool),
	}
}

func (f *fakeTransport) GetInstalledApps(ctx context.Context) ([]device.InstalledApp, error) {
	f.log.add("list")
	if f.failList {
		return nil, errInjected
	}
	return f.Emulator.GetInstalledApps(ctx)
}

func (f *fakeTransport) UploadApp(ctx context.Context, app *catalog.App, opts device.UploadOptions) (*device.InstalledApp, error) {
	f.log.add("upload %s", app.ID)
	f.uploadOpts = append(f.uploadOpts, opts)
	if f.release != nil {
		f.uploading <- app.ID
		<-f.release
	}
	if f.failUpload[app.ID] {
		return nil, errInjected
	}
	rec, err := f.Emulator.UploadApp(ctx, app, opts)
	if f.nilRecords {
		return nil, err
	}
	return rec, err
}

func (f *fakeTransport) RemoveApp(ctx context.Context, app device.InstalledApp) error {
	f.log.add("remove %s", app.ID)
	if f.failRemove {
		return errInjected
	}
	f.removed = append(f.removed, app)
	return f.Emulator.RemoveApp(ctx, app)
}

func (f *fakeTransport) RemoveAllApps(ctx context.Context) error {
	f.log.add("remove_all")
	f.removeAlls++
	return f.Emulator.RemoveAllApps(ctx)
}

func (f *fakeTransport) SetClock(ctx context.Context) error {
	f.log.add("set_clock")
	if f.failClock {
		return errInjected
	}
	return f.Emulator.SetClock(ctx)
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.log.add("disconnect")
	f.disconnects++
	return f.Emulator.Disconnect(ctx)
}

// seed installs apps on the emulated device without journaling
func (f *fakeTransport) seed(apps ...*catalog.App) {
	for _, app := range apps {
		if _, err := f.Emulator.UploadApp(context.Background(), app, device.UploadOptions{}); err != nil {
			panic(err)
		}
	}
}

type fakeLibrary struct {
	catalog     *catalog.Catalog
	catalogErr  error
	defaults    []string
	defaultsErr error
}

func (f *fakeLibrary) Ready(ctx context.Context) (*catalog.Catalog, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.catalog, nil
}

func (f *fakeLibrary) LoadDefaults(ctx context.Context) ([]string, error) {
	if f.defaultsErr != nil {
		return nil, f.defaultsErr
	}
	return f.defaults, nil
}

type fakeToaster struct {
	log    *journal
	toasts []notify.Toast
}

func (f *fakeToaster) Show(msg string, severity notify.Severity) {
	f.log.add("toast %s", severity)
	f.toasts = append(f.toasts, notify.Toast{Message: msg, Severity: severity})
}

func (f *fakeToaster) errors() []string {
	var out []string
	for _, t := range f.toasts {
		if t.Severity == notify.SeverityError {
			out = append(out, t.Message)
		}
	}
	return out
}

type fakeProgress struct {
	log *journal
}

func (f *fakeProgress) Show(label string) { f.log.add("progress.show %s", label) }
func (f *fakeProgress) Hide()             { f.log.add("progress.hide") }

type fakeObserver struct {
	ops  []string
	errs []error
}

func (f *fakeObserver) ObserveOperation(op string, err error, _ time.Duration) {
	f.ops = append(f.ops, op)
	f.errs = append(f.errs, err)
}

type harness struct {
	log       *journal
	transport *fakeTransport
	library   *fakeLibrary
	toaster   *fakeToaster
	observer  *fakeObserver
	installer *Installer
}

func newHarness(apps ...*catalog.App) *harness {
	log := &journal{}
	h := &harness{
		log:       log,
		transport: newFakeTransport(log),
		library:   &fakeLibrary{catalog: catalog.New(apps)},
		toaster:   &fakeToaster{log: log},
		observer:  &fakeObserver{},
	}
	h.installer = NewInstaller(Config{
		Transport: h.transport,
		Library:   h.library,
		Toaster:   h.toaster,
		Progress:  &fakeProgress{log: log},
		Observer:  h.observer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func newApp(id, appType string, deps ...catalog.Dependency) *catalog.App {
	return &catalog.App{
		ID:           id,
		Name:         "App " + id,
		Type:         appType,
		Version:      "0.01",
		Dependencies: deps,
		Storage:      []catalog.StorageFile{{Name: id + ".app.js"}},
	}
}

func typeDep(t string) catalog.Dependency {
	return catalog.Dependency{Type: t, Kind: DependencyKindType}
}

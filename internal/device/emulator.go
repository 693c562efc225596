package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/gdorsi/BangleApps/internal/catalog"
)

// Emulator is an in-memory watch. It keeps storage files and .info records the
// way the firmware does, which makes it usable for development without
// hardware and as a realistic transport in tests.
type Emulator struct {
	mu        sync.Mutex
	files     map[string][]byte
	apps      map[string]InstalledApp
	order     []string
	clock     time.Time
	connected bool
	codec     Codec
}

// NewEmulator creates an empty emulated device
func NewEmulator() *Emulator {
	return &Emulator{
		files: make(map[string][]byte),
		apps:  make(map[string]InstalledApp),
		codec: InfoCodec{},
	}
}

func (e *Emulator) GetInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.connected = true
	apps := make([]InstalledApp, 0, len(e.order))
	for _, id := range e.order {
		apps = append(apps, e.apps[id])
	}
	return apps, nil
}

func (e *Emulator) UploadApp(ctx context.Context, app *catalog.App, opts UploadOptions) (*InstalledApp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if app == nil || app.ID == "" {
		return nil, fmt.Errorf("upload: app without id")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	files := make([]string, 0, len(app.Storage)+1)
	for _, s := range app.Storage {
		content := s.Content
		if content == "" {
			content = s.URL
		}
		e.files[s.Name] = []byte(content)
		files = append(files, s.Name)
	}

	var declared DataFiles
	for _, d := range app.Data {
		if d.StorageFile {
			declared.StorageFiles = append(declared.StorageFiles, d.Key())
		} else {
			declared.DataFiles = append(declared.DataFiles, d.Key())
		}
	}

	info := app.InfoFile()
	files = append(files, info)
	e.files[info] = []byte(fmt.Sprintf(`{"id":%q,"version":%q}`, app.ID, app.Version))

	record := InstalledApp{
		ID:      app.ID,
		Name:    app.Name,
		Type:    app.Type,
		Version: app.Version,
		Files:   strings.Join(files, ","),
		Data:    e.codec.Encode(declared),
	}
	if _, exists := e.apps[app.ID]; !exists {
		e.order = append(e.order, app.ID)
	}
	e.apps[app.ID] = record

	out := record
	return &out, nil
}

func (e *Emulator) RemoveApp(ctx context.Context, app InstalledApp) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.apps[app.ID]; !ok {
		return fmt.Errorf("remove: app %s is not installed", app.ID)
	}

	for _, f := range app.FileList() {
		delete(e.files, f)
	}
	data := e.codec.Decode(app.Data)
	for _, pattern := range append(data.DataFiles, data.StorageFiles...) {
		e.deleteMatching(pattern)
	}
	// The record itself always goes; a reconciled remove keeps the .info only
	// because the following upload rewrites it.
	delete(e.apps, app.ID)
	for i, id := range e.order {
		if id == app.ID {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

func (e *Emulator) deleteMatching(pattern string) {
	for name := range e.files {
		if ok, _ := doublestar.Match(pattern, name); ok {
			delete(e.files, name)
		}
	}
}

func (e *Emulator) RemoveAllApps(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.files = make(map[string][]byte)
	e.apps = make(map[string]InstalledApp)
	e.order = nil
	return nil
}

func (e *Emulator) SetClock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = time.Now()
	return nil
}

func (e *Emulator) ReadStorageFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	data, ok := e.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (e *Emulator) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

// WriteFile puts a file in storage, as an app would at runtime
func (e *Emulator) WriteFile(name string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = data
}

// Files lists the storage file names, sorted
func (e *Emulator) Files() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.files))
	for name := range e.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClockSet reports when the clock was last set
func (e *Emulator) ClockSet() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// Connected reports whether a client has listed apps since the last disconnect
func (e *Emulator) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

var _ Transport = (*Emulator)(nil)

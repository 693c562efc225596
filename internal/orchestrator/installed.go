package orchestrator

import (
	"github.com/gdorsi/BangleApps/internal/atom"
	"github.com/gdorsi/BangleApps/internal/device"
)

// Installed is an immutable snapshot of the apps on the device.
// A nil *Installed means no device has been connected this session.
type Installed struct {
	Apps []device.InstalledApp `json:"apps"`
}

// InstalledCell caches the device's app list between operations
type InstalledCell = atom.Cell[*Installed]

// NewInstalledCell creates a disconnected cell
func NewInstalledCell(opts ...atom.Option) *InstalledCell {
	return atom.New[*Installed](nil, nil, opts...)
}

// NewInstalled snapshots apps
func NewInstalled(apps []device.InstalledApp) *Installed {
	out := make([]device.InstalledApp, len(apps))
	copy(out, apps)
	return &Installed{Apps: out}
}

// Find returns the record for id
func (in *Installed) Find(id string) (device.InstalledApp, bool) {
	if in == nil {
		return device.InstalledApp{}, false
	}
	for _, app := range in.Apps {
		if app.ID == id {
			return app, true
		}
	}
	return device.InstalledApp{}, false
}

// Has reports whether id is installed
func (in *Installed) Has(id string) bool {
	_, ok := in.Find(id)
	return ok
}

// FindType returns the first installed app providing appType
func (in *Installed) FindType(appType string) (device.InstalledApp, bool) {
	if in == nil {
		return device.InstalledApp{}, false
	}
	for _, app := range in.Apps {
		if app.Type == appType {
			return app, true
		}
	}
	return device.InstalledApp{}, false
}

// With returns a new snapshot with app appended
func (in *Installed) With(app device.InstalledApp) *Installed {
	var apps []device.InstalledApp
	if in != nil {
		apps = make([]device.InstalledApp, 0, len(in.Apps)+1)
		apps = append(apps, in.Apps...)
	}
	return &Installed{Apps: append(apps, app)}
}

// Without returns a new snapshot with id filtered out
func (in *Installed) Without(id string) *Installed {
	if in == nil {
		return &Installed{Apps: []device.InstalledApp{}}
	}
	apps := make([]device.InstalledApp, 0, len(in.Apps))
	for _, app := range in.Apps {
		if app.ID != id {
			apps = append(apps, app)
		}
	}
	return &Installed{Apps: apps}
}

// Len returns the number of installed apps
func (in *Installed) Len() int {
	if in == nil {
		return 0
	}
	return len(in.Apps)
}

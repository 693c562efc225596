package device

import (
	"context"
	"errors"
	"strings"

	"github.com/gdorsi/BangleApps/internal/catalog"
)

// ErrFileNotFound is returned when a storage file does not exist on the device
var ErrFileNotFound = errors.New("storage file not found")

// InstalledApp is what the device reports for one installed app
type InstalledApp struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	Version string `json:"version,omitempty"`
	Files   string `json:"files,omitempty"` // comma-joined, includes "<id>.info"
	Data    string `json:"data,omitempty"`  // encoded with the data-string codec
}

// FileList splits Files
func (a InstalledApp) FileList() []string {
	return splitList(a.Files)
}

// UploadOptions tune a single upload
type UploadOptions struct {
	// SkipReset leaves the device running between uploads of a batch
	SkipReset bool `json:"skipReset,omitempty"`
	// Pretokenise asks the uploader to tokenise JavaScript before sending
	Pretokenise bool `json:"pretokenise,omitempty"`
}

// Transport talks to the watch. Every method may fail; the error is the only
// failure signal. Implementations are not required to be safe for concurrent
// use: wrap them in a Queue.
type Transport interface {
	// GetInstalledApps lists the apps on the device
	GetInstalledApps(ctx context.Context) ([]InstalledApp, error)

	// UploadApp writes app to the device. It returns the record the device
	// now holds, or nil when the device does not report one.
	UploadApp(ctx context.Context, app *catalog.App, opts UploadOptions) (*InstalledApp, error)

	// RemoveApp deletes the files and data named by the record
	RemoveApp(ctx context.Context, app InstalledApp) error

	// RemoveAllApps wipes every app from the device
	RemoveAllApps(ctx context.Context) error

	// SetClock sets the device clock to the host's time
	SetClock(ctx context.Context) error

	// ReadStorageFile reads a file from device storage
	ReadStorageFile(ctx context.Context, name string) ([]byte, error)

	// Disconnect drops the connection to the device
	Disconnect(ctx context.Context) error
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package orchestrator

import (
	"slices"
	"strings"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
)

// Reconcile computes the record to remove before app is uploaded over
// existing. The manifest and every file the new version writes are kept
// because the upload replaces them. When app declares data, tracked data
// files it still references are kept; otherwise the data string is
// removed unchanged.
func Reconcile(existing device.InstalledApp, app *catalog.App, codec device.Codec) device.InstalledApp {
	info := catalog.InfoFileName(existing.ID)

	var files []string
	for _, f := range existing.FileList() {
		if f == info || app.WritesFile(f) {
			continue
		}
		files = append(files, f)
	}

	out := existing
	out.Files = strings.Join(files, ",")

	if app.DeclaresData() {
		keys := app.DataKeys()
		stale := func(name string) bool { return !slices.Contains(keys, name) }

		data := codec.Decode(existing.Data)
		data.DataFiles = filter(data.DataFiles, stale)
		data.StorageFiles = filter(data.StorageFiles, stale)
		out.Data = codec.Encode(data)
	}

	return out
}

func filter(names []string, keep func(string) bool) []string {
	var out []string
	for _, n := range names {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

package catalog

import (
	"fmt"
	"slices"
	"strings"
)

// Sort keys backed by the sort info file
const (
	SortNone     = ""
	SortCreated  = "created"
	SortModified = "modified"
)

// Filter selects and orders apps for the library view
type Filter struct {
	Tag    string `json:"tag,omitempty"`
	Search string `json:"search,omitempty"`
	Sort   string `json:"sort,omitempty"`
}

// Visible returns the apps matching f, ordered for display.
// Apps are ordered by sortorder then name, with unknown apps last; a Sort key
// reorders them by newest date first when sortInfo is available.
func (c *Catalog) Visible(f Filter, sortInfo map[string]SortInfo) ([]*App, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var visible []*App
	for _, app := range c.apps {
		if f.Tag != "" && !app.HasTag(f.Tag) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(app.Name), search) &&
			!strings.Contains(app.Tags, search) {
			continue
		}
		visible = append(visible, app)
	}

	slices.SortStableFunc(visible, compareApps)

	if f.Sort == SortNone || sortInfo == nil {
		return visible, nil
	}

	var date func(SortInfo) int64
	switch f.Sort {
	case SortCreated:
		date = func(si SortInfo) int64 { return si.Created.UnixMilli() }
	case SortModified:
		date = func(si SortInfo) int64 { return si.Modified.UnixMilli() }
	default:
		return nil, fmt.Errorf("unknown sort type %s", f.Sort)
	}

	slices.SortStableFunc(visible, func(a, b *App) int {
		da, db := date(sortInfo[a.ID]), date(sortInfo[b.ID])
		switch {
		case da > db:
			return -1
		case da < db:
			return 1
		}
		return 0
	})
	return visible, nil
}

func compareApps(a, b *App) int {
	if a.Unknown != b.Unknown {
		if a.Unknown {
			return 1
		}
		return -1
	}
	if a.SortOrder != b.SortOrder {
		return a.SortOrder - b.SortOrder
	}
	return strings.Compare(a.Name, b.Name)
}

// Tags returns every tag used in the catalog, in first-seen order
func (c *Catalog) Tags() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, app := range c.apps {
		for _, tag := range app.TagList() {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// CanUpdate reports whether an installed version differs from the catalog's.
// Versions are opaque: any difference counts as an update.
func CanUpdate(app *App, installedVersion string, installed bool) bool {
	return installed && app.Version != installedVersion
}

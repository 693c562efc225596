package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Loader reads the catalog, the default app list and the sort info from a Source
type Loader struct {
	src Source
}

// NewLoader creates a new catalog loader
func NewLoader(src Source) *Loader {
	return &Loader{src: src}
}

// LoadCatalog reads and validates apps.json
func (l *Loader) LoadCatalog(ctx context.Context) (*Catalog, error) {
	data, err := l.src.ReadFile(ctx, AppsFile)
	if err != nil {
		return nil, err
	}

	apps, err := ParseApps(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", AppsFile, err)
	}
	return New(apps), nil
}

// ParseApps decodes a JSON array of app descriptors
func ParseApps(data []byte) ([]*App, error) {
	var apps []*App
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, err
	}

	for i, app := range apps {
		if err := validateApp(app); err != nil {
			return nil, fmt.Errorf("app %d: %w", i, err)
		}
	}
	return apps, nil
}

// validateApp validates that an app definition has all required fields
func validateApp(app *App) error {
	if app == nil {
		return fmt.Errorf("empty entry")
	}
	if app.ID == "" {
		return fmt.Errorf("app id is required")
	}
	if app.Name == "" {
		return fmt.Errorf("name is required for %s", app.ID)
	}
	for _, s := range app.Storage {
		if s.Name == "" {
			return fmt.Errorf("storage entry without name in %s", app.ID)
		}
	}
	return nil
}

// LoadDefaults reads defaultapps.json, a JSON array of app ids.
// The file is sometimes published as a JSON string holding the array;
// both forms are accepted.
func (l *Loader) LoadDefaults(ctx context.Context) ([]string, error) {
	data, err := l.src.ReadFile(ctx, DefaultsFile)
	if err != nil {
		return nil, err
	}
	return ParseDefaults(data)
}

// ParseDefaults decodes a default app list
func ParseDefaults(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err == nil {
		return ids, nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", DefaultsFile, err)
	}
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", DefaultsFile, err)
	}
	return ids, nil
}

// SortInfo holds the creation and modification dates of one app
type SortInfo struct {
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// LoadSortInfo reads appdates.csv
func (l *Loader) LoadSortInfo(ctx context.Context) (map[string]SortInfo, error) {
	data, err := l.src.ReadFile(ctx, SortInfoFile)
	if err != nil {
		return nil, err
	}
	return ParseSortInfo(data)
}

// ParseSortInfo decodes header-less "id,created,modified" lines.
// Dates are epoch milliseconds; RFC 3339 and plain dates are accepted too.
// Unparseable dates are left zero.
func ParseSortInfo(data []byte) (map[string]SortInfo, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	info := make(map[string]SortInfo)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", SortInfoFile, err)
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		var si SortInfo
		if len(record) > 1 {
			si.Created = parseDate(record[1])
		}
		if len(record) > 2 {
			si.Modified = parseDate(record[2])
		}
		info[strings.TrimSpace(record[0])] = si
	}
	return info, nil
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05 -0700", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

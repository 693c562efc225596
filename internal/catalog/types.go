package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// App is a catalog entry from apps.json
type App struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ShortName     string        `json:"shortName,omitempty"`
	Type          string        `json:"type,omitempty"`
	Version       string        `json:"version"`
	Description   string        `json:"description,omitempty"`
	Icon          string        `json:"icon,omitempty"`
	Tags          string        `json:"tags,omitempty"`       // comma-separated
	SortOrder     int           `json:"sortorder,omitempty"`  // lower sorts first
	Unknown       bool          `json:"unknown,omitempty"`    // placeholder for apps missing from the catalog
	Dependencies  Dependencies  `json:"dependencies,omitempty"`
	Storage       []StorageFile `json:"storage"`
	Data          []DataFile    `json:"data"`           // nil when the app declares no data key
	Custom        string        `json:"custom,omitempty"`
	Interface     string        `json:"interface,omitempty"`
	Readme        string        `json:"readme,omitempty"`
	AllowEmulator bool          `json:"allow_emulator,omitempty"`
}

// StorageFile is a file written to the device when the app is uploaded
type StorageFile struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"` // inline content, set by customised uploads
	Evaluate bool   `json:"evaluate,omitempty"`
}

// DataFile declares a file the app creates on the device at runtime
type DataFile struct {
	Name        string `json:"name,omitempty"`
	Wildcard    string `json:"wildcard,omitempty"`
	StorageFile bool   `json:"storageFile,omitempty"`
}

// Key returns the name or wildcard identifying the declaration
func (d DataFile) Key() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Wildcard
}

// DeclaresData reports whether the app carries a data key at all.
// An explicitly empty list is still a declaration.
func (a *App) DeclaresData() bool {
	return a.Data != nil
}

// DataKeys returns the declared data names and wildcards
func (a *App) DataKeys() []string {
	keys := make([]string, 0, len(a.Data))
	for _, d := range a.Data {
		keys = append(keys, d.Key())
	}
	return keys
}

// TagList splits the comma-separated tags
func (a *App) TagList() []string {
	if a.Tags == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(a.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// HasTag reports whether tag is one of the app's tags
func (a *App) HasTag(tag string) bool {
	for _, t := range a.TagList() {
		if t == tag {
			return true
		}
	}
	return false
}

// InfoFile returns the name of the manifest the device keeps for this app
func (a *App) InfoFile() string {
	return InfoFileName(a.ID)
}

// WritesFile reports whether uploading the app writes a file called name
func (a *App) WritesFile(name string) bool {
	for _, s := range a.Storage {
		if s.Name == name {
			return true
		}
	}
	return false
}

// InfoFileName returns the manifest filename for an app id
func InfoFileName(id string) string {
	return id + ".info"
}

// Dependency is one declared dependency: an app type and how it is matched
type Dependency struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
}

// Dependencies keeps the declaration order of the JSON object
// {"<type>": "<kind>", ...}
type Dependencies []Dependency

// UnmarshalJSON decodes the dependency object, preserving key order
func (d *Dependencies) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dependencies must be an object")
	}

	deps := Dependencies{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("invalid dependency key %v", keyTok)
		}

		var kind string
		if err := dec.Decode(&kind); err != nil {
			return fmt.Errorf("invalid kind for dependency %q: %w", key, err)
		}
		deps = append(deps, Dependency{Type: key, Kind: kind})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*d = deps
	return nil
}

// MarshalJSON encodes the dependencies back into an ordered object
func (d Dependencies) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, dep := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(dep.Type)
		if err != nil {
			return nil, err
		}
		kind, err := json.Marshal(dep.Kind)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(kind)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

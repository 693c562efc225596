package orchestrator

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
)

func TestReconcile(t *testing.T) {
	codec := device.InfoCodec{}

	tests := []struct {
		name      string
		existing  device.InstalledApp
		app       *catalog.App
		wantFiles string
		wantData  string
	}{
		{
			name:      "manifest and overwritten files are kept",
			existing:  device.InstalledApp{ID: "app", Files: "a.js,a.img,app.info"},
			app:       &catalog.App{ID: "app", Storage: []catalog.StorageFile{{Name: "a.img"}}},
			wantFiles: "a.js",
		},
		{
			name:      "no data key passes data through",
			existing:  device.InstalledApp{ID: "app", Files: "app.info", Data: "a.json;log*"},
			app:       &catalog.App{ID: "app"},
			wantFiles: "",
			wantData:  "a.json;log*",
		},
		{
			name:     "declared data is preserved",
			existing: device.InstalledApp{ID: "app", Files: "app.info", Data: "a.json,b.json;log*"},
			app: &catalog.App{ID: "app", Data: []catalog.DataFile{
				{Name: "a.json"},
				{Wildcard: "log*", StorageFile: true},
			}},
			wantData: "b.json",
		},
		{
			name:     "empty data declaration removes all tracked data",
			existing: device.InstalledApp{ID: "app", Files: "app.info", Data: "a.json;log*"},
			app:      &catalog.App{ID: "app", Data: []catalog.DataFile{}},
			wantData: "a.json;log*",
		},
		{
			name:      "nothing stale",
			existing:  device.InstalledApp{ID: "app", Files: "app.js,app.info", Data: "a.json"},
			app:       &catalog.App{ID: "app", Storage: []catalog.StorageFile{{Name: "app.js"}}, Data: []catalog.DataFile{{Name: "a.json"}}},
			wantFiles: "",
			wantData:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.existing, tt.app, codec)
			assert.Equal(t, tt.existing.ID, got.ID)
			assert.Equal(t, tt.wantFiles, got.Files)
			assert.Equal(t, tt.wantData, got.Data)
		})
	}
}

func TestResolver_Plan(t *testing.T) {
	resolver := NewResolver(slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Two providers of "foo": the one earlier in the catalog is chosen.
	first := newApp("first", "foo")
	second := newApp("second", "foo")
	cat := catalog.New([]*catalog.App{
		newApp("x", "clock"),
		first,
		newApp("y", "launch"),
		newApp("z", "widget"),
		second,
		newApp("keyboard", "textinput"),
	})

	t.Run("first provider wins", func(t *testing.T) {
		steps, err := resolver.Plan(newApp("a", "app", typeDep("foo")), NewInstalled(nil), cat)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Same(t, first, steps[0].App)
	})

	t.Run("installed provider satisfies", func(t *testing.T) {
		installed := NewInstalled([]device.InstalledApp{{ID: "other", Type: "foo"}})
		steps, err := resolver.Plan(newApp("a", "app", typeDep("foo")), installed, cat)
		require.NoError(t, err)
		assert.Empty(t, steps)
	})

	t.Run("declaration order kept", func(t *testing.T) {
		steps, err := resolver.Plan(newApp("a", "app", typeDep("textinput"), typeDep("foo")), NewInstalled(nil), cat)
		require.NoError(t, err)
		assert.Equal(t, []string{"textinput:keyboard", "foo:first"}, Describe(steps))
	})

	t.Run("unsatisfied", func(t *testing.T) {
		_, err := resolver.Plan(newApp("a", "app", typeDep("bar")), NewInstalled(nil), cat)
		require.ErrorIs(t, err, ErrUnsatisfiedDependency)
		assert.Contains(t, err.Error(), "'bar'")
	})

	t.Run("unsupported kind after a satisfiable one", func(t *testing.T) {
		app := newApp("a", "app", typeDep("foo"), catalog.Dependency{Type: "b", Kind: "app"})
		steps, err := resolver.Plan(app, NewInstalled(nil), cat)
		require.ErrorIs(t, err, ErrUnsupportedDependencyKind)
		assert.Nil(t, steps)
	})

	t.Run("no catalog", func(t *testing.T) {
		_, err := resolver.Plan(newApp("a", "app", typeDep("foo")), nil, nil)
		require.ErrorIs(t, err, ErrUnsatisfiedDependency)
	})
}

func TestInstalled_Immutable(t *testing.T) {
	base := NewInstalled([]device.InstalledApp{{ID: "a"}, {ID: "b"}})

	added := base.With(device.InstalledApp{ID: "c"})
	removed := base.Without("a")

	assert.Equal(t, 2, base.Len())
	assert.Equal(t, 3, added.Len())
	assert.Equal(t, []string{"b"}, installedIDs(removed))
	assert.NotSame(t, base, added)

	var disconnected *Installed
	assert.False(t, disconnected.Has("a"))
	assert.Equal(t, []string{"a"}, installedIDs(disconnected.With(device.InstalledApp{ID: "a"})))
}

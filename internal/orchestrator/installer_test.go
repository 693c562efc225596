package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
	"github.com/gdorsi/BangleApps/internal/notify"
)

func installedIDs(in *Installed) []string {
	if in == nil {
		return nil
	}
	ids := make([]string, 0, len(in.Apps))
	for _, a := range in.Apps {
		ids = append(ids, a.ID)
	}
	return ids
}

// transfers returns the journal entries for progress and uploads only
func transfers(log *journal) []string {
	var out []string
	for _, e := range log.all() {
		if strings.HasPrefix(e, "progress") || strings.HasPrefix(e, "upload") {
			out = append(out, e)
		}
	}
	return out
}

func TestInstall_UnsatisfiableDependency(t *testing.T) {
	ctx := context.Background()
	target := newApp("foo", "app", typeDep("bar"))
	h := newHarness(target, newApp("other", "clock"))

	require.NoError(t, h.installer.Connect(ctx))
	before := h.installer.Installed().Get()

	err := h.installer.Install(ctx, target)

	require.ErrorIs(t, err, ErrUnsatisfiedDependency)
	assert.Same(t, before, h.installer.Installed().Get(), "installed cell must not change")
	assert.Len(t, h.toaster.errors(), 1)
	assert.Zero(t, h.log.count("upload"))
	assert.Equal(t, PhaseFailed, h.installer.Status().Get().Phase)
}

func TestInstall_UnsupportedKindAbortsBeforeTransfer(t *testing.T) {
	ctx := context.Background()
	target := newApp("foo", "app", typeDep("textinput"), catalog.Dependency{Type: "boot", Kind: "app"})
	h := newHarness(target, newApp("keyboard", "textinput"))

	err := h.installer.Install(ctx, target)

	require.ErrorIs(t, err, ErrUnsupportedDependencyKind)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "boot", depErr.Type)
	assert.Zero(t, h.log.count("upload"), "the satisfiable dependency must not be transferred either")
	assert.Len(t, h.toaster.errors(), 1)
}

func TestInstall_DependencyInstalledFirst(t *testing.T) {
	ctx := context.Background()
	target := newApp("notes", "app", typeDep("textinput"))
	h := newHarness(
		target,
		newApp("swipe", "textinput"),
		newApp("kbtouch", "textinput"),
	)

	require.NoError(t, h.installer.Install(ctx, target))

	assert.Equal(t, []string{
		"progress.show Uploading App notes",
		"upload swipe",
		"upload notes",
		"progress.hide",
	}, transfers(h.log), "first catalog provider wins and goes first")
	assert.Equal(t, []string{"swipe", "notes"}, installedIDs(h.installer.Installed().Get()))
	assert.Empty(t, h.toaster.errors())
	assert.Equal(t, "App notes Uploaded!", h.toaster.toasts[len(h.toaster.toasts)-1].Message)
}

func TestInstall_DependencyAlreadyInstalled(t *testing.T) {
	ctx := context.Background()
	target := newApp("notes", "app", typeDep("textinput"))
	kb := newApp("kbtouch", "textinput")
	h := newHarness(target, newApp("swipe", "textinput"), kb)
	h.transport.seed(kb)

	require.NoError(t, h.installer.Install(ctx, target))

	assert.Equal(t, 1, h.log.count("upload"))
	assert.Equal(t, []string{"kbtouch", "notes"}, installedIDs(h.installer.Installed().Get()))
}

func TestInstall_ConnectsWhenDisconnected(t *testing.T) {
	ctx := context.Background()
	target := newApp("clock", "clock")
	h := newHarness(target)

	var phases []Phase
	unsubscribe := h.installer.Status().Subscribe(func(s *Status) {
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	})
	defer unsubscribe()

	require.False(t, h.installer.Connected())
	require.NoError(t, h.installer.Install(ctx, target))
	assert.True(t, h.installer.Connected())

	assert.Equal(t, []string{"list", "progress.show Uploading App clock", "upload clock", "progress.hide", "toast success"}, h.log.all())
	assert.Equal(t, []Phase{
		PhaseIdle,
		PhaseConnecting,
		PhaseResolvingDependencies,
		PhaseTransferring,
		PhaseSuccess,
	}, phases)
}

func TestInstall_ConnectionFailure(t *testing.T) {
	h := newHarness(newApp("clock", "clock"))
	h.transport.failList = true

	err := h.installer.Install(context.Background(), newApp("clock", "clock"))

	require.ErrorIs(t, err, ErrConnection)
	assert.Nil(t, h.installer.Installed().Get())
	assert.Len(t, h.toaster.errors(), 1)
	assert.Zero(t, h.log.count("upload"))
}

func TestInstall_TransferFailureHidesProgress(t *testing.T) {
	ctx := context.Background()
	target := newApp("clock", "clock")
	h := newHarness(target)
	h.transport.failUpload["clock"] = true
	require.NoError(t, h.installer.Connect(ctx))

	err := h.installer.Install(ctx, target)

	require.ErrorIs(t, err, ErrTransfer)
	assert.Equal(t, []string{"progress.show Uploading App clock", "upload clock", "progress.hide"}, transfers(h.log))
	assert.Equal(t, 0, h.installer.Installed().Get().Len())
	require.Len(t, h.toaster.errors(), 1)
	assert.Contains(t, h.toaster.errors()[0], "Upload failed")
}

func TestInstall_NilRecordLeavesCell(t *testing.T) {
	ctx := context.Background()
	target := newApp("clock", "clock")
	h := newHarness(target)
	h.transport.nilRecords = true
	require.NoError(t, h.installer.Connect(ctx))

	require.NoError(t, h.installer.Install(ctx, target))
	assert.Equal(t, 0, h.installer.Installed().Get().Len())
}

func TestInstall_PassesUploadOptions(t *testing.T) {
	ctx := context.Background()
	target := newApp("clock", "clock")
	h := newHarness(target)

	h.installer.Pretokenise().Set(false)
	require.NoError(t, h.installer.Install(ctx, target))

	require.Len(t, h.transport.uploadOpts, 1)
	assert.Equal(t, device.UploadOptions{SkipReset: false, Pretokenise: false}, h.transport.uploadOpts[0])
}

func TestInstall_AlreadyInstalledUpdates(t *testing.T) {
	ctx := context.Background()
	old := newApp("clock", "clock")
	h := newHarness()
	h.transport.seed(old)

	next := newApp("clock", "clock")
	next.Version = "0.02"
	require.NoError(t, h.installer.Install(ctx, next))

	assert.Equal(t, 1, h.log.count("remove clock"))
	rec, ok := h.installer.Installed().Get().Find("clock")
	require.True(t, ok)
	assert.Equal(t, "0.02", rec.Version)
	assert.Equal(t, "App clock Updated!", h.toaster.toasts[len(h.toaster.toasts)-1].Message)
}

func TestUpdate_ReconcilesFiles(t *testing.T) {
	ctx := context.Background()
	old := &catalog.App{
		ID:      "app",
		Name:    "App",
		Version: "0.01",
		Storage: []catalog.StorageFile{{Name: "a.js"}, {Name: "a.img"}},
		Data:    []catalog.DataFile{{Name: "a.json"}, {Name: "a.old"}},
	}
	h := newHarness()
	h.transport.seed(old)
	h.transport.WriteFile("a.json", []byte("{}"))
	h.transport.WriteFile("a.old", []byte("{}"))

	next := &catalog.App{
		ID:      "app",
		Name:    "App",
		Version: "0.02",
		Storage: []catalog.StorageFile{{Name: "a.img"}},
		Data:    []catalog.DataFile{{Name: "a.json"}},
	}
	require.NoError(t, h.installer.Update(ctx, next))

	require.Len(t, h.transport.removed, 1)
	assert.Equal(t, "a.js", h.transport.removed[0].Files)
	assert.Equal(t, "a.old", h.transport.removed[0].Data)
	assert.Equal(t, []string{"a.img", "a.json", "app.info"}, h.transport.Files())

	rec, ok := h.installer.Installed().Get().Find("app")
	require.True(t, ok)
	assert.Equal(t, "0.02", rec.Version)
}

func TestUpdate_NotInstalled(t *testing.T) {
	h := newHarness()

	err := h.installer.Update(context.Background(), newApp("ghost", "app"))

	require.ErrorIs(t, err, ErrNotInstalled)
	assert.Zero(t, h.log.count("remove"))
	assert.Len(t, h.toaster.errors(), 1)
}

func TestUpdate_RemoveFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.transport.seed(newApp("clock", "clock"))
	h.transport.failRemove = true

	err := h.installer.Update(ctx, newApp("clock", "clock"))

	require.ErrorIs(t, err, ErrTransfer)
	assert.Zero(t, h.log.count("upload"))
	assert.True(t, h.installer.Installed().Get().Has("clock"), "failed removal keeps the record")
	assert.Len(t, h.toaster.errors(), 1)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.transport.seed(newApp("clock", "clock"), newApp("launch", "launch"))
	require.NoError(t, h.installer.Connect(ctx))

	require.NoError(t, h.installer.Remove(ctx, "clock"))

	assert.Equal(t, []string{"launch"}, installedIDs(h.installer.Installed().Get()))
	assert.Equal(t, "App clock removed successfully", h.toaster.toasts[len(h.toaster.toasts)-1].Message)
	assert.NotContains(t, h.transport.Files(), "clock.app.js")

	err := h.installer.Remove(ctx, "clock")
	require.ErrorIs(t, err, ErrNotInstalled)
	assert.Len(t, h.toaster.errors(), 1)
}

func TestRemoveAll_ReloadsInstalledList(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.transport.seed(newApp("clock", "clock"), newApp("launch", "launch"))
	require.NoError(t, h.installer.Connect(ctx))

	require.NoError(t, h.installer.RemoveAll(ctx))

	assert.Equal(t, 2, h.log.count("list"))
	installed := h.installer.Installed().Get()
	require.NotNil(t, installed, "still connected")
	assert.Equal(t, 0, installed.Len())
	assert.Equal(t, "All apps removed", h.toaster.toasts[len(h.toaster.toasts)-1].Message)
}

func TestInstallMultipleApps_ProgressLabels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newApp("a", "app"), newApp("b", "app"), newApp("c", "app"))

	require.NoError(t, h.installer.InstallMultipleApps(ctx, []string{"a", "b", "c"}))

	assert.Equal(t, []string{
		"progress.show App a (1/3)",
		"upload a",
		"progress.hide",
		"progress.show App b (2/3)",
		"upload b",
		"progress.hide",
		"progress.show App c (3/3)",
		"upload c",
		"progress.hide",
	}, transfers(h.log))

	for _, opts := range h.transport.uploadOpts {
		assert.True(t, opts.SkipReset)
	}
	assert.Equal(t, 2, h.log.count("list"), "batch reloads the installed list")
	assert.Equal(t, []string{"a", "b", "c"}, installedIDs(h.installer.Installed().Get()))
	assert.Equal(t, PhaseBatchSuccess, h.installer.Status().Get().Phase)
}

func TestInstallMultipleApps_AbortsOnFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newApp("a", "app"), newApp("b", "app"), newApp("c", "app"))
	h.transport.failUpload["b"] = true

	err := h.installer.InstallMultipleApps(ctx, []string{"a", "b", "c"})

	require.ErrorIs(t, err, ErrTransfer)
	assert.Equal(t, []string{"a"}, installedIDs(h.installer.Installed().Get()))
	assert.Zero(t, h.log.count("upload c"), "c is never attempted")
	assert.Len(t, h.toaster.errors(), 1)
	assert.Equal(t, 1, h.log.count("list"), "no reload after abort")

	status := h.installer.Status().Get()
	assert.Equal(t, PhaseBatchAborted, status.Phase)
	assert.Equal(t, 2, status.Index)
	assert.Equal(t, 3, status.Total)
}

func TestInstallMultipleApps_UnknownApp(t *testing.T) {
	h := newHarness(newApp("a", "app"))

	err := h.installer.InstallMultipleApps(context.Background(), []string{"a", "nope"})

	require.ErrorIs(t, err, ErrCatalogResolution)
	assert.Contains(t, err.Error(), "nope")
	assert.Empty(t, h.log.count("upload"))
	assert.Len(t, h.toaster.errors(), 1)
}

func TestInstallMultipleApps_SharedDependencyInstalledOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(
		newApp("notes", "app", typeDep("textinput")),
		newApp("todo", "app", typeDep("textinput")),
		newApp("swipe", "textinput"),
	)

	require.NoError(t, h.installer.InstallMultipleApps(ctx, []string{"notes", "todo"}))

	assert.Equal(t, 1, h.log.count("upload swipe"))
	assert.Equal(t, []string{"swipe", "notes", "todo"}, installedIDs(h.installer.Installed().Get()))
}

func TestResetToDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newApp("boot", "bootloader"), newApp("launch", "launch"), newApp("clock", "clock"))
	h.library.defaults = []string{"boot", "launch"}
	h.transport.seed(newApp("clock", "clock"))

	require.NoError(t, h.installer.ResetToDefaults(ctx))

	var calls []string
	for _, e := range h.log.all() {
		if !strings.HasPrefix(e, "toast") && !strings.HasPrefix(e, "progress") {
			calls = append(calls, e)
		}
	}
	assert.Equal(t, []string{"list", "remove_all", "upload boot", "upload launch", "list", "set_clock"}, calls)
	assert.Equal(t, []string{"boot", "launch"}, installedIDs(h.installer.Installed().Get()))
	assert.False(t, h.transport.ClockSet().IsZero())
	assert.Empty(t, h.toaster.errors())
}

func TestResetToDefaults_DefaultsUnavailable(t *testing.T) {
	h := newHarness()
	h.library.defaultsErr = catalog.ErrNotFound

	err := h.installer.ResetToDefaults(context.Background())

	require.ErrorIs(t, err, ErrDefaultsUnavailable)
	assert.Zero(t, h.transport.removeAlls)
	assert.Len(t, h.toaster.errors(), 1)
}

func TestResetToDefaults_ClockFailure(t *testing.T) {
	h := newHarness(newApp("boot", "bootloader"))
	h.library.defaults = []string{"boot"}
	h.transport.failClock = true

	err := h.installer.ResetToDefaults(context.Background())

	require.ErrorIs(t, err, ErrTransfer)
	assert.True(t, h.installer.Installed().Get().Has("boot"), "installed apps are kept")
	assert.Len(t, h.toaster.errors(), 1)
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	require.NoError(t, h.installer.Connect(ctx))
	require.True(t, h.installer.Connected())

	require.NoError(t, h.installer.Disconnect(ctx))

	assert.False(t, h.installer.Connected())
	assert.Equal(t, 1, h.transport.disconnects)
}

func TestDisconnect_DoesNotWaitForRunningOperation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newApp("clock", "clock"))
	require.NoError(t, h.installer.Connect(ctx))

	h.transport.uploading = make(chan string, 1)
	h.transport.release = make(chan struct{})

	app, _ := h.library.catalog.Get("clock")
	installErr := make(chan error, 1)
	go func() { installErr <- h.installer.Install(ctx, app) }()
	require.Equal(t, "clock", <-h.transport.uploading)

	disconnected := make(chan error, 1)
	go func() { disconnected <- h.installer.Disconnect(ctx) }()

	select {
	case err := <-disconnected:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("disconnect waited for the running install")
	}
	assert.False(t, h.installer.Connected())

	close(h.transport.release)
	require.NoError(t, <-installErr)
	assert.Nil(t, h.installer.Installed().Get(), "late upload record does not reconnect")
}

func TestSetTime(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.installer.SetTime(context.Background()))

	assert.False(t, h.transport.ClockSet().IsZero())
	assert.Equal(t, notify.Toast{Message: "Time set successfully", Severity: notify.SeveritySuccess}, h.toaster.toasts[0])
}

func TestReadStorageFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.transport.WriteFile("log.csv", []byte("1,2"))

	data, err := h.installer.ReadStorageFile(ctx, "log.csv")
	require.NoError(t, err)
	assert.Equal(t, "1,2", string(data))

	_, err = h.installer.ReadStorageFile(ctx, "missing")
	require.ErrorIs(t, err, ErrTransfer)
}

func TestOperationsAreObserved(t *testing.T) {
	ctx := context.Background()
	target := newApp("clock", "clock")
	h := newHarness(target)

	require.NoError(t, h.installer.Install(ctx, target))
	require.Error(t, h.installer.Remove(ctx, "ghost"))

	assert.Equal(t, []string{"install", "remove"}, h.observer.ops)
	assert.NoError(t, h.observer.errs[0])
	assert.ErrorIs(t, h.observer.errs[1], ErrNotInstalled)
}

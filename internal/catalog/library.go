package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gdorsi/BangleApps/internal/atom"
	"github.com/gdorsi/BangleApps/internal/notify"
)

// ErrNotLoaded is returned while the catalog has not been fetched yet
var ErrNotLoaded = errors.New("catalog not loaded")

// Library owns the fetch-backed catalog and sort-info cells.
// Both cells fetch as soon as they are created.
type Library struct {
	loader   *Loader
	apps     *atom.Data[struct{}, *Catalog]
	sortInfo *atom.Data[struct{}, map[string]SortInfo]
	logger   *slog.Logger
}

// NewLibrary creates the library cells. Fetch failures are reported through
// toaster; a missing sort-info file only disables date sorting.
func NewLibrary(ctx context.Context, loader *Loader, toaster notify.Toaster, logger *slog.Logger, opts ...atom.Option) *Library {
	l := &Library{
		loader: loader,
		logger: logger,
	}

	l.apps = atom.NewData(
		func(ctx context.Context, _ struct{}) (*Catalog, error) {
			return loader.LoadCatalog(ctx)
		},
		func(d *atom.Data[struct{}, *Catalog], s atom.State[*Catalog]) func() {
			switch {
			case s.Init():
				d.Refetch(ctx, struct{}{})
			case s.Status == atom.Failed:
				logger.Error("failed to load catalog", "error", s.Err)
				toaster.Show(fmt.Sprintf("%v on %s", s.Err, AppsFile), notify.SeverityError)
			case s.Status == atom.Loaded:
				logger.Info("catalog loaded", "apps", s.Data.Len())
			}
			return nil
		},
		opts...,
	)

	l.sortInfo = atom.NewData(
		func(ctx context.Context, _ struct{}) (map[string]SortInfo, error) {
			return loader.LoadSortInfo(ctx)
		},
		func(d *atom.Data[struct{}, map[string]SortInfo], s atom.State[map[string]SortInfo]) func() {
			switch {
			case s.Init():
				d.Refetch(ctx, struct{}{})
			case s.Status == atom.Failed:
				logger.Warn("sort info unavailable", "error", s.Err)
				toaster.Show("No recent.csv - app sort disabled", notify.SeverityInfo)
			}
			return nil
		},
		opts...,
	)

	return l
}

// Apps exposes the catalog cell
func (l *Library) Apps() *atom.Data[struct{}, *Catalog] {
	return l.apps
}

// Current returns the last successfully loaded catalog
func (l *Library) Current() (*Catalog, error) {
	s := l.apps.Get()
	if s.HasData {
		return s.Data, nil
	}
	if s.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotLoaded, s.Err)
	}
	return nil, ErrNotLoaded
}

// Refresh refetches the catalog
func (l *Library) Refresh(ctx context.Context) <-chan struct{} {
	return l.apps.Refetch(ctx, struct{}{})
}

// Ready blocks until the catalog has loaded or failed
func (l *Library) Ready(ctx context.Context) (*Catalog, error) {
	settled := make(chan struct{}, 1)
	unsubscribe := l.apps.Subscribe(func(s atom.State[*Catalog]) {
		if s.Status == atom.Loaded || s.Status == atom.Failed {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := l.apps.Get(); s.Status != atom.Loaded && s.Status != atom.Failed {
		select {
		case <-settled:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.Current()
}

// SortInfo returns the app dates, or nil when sorting by date is unavailable
func (l *Library) SortInfo() map[string]SortInfo {
	s := l.sortInfo.Get()
	if !s.HasData {
		return nil
	}
	return s.Data
}

// Reload refetches the catalog and the sort info and waits for both
func (l *Library) Reload(ctx context.Context) {
	apps := l.apps.Refetch(ctx, struct{}{})
	sortInfo := l.sortInfo.Refetch(ctx, struct{}{})
	for _, done := range []<-chan struct{}{apps, sortInfo} {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// LoadDefaults reads the default app list
func (l *Library) LoadDefaults(ctx context.Context) ([]string, error) {
	return l.loader.LoadDefaults(ctx)
}

// Close disposes the cells' effects
func (l *Library) Close() {
	l.apps.Close()
	l.sortInfo.Close()
}

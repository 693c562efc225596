package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
	"github.com/gdorsi/BangleApps/internal/orchestrator"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// Streams stay open, so they are outside the request timeout
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)

		// Device operations run until the device answers, however long a
		// batch takes, so they are outside the request timeout too
		r.Post("/device/connect", s.handleConnect)
		r.Post("/device/disconnect", s.handleDisconnect)
		r.Post("/device/time", s.handleSetTime)

		r.Route("/apps", func(r chi.Router) {
			r.Post("/install-multiple", s.handleInstallMultiple)
			r.Post("/remove-all", s.handleRemoveAll)
			r.Post("/reset-defaults", s.handleResetDefaults)
			r.Post("/{id}/install", s.handleInstall)
			r.Post("/{id}/update", s.handleUpdate)
			r.Post("/{id}/remove", s.handleRemove)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)

			r.Route("/catalog", func(r chi.Router) {
				r.Get("/", s.handleListCatalog)
				r.Get("/tags", s.handleListTags)
				r.Post("/reload", s.handleReloadCatalog)
				r.Get("/{id}", s.handleGetCatalogApp)
				r.Get("/{id}/readme", s.handleReadme)
			})

			r.Get("/device", s.handleDeviceStatus)
			r.Get("/device/storage/{name}", s.handleReadStorage)

			r.Get("/installed", s.handleListInstalled)

			r.Route("/settings", func(r chi.Router) {
				r.Get("/pretokenise", s.handleGetPretokenise)
				r.Put("/pretokenise", s.handleSetPretokenise)
			})
		})
	})

	if s.recorder != nil {
		s.router.Handle("/metrics", s.recorder.Handler())
	}
}

// operationContext detaches a device operation from its request. Once
// started, an operation finishes even if the client goes away, so the
// installed cell never misses a write the device already made.
func operationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// installedApp is a device record annotated with catalog knowledge
type installedApp struct {
	device.InstalledApp
	CanUpdate bool `json:"canUpdate"`
}

type installedView struct {
	Connected bool           `json:"connected"`
	Apps      []installedApp `json:"apps"`
}

func (s *Server) installedView(inst *orchestrator.Installed) installedView {
	view := installedView{Connected: inst != nil, Apps: []installedApp{}}
	if inst == nil {
		return view
	}

	cat, _ := s.catalog.Current()
	for _, rec := range inst.Apps {
		entry := installedApp{InstalledApp: rec}
		if cat != nil {
			if app, ok := cat.Get(rec.ID); ok {
				entry.CanUpdate = catalog.CanUpdate(app, rec.Version, true)
			}
		}
		view.Apps = append(view.Apps, entry)
	}
	return view
}

// handleHealth returns the health status of the service
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": s.installer.Connected(),
	})
}

// handleListCatalog returns the visible catalog apps, filtered by tag and
// search and ordered by the sort query parameter
func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.catalog.Current()
	if err != nil {
		respondFailure(w, err)
		return
	}

	q := r.URL.Query()
	apps, err := cat.Visible(catalog.Filter{
		Tag:    q.Get("tag"),
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
	}, s.catalog.SortInfo())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if apps == nil {
		apps = []*catalog.App{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"apps": apps,
	})
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	cat, err := s.catalog.Current()
	if err != nil {
		respondFailure(w, err)
		return
	}

	tags := cat.Tags()
	if tags == nil {
		tags = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tags": tags,
	})
}

// handleReloadCatalog refetches apps.json and the sort info
func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	s.catalog.Reload(operationContext(r))

	cat, err := s.catalog.Current()
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "catalog reloaded",
		"apps":   cat.Len(),
	})
}

func (s *Server) handleGetCatalogApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookup(chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

// handleReadme renders the app's readme as sanitized HTML
func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
	html, err := s.catalog.Readme(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(html)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"connected": s.installer.Connected(),
		"status":    s.installer.Status().Get(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.respondOperation(w, s.installer.Connect(operationContext(r)))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.respondOperation(w, s.installer.Disconnect(operationContext(r)))
}

func (s *Server) handleSetTime(w http.ResponseWriter, r *http.Request) {
	s.respondOperation(w, s.installer.SetTime(operationContext(r)))
}

// handleReadStorage streams a raw device file, typed by its content
func (s *Server) handleReadStorage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data, err := s.installer.ReadStorageFile(r.Context(), name)
	if err != nil {
		s.logger.Error("failed to read storage file", "file", name, "error", err)
		respondFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleListInstalled returns the device's apps with update flags.
// Uses the same view as the event stream.
func (s *Server) handleListInstalled(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.installedView(s.installer.Installed().Get()))
}

// handleInstall uploads a catalog app. A body carrying an "app" descriptor
// installs that instead, which is how customised apps arrive.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		App *catalog.App `json:"app"`
	}
	if r.Body != nil && r.Body != http.NoBody {
		// An empty body, sized or chunked, installs the catalog version
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	app := req.App
	if app == nil {
		var err error
		if app, err = s.lookup(id); err != nil {
			respondFailure(w, err)
			return
		}
	} else if app.ID != id {
		respondError(w, http.StatusBadRequest, "app id does not match the URL")
		return
	}

	s.respondOperation(w, s.installer.Install(operationContext(r), app))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookup(chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	s.respondOperation(w, s.installer.Update(operationContext(r), app))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.respondOperation(w, s.installer.Remove(operationContext(r), chi.URLParam(r, "id")))
}

func (s *Server) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	s.respondOperation(w, s.installer.RemoveAll(operationContext(r)))
}

func (s *Server) handleInstallMultiple(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids is required")
		return
	}

	s.respondOperation(w, s.installer.InstallMultipleApps(operationContext(r), req.IDs))
}

func (s *Server) handleResetDefaults(w http.ResponseWriter, r *http.Request) {
	s.respondOperation(w, s.installer.ResetToDefaults(operationContext(r)))
}

func (s *Server) handleGetPretokenise(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{
		"pretokenise": s.installer.Pretokenise().Get(),
	})
}

func (s *Server) handleSetPretokenise(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pretokenise *bool `json:"pretokenise"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pretokenise == nil {
		respondError(w, http.StatusBadRequest, "pretokenise must be a boolean")
		return
	}

	s.installer.Pretokenise().Set(*req.Pretokenise)
	respondJSON(w, http.StatusOK, map[string]bool{
		"pretokenise": *req.Pretokenise,
	})
}

// lookup finds a catalog app by id
func (s *Server) lookup(id string) (*catalog.App, error) {
	cat, err := s.catalog.Current()
	if err != nil {
		return nil, err
	}
	app, ok := cat.Get(id)
	if !ok {
		return nil, &lookupError{id: id}
	}
	return app, nil
}

type lookupError struct {
	id string
}

func (e *lookupError) Error() string { return "app " + e.id + " not in catalog" }

func (e *lookupError) Is(target error) bool { return target == catalog.ErrNotFound }

// respondOperation answers with the status the operation finished in
func (s *Server) respondOperation(w http.ResponseWriter, err error) {
	status := s.installer.Status().Get()
	if err != nil {
		respondJSON(w, statusCode(err), map[string]any{
			"error":  err.Error(),
			"status": status,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": status,
	})
}

// statusCode maps operation errors onto HTTP statuses
func statusCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrDefaultsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, device.ErrFileNotFound),
		errors.Is(err, orchestrator.ErrNotInstalled):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrCatalogResolution),
		errors.Is(err, orchestrator.ErrUnsatisfiedDependency),
		errors.Is(err, orchestrator.ErrUnsupportedDependencyKind):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrConnection),
		errors.Is(err, orchestrator.ErrTransfer):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondFailure(w http.ResponseWriter, err error) {
	respondError(w, statusCode(err), err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/metrics"
	"github.com/gdorsi/BangleApps/internal/notify"
	"github.com/gdorsi/BangleApps/internal/orchestrator"
)

// Installer is the device side of the API
type Installer interface {
	Installed() *orchestrator.InstalledCell
	Status() *orchestrator.StatusCell
	Pretokenise() *orchestrator.PretokeniseCell
	Connected() bool

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetTime(ctx context.Context) error
	ReadStorageFile(ctx context.Context, name string) ([]byte, error)
	Install(ctx context.Context, app *catalog.App) error
	Update(ctx context.Context, app *catalog.App) error
	Remove(ctx context.Context, id string) error
	RemoveAll(ctx context.Context) error
	InstallMultipleApps(ctx context.Context, ids []string) error
	ResetToDefaults(ctx context.Context) error
}

// Catalog is the app library side of the API
type Catalog interface {
	Current() (*catalog.Catalog, error)
	SortInfo() map[string]catalog.SortInfo
	Readme(ctx context.Context, id string) ([]byte, error)
	Reload(ctx context.Context)
}

// Config holds the server's collaborators
type Config struct {
	Installer      Installer
	Catalog        Catalog
	Toasts         *notify.ToastCell
	Progress       *notify.ProgressCell
	Recorder       *metrics.Recorder
	AllowedOrigins []string
	Port           int
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	installer      Installer
	catalog        Catalog
	toasts         *notify.ToastCell
	progress       *notify.ProgressCell
	recorder       *metrics.Recorder
	hub            *EventHub
	allowedOrigins []string
	port           int
	httpServer     *http.Server
	unwatch        []func()
	logger         *slog.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(cfg Config, logger *slog.Logger) *Server {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		router:         chi.NewRouter(),
		installer:      cfg.Installer,
		catalog:        cfg.Catalog,
		toasts:         cfg.Toasts,
		progress:       cfg.Progress,
		recorder:       cfg.Recorder,
		hub:            NewEventHub(cfg.Recorder),
		allowedOrigins: origins,
		port:           cfg.Port,
		logger:         logger,
	}

	s.watchCells()
	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// watchCells forwards every cell change to the event hub
func (s *Server) watchCells() {
	s.unwatch = append(s.unwatch,
		s.installer.Installed().Subscribe(func(inst *orchestrator.Installed) {
			s.hub.Broadcast(Event{Type: EventInstalled, Data: s.installedView(inst)})
		}),
		s.installer.Status().Subscribe(func(st *orchestrator.Status) {
			s.hub.Broadcast(Event{Type: EventStatus, Data: st})
		}),
	)
	if s.toasts != nil {
		s.unwatch = append(s.unwatch, s.toasts.Cell().Subscribe(func(t *notify.Toast) {
			if t != nil {
				s.hub.Broadcast(Event{Type: EventToast, Data: t})
			}
		}))
	}
	if s.progress != nil {
		s.unwatch = append(s.unwatch, s.progress.Cell().Subscribe(func(p *notify.ProgressState) {
			s.hub.Broadcast(Event{Type: EventProgress, Data: p})
		}))
	}
}

// snapshot is the current state sent to a stream client when it connects
func (s *Server) snapshot() []Event {
	events := []Event{
		{Type: EventInstalled, Data: s.installedView(s.installer.Installed().Get())},
		{Type: EventStatus, Data: s.installer.Status().Get()},
	}
	if s.progress != nil {
		events = append(events, Event{Type: EventProgress, Data: s.progress.Cell().Get()})
	}
	return events
}

func (s *Server) setupMiddleware() {
	// Request logging
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS configuration
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting HTTP server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	for _, unsubscribe := range s.unwatch {
		unsubscribe()
	}
	s.unwatch = nil

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/backup"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/configedit"
	"github.com/herdctl/herd/pkg/diagnose"
	"github.com/herdctl/herd/pkg/lifecycle"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/metrics"
	"github.com/herdctl/herd/pkg/repair"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second

	// maxBodyBytes bounds request bodies; no endpoint takes more than
	// a small JSON document.
	maxBodyBytes = 1 << 20
)

// Server is the HTTP API consumed by the dashboard.
type Server struct {
	cfg        *config.Config
	controller *lifecycle.Controller
	diagnostic *diagnose.Engine
	history    *diagnose.History
	repairs    *repair.Engine
	backups    *backup.Manager
	editor     *configedit.Editor
	version    string
	startedAt  time.Time
	logger     zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the API server. history may be nil.
func NewServer(cfg *config.Config, controller *lifecycle.Controller, diag *diagnose.Engine,
	history *diagnose.History, repairs *repair.Engine, backups *backup.Manager,
	editor *configedit.Editor, version string) *Server {
	s := &Server{
		cfg:        cfg,
		controller: controller,
		diagnostic: diag,
		history:    history,
		repairs:    repairs,
		backups:    backups,
		editor:     editor,
		version:    version,
		startedAt:  time.Now(),
		logger:     log.WithComponent("api"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// routes builds the router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/orphans", s.handleOrphans)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Post("/", s.handleCreateInstance)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetInstance)
			r.Delete("/", s.handleDeleteInstance)
			r.Post("/start", s.handleStartInstance)
			r.Post("/stop", s.handleStopInstance)
			r.Get("/logs", s.handleLogs)

			r.Get("/run-diagnostics", s.handleRunDiagnostics)
			r.Get("/last-diagnostic", s.handleLastDiagnostic)
			r.Get("/diagnostic-history", s.handleDiagnosticHistory)
			r.Post("/auto-repair", s.handleAutoRepair)

			r.Post("/backup", s.handleCreateBackup)
			r.Get("/backups", s.handleListBackups)
			r.Post("/restore/{backupId}", s.handleRestore)

			r.Route("/config", func(r chi.Router) {
				r.Get("/editable-fields", s.handleEditableFields)
				r.Put("/bulk", s.handleBulkEdit)
				r.Get("/{field}", s.handleGetConfigField)
				r.Put("/{field}", s.handlePutConfigField)
			})
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

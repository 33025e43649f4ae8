package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/events"
	"github.com/kozaktomas/attendance-scanner/internal/logger"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
	"github.com/kozaktomas/attendance-scanner/internal/web/handlers"
	"github.com/kozaktomas/attendance-scanner/internal/web/middleware"
)

// Dependencies are the collaborators the API is served from.
type Dependencies struct {
	Manager          *scan.Manager
	Hub              *events.Hub
	Enrollments      database.EnrollmentReader
	EnrollmentWriter database.EnrollmentWriter // nil for read-only legacy enrollments
	Attendance       database.AttendanceWriter // nil when attendance is recorded remotely
	Describer        handlers.Describer        // nil without an embedding service
	Sources          handlers.FrameSourceFactory
	Logger           *logger.Logger
}

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	deps       Dependencies
	auth       *middleware.Authenticator
	log        *logger.Logger
	drainOnce  sync.Once
	drained    chan struct{}
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, port int, host string, deps Dependencies) *Server {
	r := chi.NewRouter()

	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub()
	}
	if deps.Sources == nil {
		deps.Sources = handlers.NewFrameSourceFactory(cfg)
	}

	s := &Server{
		config:  cfg,
		router:  r,
		deps:    deps,
		auth:    middleware.NewAuthenticator(cfg.Web.JWTSecret),
		log:     deps.Logger,
		drained: make(chan struct{}),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for SSE and uploads
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(s.drain)

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", "addr", s.httpServer.Addr, "auth", s.auth.Enabled())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, stops every scan session and waits for open
// event streams and in-flight record calls to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")

	err := s.httpServer.Shutdown(ctx)
	select {
	case <-s.drained:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// drain runs once the listener is closed. Closing the listeners ends the SSE
// handlers, which would otherwise hold http.Server.Shutdown until its deadline.
func (s *Server) drain() {
	s.drainOnce.Do(func() {
		defer close(s.drained)
		if s.deps.Manager != nil {
			s.deps.Manager.Shutdown()
		}
		s.deps.Hub.CloseListeners()
	})
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

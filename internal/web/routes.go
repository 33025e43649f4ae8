package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/metrics"
	"github.com/kozaktomas/attendance-scanner/internal/web/handlers"
	"github.com/kozaktomas/attendance-scanner/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	threshold := s.config.Scan.Threshold

	sessionsHandler := handlers.NewSessionsHandler(s.deps.Manager, s.deps.Sources, s.log)
	feedHandler := handlers.NewFeedHandler(s.deps.Hub)
	matchHandler := handlers.NewMatchHandler(database.NewReferenceStore(s.deps.Enrollments), s.deps.Describer, threshold)
	enrollmentsHandler := handlers.NewEnrollmentsHandler(s.deps.Enrollments, s.deps.EnrollmentWriter, s.deps.Describer,
		s.config.Enrollment.CollisionThreshold, s.log)
	calibrationHandler := handlers.NewCalibrationHandler(s.deps.Enrollments, threshold)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Attendance, s.config.Scan.Location())

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.auth))

			// Scan sessions
			r.Post("/sessions", sessionsHandler.Create)
			r.Get("/sessions", sessionsHandler.List)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Delete("/sessions/{id}", sessionsHandler.Stop)
			r.Post("/sessions/{id}/stop", sessionsHandler.Stop)
			r.Post("/sessions/{id}/start", sessionsHandler.Restart)
			r.Post("/sessions/{id}/reset", sessionsHandler.Reset)
			r.Post("/sessions/{id}/frames", sessionsHandler.PushFrame)
			r.Get("/sessions/{id}/events", sessionsHandler.Events)

			// Attendance feed across sessions
			r.Get("/events", feedHandler.Events)
			r.Get("/attendance", attendanceHandler.List)

			// One-shot matching
			r.Post("/match", matchHandler.Match)
			r.Post("/match/photo", matchHandler.MatchPhoto)

			// Enrollments
			r.Get("/sections", enrollmentsHandler.Sections)
			r.Get("/sections/{section}/enrollments", enrollmentsHandler.ListBySection)
			r.Delete("/sections/{section}/enrollments/{identityId}", enrollmentsHandler.DeleteIdentity)
			r.Post("/enrollments", enrollmentsHandler.Create)
			r.Post("/enrollments/photo", enrollmentsHandler.CreateFromPhoto)

			// Threshold calibration
			r.Get("/calibration", calibrationHandler.Report)
		})
	})
}

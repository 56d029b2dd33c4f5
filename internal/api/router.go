package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/farmra-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.authMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Public routes (see publicRoutes)
		r.Get("/health", s.handleHealth)
		r.With(s.rateLimitMiddleware).Post("/signup", s.handleSignup)
		r.With(s.rateLimitMiddleware).Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/ws", s.handleWebSocket)

		// Any authenticated principal
		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.AllRoles...))

			r.Get("/me", s.handleMe)
			r.Post("/ws-ticket", s.handleWSTicket)
		})

		r.Route("/devices", s.deviceRoutes)
		r.Route("/sensors", s.deviceRoutes)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(auth.RolesWith(auth.PermUserManage)...))

			r.Get("/users", s.handleListUsers)
			r.Get("/users/{id}", s.handleGetUser)
			r.Post("/users", s.handleCreateUser)
			r.Get("/metrics", s.handleMetrics)
		})

		r.With(requireRole(auth.RolesWith(auth.PermAuditRead)...)).Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// deviceRoutes mounts the device endpoints. They are served under both
// /api/devices and /api/sensors.
func (s *Server) deviceRoutes(r chi.Router) {
	readAny := requireRole(auth.RolesWith(auth.PermDeviceRead)...)
	readAll := requireRole(auth.RolesWith(auth.PermDeviceReadAll)...)
	write := requireRole(auth.RolesWith(auth.PermDeviceWrite)...)
	lifecycle := requireRole(auth.RolesWith(auth.PermDeviceLifecycle)...)
	assign := requireRole(auth.RolesWith(auth.PermDeviceAssign)...)
	remove := requireRole(auth.RolesWith(auth.PermDeviceDelete)...)
	ingest := requireRole(auth.RolesWith(auth.PermTelemetryIngest)...)

	r.With(readAny).Get("/", s.handleListDevices)
	r.With(write).Post("/", s.handleCreateDevice)

	r.With(readAll).Get("/status/{status}", s.handleListDevicesByStatus)
	r.With(readAll).Get("/customer/{customerId}", s.handleListDevicesByCustomer)
	r.With(readAll).Get("/technician/{technicianId}", s.handleListDevicesByTechnician)

	r.Route("/{id}", func(r chi.Router) {
		r.With(readAny).Get("/", s.handleGetDevice)
		r.With(write).Put("/", s.handleUpdateDevice)
		r.With(remove).Delete("/", s.handleDeleteDevice)

		r.With(assign).Put("/assign", s.handleAssignDevice)
		r.With(assign).Delete("/customer", s.handleClearCustomer)
		r.With(assign).Delete("/technician", s.handleClearTechnician)

		r.With(lifecycle).Put("/deactivate", s.handleDeactivateDevice)
		r.With(lifecycle).Put("/activate", s.handleActivateDevice)

		r.With(ingest).Post("/readings", s.handleIngestReading)
	})
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

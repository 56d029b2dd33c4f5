package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/farmra-core/internal/audit"
	"github.com/nerrad567/farmra-core/internal/auth"
	"github.com/nerrad567/farmra-core/internal/device"
	"github.com/nerrad567/farmra-core/internal/infrastructure/config"
	"github.com/nerrad567/farmra-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/farmra-core/internal/infrastructure/logging"
	"github.com/nerrad567/farmra-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/farmra-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Auth     *auth.Service
	Devices  *device.Manager
	Ingestor *telemetry.Ingestor // defaults to an ingestor without history
	Audit    *audit.Recorder     // optional
	AuditLog audit.Repository    // optional: serves GET /api/audit
	MQTT     *mqtt.Client        // optional: reported by /api/metrics
	History  *influxdb.Client    // optional: reported by /api/metrics
	DB       *sql.DB             // optional: reported by /api/metrics
	Version  string
	Clock    func() time.Time // defaults to time.Now
}

// Server is the HTTP API server for FarmRa Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	auth     *auth.Service
	devices  *device.Manager
	ingestor *telemetry.Ingestor
	audit    *audit.Recorder
	auditLog audit.Repository
	mqtt     *mqtt.Client
	history  *influxdb.Client
	db       *sql.DB
	version  string
	now      func() time.Time

	hub       *Hub
	tickets   *ticketStore
	limiter   *clientLimiter
	startTime time.Time
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and registered as a device observer,
// so changes are broadcast as soon as the server starts.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device manager is required")
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	ingestor := deps.Ingestor
	if ingestor == nil {
		ingestor = telemetry.NewIngestor(deps.Devices, telemetry.WithLogger(deps.Logger))
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		auth:      deps.Auth,
		devices:   deps.Devices,
		ingestor:  ingestor,
		audit:     deps.Audit,
		auditLog:  deps.AuditLog,
		mqtt:      deps.MQTT,
		history:   deps.History,
		db:        deps.DB,
		version:   deps.Version,
		now:       now,
		tickets:   newTicketStore(now),
		startTime: now(),
	}
	if deps.Security.RateLimit.Enabled {
		s.limiter = newClientLimiter(deps.Security.RateLimit.RequestsPerMinute, deps.Security.RateLimit.Burst, now)
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	deps.Devices.AddObserver(s.hub)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket and limiter cleanup loop,
// then launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanupLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// cleanupInterval is how often expired tickets and idle limiters are purged.
const cleanupInterval = time.Minute

// cleanupLoop purges expired WebSocket tickets and idle rate limiters
// until the context is cancelled.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
			if s.limiter != nil {
				s.limiter.cleanIdle()
			}
		}
	}
}

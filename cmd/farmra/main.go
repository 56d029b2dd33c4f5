// FarmRa Core - farm sensor telemetry backend
//
// This is the main entry point for the FarmRa Core service. It serves the
// device lifecycle and authentication API, ingests sensor readings over
// MQTT and HTTP, and relays device changes to dashboards and the broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/farmra-core/migrations"

	"github.com/nerrad567/farmra-core/internal/api"
	"github.com/nerrad567/farmra-core/internal/audit"
	"github.com/nerrad567/farmra-core/internal/auth"
	"github.com/nerrad567/farmra-core/internal/device"
	"github.com/nerrad567/farmra-core/internal/infrastructure/config"
	"github.com/nerrad567/farmra-core/internal/infrastructure/database"
	"github.com/nerrad567/farmra-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/farmra-core/internal/infrastructure/logging"
	"github.com/nerrad567/farmra-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/farmra-core/internal/infrastructure/redis"
	"github.com/nerrad567/farmra-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// defaultEnvFile is loaded before the configuration when present.
	defaultEnvFile = ".env"

	// sessionSweepInterval is how often expired SQLite sessions are purged.
	sessionSweepInterval = 10 * time.Minute
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: one step per component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting FarmRa Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(getEnvFile()); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Credentials
	credentials := auth.NewSQLiteCredentialStore(db.DB)
	if cfg.Security.Seed.Email != "" {
		seedRole, ok := auth.ParseRole(cfg.Security.Seed.Role)
		if !ok {
			seedRole = auth.RoleAdmin
		}
		if _, seedErr := auth.SeedPrincipal(ctx, credentials, cfg.Security.Seed.Email, seedRole, log); seedErr != nil {
			return fmt.Errorf("seeding principal: %w", seedErr)
		}
	}

	sessions, closeSessions, err := openSessionStore(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	codec, err := auth.NewTokenCodec(cfg.Security.JWT.Secret, cfg.AccessTokenTTL(), cfg.ClockSkew())
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}
	authService, err := auth.NewService(credentials, codec, sessions, auth.ServiceConfig{
		Mode:       cfg.Security.Session.Mode,
		SessionTTL: cfg.SessionTTL(),
		Policy:     passwordPolicy(cfg.Security.Password),
	}, auth.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	log.Info("auth service initialised", "mode", authService.Mode())

	// Initialise device registry and lifecycle manager
	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	devices := device.NewManager(deviceRegistry, credentials, device.WithManagerLogger(log))

	// Audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewRecorder(auditRepo, log)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	go auditRecorder.Run(auditCtx)
	defer func() {
		stopAudit()
		<-auditRecorder.Done()
		log.Info("audit trail flushed")
	}()

	// Connect to InfluxDB (optional)
	ingestOpts := []telemetry.Option{telemetry.WithLogger(log)}
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		ingestOpts = append(ingestOpts, telemetry.WithHistory(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	ingestor := telemetry.NewIngestor(devices, ingestOpts...)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var events *telemetry.EventPublisher
		mqttClient, events, err = startMQTT(cfg, devices, ingestor, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		eventsCtx, stopEvents := context.WithCancel(context.Background())
		go events.Run(eventsCtx)
		defer func() {
			stopEvents()
			<-events.Done()
			log.Info("device events flushed")
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Auth:     authService,
		Devices:  devices,
		Ingestor: ingestor,
		Audit:    auditRecorder,
		AuditLog: auditRepo,
		MQTT:     mqttClient,
		History:  influxClient,
		DB:       db.DB,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred functions run in reverse order: API server, MQTT, InfluxDB,
	// audit trail, sessions, database.
	log.Info("FarmRa Core stopped")
	return nil
}

// getConfigPath returns the configuration file path from FARMRA_CONFIG,
// falling back to defaultConfigPath.
func getConfigPath() string {
	if path := os.Getenv("FARMRA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvFile returns the .env path from FARMRA_ENV_FILE, falling back to
// defaultEnvFile.
func getEnvFile() string {
	if path := os.Getenv("FARMRA_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvFile
}

// loadEnvFile exports the variables in path. Variables already set in the
// environment win. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// passwordPolicy converts the configured signup password policy.
func passwordPolicy(cfg config.PasswordConfig) auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:     cfg.MinLength,
		RequireUpper:  cfg.RequireUpper,
		RequireDigit:  cfg.RequireDigit,
		RequireSymbol: cfg.RequireSymbol,
		Symbols:       cfg.Symbols,
	}
}

// openSessionStore returns the session store for session mode, or nil in
// token mode. The returned func releases the store.
func openSessionStore(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (auth.SessionStore, func(), error) {
	if cfg.Security.Session.Mode != config.SessionModeSession {
		return nil, func() {}, nil
	}

	switch cfg.Security.Session.Store {
	case config.SessionStoreRedis:
		client, err := redis.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("session store: redis")
		return auth.NewRedisSessionStore(client), closeRedis(client, log), nil
	default:
		store := auth.NewSQLiteSessionStore(db.DB)
		sweepCtx, stop := context.WithCancel(context.Background())
		go sweepSessions(sweepCtx, store, log)
		log.Info("session store: sqlite")
		return store, stop, nil
	}
}

func closeRedis(client *goredis.Client, log *logging.Logger) func() {
	return func() {
		log.Info("closing Redis connection")
		if err := client.Close(); err != nil {
			log.Error("error closing Redis", "error", err)
		}
	}
}

// sweepSessions purges expired SQLite sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, store *auth.SQLiteSessionStore, log *logging.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx, time.Now())
			if err != nil {
				log.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("expired sessions purged", "count", n)
			}
		}
	}
}

// startMQTT connects to the broker, subscribes to sensor telemetry and
// publishes device changes.
func startMQTT(cfg *config.Config, devices *device.Manager, ingestor *telemetry.Ingestor, log *logging.Logger) (*mqtt.Client, *telemetry.EventPublisher, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	qos := client.QoS()
	events := telemetry.NewEventPublisher(client, qos, log)
	devices.AddObserver(events)

	if cfg.MQTT.Ingest.Enabled {
		if err := ingestor.Subscribe(client, cfg.MQTT.Ingest.TopicPrefix, qos); err != nil {
			client.Close() //nolint:errcheck,gosec // already failing
			return nil, nil, fmt.Errorf("subscribing to telemetry: %w", err)
		}
		log.Info("telemetry ingestion subscribed", "topic", mqtt.Topics{}.AllTelemetry(cfg.MQTT.Ingest.TopicPrefix))
	}

	return client, events, nil
}

// healthCheck verifies every connected component responds.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}

// LayerFlow Core - Layered Workflow Graph Engine
//
// This is the main entry point for the LayerFlow Core service. It hosts the
// editing sessions for layered workflows (STRATEGIC, TACTICAL and EXECUTION
// canvases) and exposes them over HTTP/WebSocket and, optionally, MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/layerflow/layerflow-core/internal/api"
	"github.com/layerflow/layerflow-core/internal/audit"
	"github.com/layerflow/layerflow-core/internal/autosave"
	"github.com/layerflow/layerflow-core/internal/bus"
	"github.com/layerflow/layerflow-core/internal/infrastructure/config"
	"github.com/layerflow/layerflow-core/internal/infrastructure/database"
	"github.com/layerflow/layerflow-core/internal/infrastructure/influxdb"
	"github.com/layerflow/layerflow-core/internal/infrastructure/logging"
	"github.com/layerflow/layerflow-core/internal/infrastructure/mqtt"
	"github.com/layerflow/layerflow-core/internal/layout"
	"github.com/layerflow/layerflow-core/internal/session"
	"github.com/layerflow/layerflow-core/internal/template"
	"github.com/layerflow/layerflow-core/internal/workflow"
	"github.com/layerflow/layerflow-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the final flush of every open session.
const shutdownTimeout = 30 * time.Second

func main() {
	flags := pflag.NewFlagSet("layerflow", pflag.ExitOnError)
	configFlag := flags.StringP("config", "c", "", "path to the configuration file (overrides LAYERFLOW_CONFIG)")
	showVersion := flags.BoolP("version", "v", false, "print version information and exit")
	logLevel := flags.String("log-level", "", "minimum log level, overriding logging.level (debug, info, warn, error)")
	//nolint:errcheck // ExitOnError handles parse failures
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("layerflow %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag), *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown. A non-empty logLevel replaces the
// configured level.
func run(ctx context.Context, configPath, logLevel string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting LayerFlow Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	if logLevel != "" {
		log.SetLevel(logLevel)
	}
	log.Info("logger initialised",
		"level", log.Level().String(),
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := workflow.NewSQLiteRepository(db.DB)

	if cfg.Templates.CatalogFile != "" {
		if seedErr := seedTemplates(ctx, repo, cfg.Templates.CatalogFile, log); seedErr != nil {
			return seedErr
		}
	}

	// Connect to InfluxDB (optional)
	var (
		influxClient *influxdb.Client
		saveMetrics  autosave.MetricsRecorder
		cmdMetrics   bus.CommandMetrics
	)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		saveMetrics, cmdMetrics = influxClient, influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker (optional)
	var (
		mqttClient *mqtt.Client
		bridge     *bus.Bridge
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, err = bus.New(bus.Config{
			Client:  mqttClient,
			Topics:  mqttClient.Topics(),
			QoS:     byte(cfg.MQTT.QoS),
			Metrics: cmdMetrics,
			Logger:  log.Component("bus"),
		})
		if err != nil {
			return fmt.Errorf("creating session bus: %w", err)
		}
	} else {
		log.Info("MQTT disabled, sessions reachable over HTTP only")
	}

	hub := api.NewHub(log.Component("websocket"))
	publishers := autosave.Publishers{hub}
	if bridge != nil {
		publishers = append(publishers, bridge)
	}

	registry := session.NewRegistry(session.Config{
		Repository:   repo,
		Layout:       layout.FromConfig(cfg.Layout),
		HistoryLimit: cfg.History.Limit,
		SaveDelay:    cfg.GetDebounce(),
		SaveTimeout:  cfg.GetSaveTimeout(),
		Publisher:    publishers,
		Metrics:      saveMetrics,
		OnChange: func(st session.State) {
			hub.BroadcastState(st)
			if bridge != nil {
				bridge.PublishState(st)
			}
		},
		Logger: log.Component("session"),
	})

	if bridge != nil {
		if startErr := bridge.Start(ctx, registry); startErr != nil {
			return fmt.Errorf("starting session bus: %w", startErr)
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil && !errors.Is(stopErr, bus.ErrNotStarted) {
				log.Error("error stopping session bus", "error", stopErr)
			}
		}()
	}

	// Sessions are closed before the bus stops so their final save
	// statuses are still published.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("closing editing sessions", "open", registry.Len())
		if closeErr := registry.CloseAll(closeCtx); closeErr != nil {
			log.Error("error closing sessions", "error", closeErr)
		}
	}()

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Repository: repo,
			Sessions:   registry,
			Audit:      audit.NewSQLiteRepository(db.DB),
			Hub:        hub,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, sessions (final
	// saves), session bus, MQTT, InfluxDB, database.
	return nil
}

// getConfigPath picks the configuration file: the --config flag, then
// LAYERFLOW_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("LAYERFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedTemplates loads the action-template catalog and stores the entries the
// database does not have yet.
func seedTemplates(ctx context.Context, repo template.Store, path string, log *logging.Logger) error {
	templates, err := template.LoadCatalog(path)
	if err != nil {
		return fmt.Errorf("loading template catalog: %w", err)
	}
	added, err := template.Seed(ctx, repo, templates, log.Component("templates"))
	if err != nil {
		return fmt.Errorf("seeding template catalog: %w", err)
	}
	log.Info("template catalog loaded",
		"path", path,
		"templates", len(templates),
		"added", added,
	)
	return nil
}

// healthCheck verifies all infrastructure connections are healthy. The
// MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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
	return nil
}

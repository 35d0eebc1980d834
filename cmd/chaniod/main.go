// chaniod - channel-attached device lifecycle daemon
//
// chaniod manages the lifecycle of channel-attached I/O devices behind
// physical subchannels: discovery, recognition, online/offline control,
// disconnection recovery and orphan re-matching. It exposes an admin
// HTTP API with a WebSocket event stream, journals lifecycle events to
// SQLite and mirrors them to MQTT and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/RaduG/chanio-core/migrations"

	"github.com/RaduG/chanio-core/internal/api"
	"github.com/RaduG/chanio-core/internal/cio"
	"github.com/RaduG/chanio-core/internal/hal"
	"github.com/RaduG/chanio-core/internal/infrastructure/config"
	"github.com/RaduG/chanio-core/internal/infrastructure/database"
	"github.com/RaduG/chanio-core/internal/infrastructure/influxdb"
	"github.com/RaduG/chanio-core/internal/infrastructure/logging"
	"github.com/RaduG/chanio-core/internal/infrastructure/mqtt"
	"github.com/RaduG/chanio-core/internal/journal"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupSettleTimeout bounds the wait for initial device recognition.
const startupSettleTimeout = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit // linear wiring sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting chaniod",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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
	db, err := database.Open(database.Config{
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	journalRepo := journal.NewRepository(db.DB)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the channel hardware backend and the core
	sim := hal.New(cfg.HAL)
	sim.SetLogger(log)

	coreCfg, err := coreConfig(cfg)
	if err != nil {
		return fmt.Errorf("core config: %w", err)
	}

	notifiers := &fanoutNotifier{}
	core := cio.New(cio.Deps{
		RawIO:    sim,
		Bus:      sim,
		Notifier: notifiers,
		Config:   coreCfg,
	})
	core.SetLogger(log)

	// Lifecycle fan-outs: journal always, MQTT and InfluxDB when
	// configured. They run on their own context so they can flush after
	// the core has stopped.
	notifCtx, notifCancel := context.WithCancel(context.Background())
	recorder := journal.NewRecorder(journalRepo)
	recorder.SetLogger(log)
	go recorder.Run(notifCtx)
	notifiers.Add(recorder)

	var mqttNotifier *mqtt.Notifier
	if mqttClient != nil {
		mqttNotifier = mqtt.NewNotifier(mqttClient, byte(cfg.MQTT.QoS), core.Availability)
		mqttNotifier.SetLogger(log)
		go mqttNotifier.Run(notifCtx)
		notifiers.Add(mqttNotifier)
	}
	if influxClient != nil {
		notifiers.Add(influxdb.NewNotifier(influxClient))
	}
	defer func() {
		notifCancel()
		recorder.Wait()
		if mqttNotifier != nil {
			mqttNotifier.Wait()
		}
	}()

	core.Start(ctx)
	defer func() {
		log.Info("stopping channel subsystem")
		sim.Shutdown()
		core.Stop()
	}()

	// API server (also feeds the WebSocket stream)
	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Core:     core,
		Journal:  journalRepo,
		MQTT:     mqttClient,
		DB:       db,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	notifiers.Add(api.NewHubNotifier(srv.Hub()))

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Probe the configured device population and wait for recognition
	if err := sim.Attach(core); err != nil {
		return fmt.Errorf("attaching devices: %w", err)
	}
	settleCtx, settleCancel := context.WithTimeout(ctx, startupSettleTimeout)
	defer settleCancel()
	if err := core.WaitInitialized(settleCtx); err != nil {
		return fmt.Errorf("waiting for device recognition: %w", err)
	}
	log.Info("device recognition settled",
		"devices", len(core.Registry().Devices()),
		"subchannels", len(core.Registry().Subchannels()),
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Channel subsystem (bound subchannels quiesced first)
	// 3. Lifecycle fan-outs (flush)
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)
	// 6. Database

	log.Info("chaniod stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CHANIO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CHANIO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// coreConfig maps the configuration file's core section onto the
// engine's tuning knobs.
func coreConfig(cfg *config.Config) (cio.Config, error) {
	blacklist := make([]cio.DeviceID, 0, len(cfg.Core.Blacklist))
	for _, raw := range cfg.Core.Blacklist {
		id, err := cio.ParseDeviceID(raw)
		if err != nil {
			return cio.Config{}, fmt.Errorf("blacklist entry %q: %w", raw, err)
		}
		blacklist = append(blacklist, id)
	}
	return cio.Config{
		RecoveryDelays:     cfg.CoreRecoveryDelays(),
		Workers:            cfg.Core.Workers,
		QueueDepth:         cfg.Core.QueueDepth,
		RecognitionTimeout: time.Duration(cfg.Core.RecognitionTimeout) * time.Second,
		VerifyTimeout:      time.Duration(cfg.Core.VerifyTimeout) * time.Second,
		QuiesceGrace:       time.Duration(cfg.Core.QuiesceGraceMillis) * time.Millisecond,
		Blacklist:          blacklist,
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
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

// fanoutNotifier distributes lifecycle callbacks to every registered
// sink. Add is only safe before the core produces events for the sink
// being added; wiring happens strictly before devices are probed.
type fanoutNotifier struct {
	mu      sync.RWMutex
	targets []cio.Notifier
}

func (n *fanoutNotifier) Add(t cio.Notifier) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, t)
}

func (n *fanoutNotifier) snapshot() []cio.Notifier {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.targets
}

func (n *fanoutNotifier) DeviceRegistered(dev *cio.Device) {
	for _, t := range n.snapshot() {
		t.DeviceRegistered(dev)
	}
}

func (n *fanoutNotifier) DeviceUnregistered(dev *cio.Device) {
	for _, t := range n.snapshot() {
		t.DeviceUnregistered(dev)
	}
}

func (n *fanoutNotifier) StateChanged(dev *cio.Device, from, to cio.State) {
	for _, t := range n.snapshot() {
		t.StateChanged(dev, from, to)
	}
}

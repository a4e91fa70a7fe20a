// Gray Logic LIFX bridge
//
// This is the entry point for the LIFX LAN bridge. It discovers LIFX
// gateways on the local network, keeps a routing table of every bulb they
// report, and connects them to Gray Logic Core over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-lifx/migrations"

	lifxbridge "github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/lan"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/network"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/routing"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/lifx.yaml"

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic LIFX bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Routing cache (optional)
	var store routing.Store
	var db *database.DB
	if cfg.Cache.Enabled {
		db, err = openCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing routing cache")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing routing cache", "error", closeErr)
			}
		}()
		store = routing.NewSQLiteStore(db.DB)
		log.Info("routing cache ready", "path", cfg.Cache.Path)
	} else {
		log.Info("routing cache disabled")
	}

	// LIFX network
	lifx, err := network.Open(ctx, lanConfig(cfg.LIFX, log), networkConfig(cfg.LIFX, store, log))
	if err != nil {
		return fmt.Errorf("opening LIFX network: %w", err)
	}
	defer func() {
		log.Info("closing LIFX network")
		if closeErr := lifx.Close(); closeErr != nil {
			log.Error("error closing LIFX network", "error", closeErr)
		}
	}()
	log.Info("LIFX network open",
		"broadcast", cfg.LIFX.BroadcastAddress,
		"port", cfg.LIFX.Port,
		"peer_port", cfg.LIFX.PeerPort,
	)

	// MQTT, with the bridge's offline status as Last Will
	will, err := lifxbridge.LastWill(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building MQTT last will: %w", err)
	}
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Bridge.ID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log.Component("influxdb"))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	bridge, err := startBridge(ctx, cfg, mqttClient, lifx, influxClient, log)
	if err != nil {
		return err
	}
	defer bridge.Stop()

	// The broker published the Last Will while we were away, so replace it
	// as soon as the connection is back.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected", "connects", mqttClient.Stats().Connects)
		if err := bridge.Health().PublishNow(); err != nil {
			log.Warn("republishing health after reconnect", "error", err)
		}
	})

	hcCtx, hcCancel := context.WithTimeout(ctx, healthCheckTimeout)
	if hcErr := healthCheck(hcCtx, db, mqttClient, influxClient); hcErr != nil {
		log.Warn("health check failed", "error", hcErr)
	} else {
		log.Info("all health checks passed")
	}
	hcCancel()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: bridge, InfluxDB, MQTT, LIFX network
	// (which saves the routing cache), then the cache database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openCache opens the routing cache database and applies migrations.
func openCache(ctx context.Context, cfg config.CacheConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening routing cache: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating routing cache: %w", err)
	}
	return db, nil
}

// lanConfig maps the lifx config section onto the LAN manager.
func lanConfig(c config.LIFXConfig, log *logging.Logger) lan.Config {
	return lan.Config{
		BroadcastAddress:         c.BroadcastAddress,
		Port:                     c.Port,
		PeerPort:                 c.PeerPort,
		DiscoveryInterval:        c.DiscoveryInterval,
		DiscoveryIntervalNoSites: c.DiscoveryIntervalNoSites,
		Site: lan.SiteConfig{
			ScanDelay:           c.ScanDelay,
			ScanInterval:        c.ScanInterval,
			StaleSweepInterval:  c.GatewaySweepInterval,
			UpgradedMessageRate: c.UpgradedMessageRate,
			Gateway: lan.GatewayConfig{
				MessageRate:    c.MessageRate,
				QueueSize:      c.QueueSize,
				MaxTCPAttempts: c.MaxTCPAttempts,
				DisableTCP:     c.DisableTCP,
				ConnectTimeout: c.ConnectTimeout,
				WriteTimeout:   c.WriteTimeout,
			},
		},
		Logger: log.Component("lan"),
	}
}

// networkConfig maps the lifx config section onto the network context.
func networkConfig(c config.LIFXConfig, store routing.Store, log *logging.Logger) network.Config {
	return network.Config{
		StaleThreshold: c.StaleThreshold,
		SweepInterval:  c.RoutingSweepInterval,
		WaitTimeout:    c.WaitTimeout,
		SyncOffset:     c.SyncOffset,
		Store:          store,
		Logger:         log.Component("network"),
	}
}

// startBridge creates and starts the MQTT bridge.
func startBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, lifx *network.Context, influxClient *influxdb.Client, log *logging.Logger) (*lifxbridge.Bridge, error) {
	opts := lifxbridge.BridgeOptions{
		Config:     cfg.Bridge,
		Version:    version,
		MQTTClient: mqttClient,
		Network:    lifx,
		Tagger:     lifx.Tags(),
		Logger:     log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := lifxbridge.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("LIFX bridge started", "bridge_id", cfg.Bridge.ID)
	return bridge, nil
}

// healthCheck verifies the infrastructure connections.
//
// Parameters:
//   - db: Routing cache (may be nil if disabled)
//   - influxClient: InfluxDB client (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("routing cache: %w", err)
		}
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

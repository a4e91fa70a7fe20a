package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for graylogic-lifx.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	LIFX     LIFXConfig     `yaml:"lifx"`
	Cache    CacheConfig    `yaml:"cache"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LIFXConfig contains LAN protocol settings.
type LIFXConfig struct {
	// BroadcastAddress receives discovery and all-sites frames.
	BroadcastAddress string `yaml:"broadcast_address"`

	// Port is the LIFX UDP port, both sent to and listened on.
	Port int `yaml:"port"`

	// PeerPort carries advisory traffic between clients. -1 disables it.
	PeerPort int `yaml:"peer_port"`

	// MessageRate is the initial per-gateway rate in messages per second.
	MessageRate float64 `yaml:"message_rate"`

	// UpgradedMessageRate applies once gateway firmware is known to cope.
	UpgradedMessageRate float64 `yaml:"upgraded_message_rate"`

	QueueSize      int  `yaml:"queue_size"`
	MaxTCPAttempts int  `yaml:"max_tcp_attempts"`
	DisableTCP     bool `yaml:"disable_tcp"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	DiscoveryInterval        time.Duration `yaml:"discovery_interval"`
	DiscoveryIntervalNoSites time.Duration `yaml:"discovery_interval_no_sites"`

	ScanDelay            time.Duration `yaml:"scan_delay"`
	ScanInterval         time.Duration `yaml:"scan_interval"`
	GatewaySweepInterval time.Duration `yaml:"gateway_sweep_interval"`

	RoutingSweepInterval time.Duration `yaml:"routing_sweep_interval"`
	StaleThreshold       time.Duration `yaml:"stale_threshold"`

	WaitTimeout time.Duration `yaml:"wait_timeout"`
	SyncOffset  time.Duration `yaml:"sync_offset"`
}

// CacheConfig contains the SQLite routing cache settings.
type CacheConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BridgeConfig contains MQTT bridge behaviour.
type BridgeConfig struct {
	ID              string        `yaml:"id"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Components overrides Level per component, e.g. {"lan": "debug"}.
	Components map[string]string `yaml:"components"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern GRAYLOGIC_SECTION_KEY, for
// example GRAYLOGIC_CACHE_PATH or GRAYLOGIC_LIFX_BROADCAST_ADDRESS.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the stock LIFX timings.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		LIFX: LIFXConfig{
			BroadcastAddress:         "255.255.255.255",
			Port:                     56700,
			PeerPort:                 56750,
			MessageRate:              5,
			UpgradedMessageRate:      20,
			QueueSize:                10,
			MaxTCPAttempts:           3,
			ConnectTimeout:           3 * time.Second,
			WriteTimeout:             2 * time.Second,
			DiscoveryInterval:        20 * time.Second,
			DiscoveryIntervalNoSites: time.Second,
			ScanDelay:                time.Second,
			ScanInterval:             30 * time.Second,
			GatewaySweepInterval:     10 * time.Second,
			RoutingSweepInterval:     30 * time.Second,
			StaleThreshold:           5 * time.Minute,
			WaitTimeout:              3 * time.Second,
			SyncOffset:               time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled:     true,
			Path:        "./data/lifx-cache.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Bridge: BridgeConfig{
			ID:              "lifx",
			HealthInterval:  30 * time.Second,
			MetricsInterval: time.Minute,
			CommandTimeout:  5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-lifx",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// LIFX
	if v := os.Getenv("GRAYLOGIC_LIFX_BROADCAST_ADDRESS"); v != "" {
		cfg.LIFX.BroadcastAddress = v
	}
	if v := os.Getenv("GRAYLOGIC_LIFX_PEER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.LIFX.PeerPort = port
		}
	}

	// Cache
	if v := os.Getenv("GRAYLOGIC_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Every validation failure joined, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// LIFX
	if c.LIFX.BroadcastAddress == "" {
		errs = append(errs, "lifx.broadcast_address is required")
	}
	if c.LIFX.Port < 1 || c.LIFX.Port > 65535 {
		errs = append(errs, "lifx.port must be between 1 and 65535")
	}
	if c.LIFX.PeerPort != -1 && (c.LIFX.PeerPort < 1 || c.LIFX.PeerPort > 65535) {
		errs = append(errs, "lifx.peer_port must be between 1 and 65535, or -1 to disable")
	}
	if c.LIFX.PeerPort == c.LIFX.Port {
		errs = append(errs, "lifx.peer_port must differ from lifx.port")
	}
	if c.LIFX.MessageRate <= 0 {
		errs = append(errs, "lifx.message_rate must be positive")
	}
	if c.LIFX.UpgradedMessageRate < c.LIFX.MessageRate {
		errs = append(errs, "lifx.upgraded_message_rate must not be below lifx.message_rate")
	}
	if c.LIFX.QueueSize < 1 {
		errs = append(errs, "lifx.queue_size must be at least 1")
	}

	// Cache
	if c.Cache.Enabled && c.Cache.Path == "" {
		errs = append(errs, "cache.path is required when the cache is enabled")
	}

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

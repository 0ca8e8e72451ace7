package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SIDEKICK bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Broker    BrokerConfig    `yaml:"broker"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains broker transport settings and the known broker presets.
type MQTTConfig struct {
	ClientIDPrefix string `yaml:"client_id_prefix"`
	QoS            int    `yaml:"qos"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// ConnectTimeout bounds the transport handshake in seconds.
	// The bridge itself never waits on it.
	ConnectTimeout int `yaml:"connect_timeout"`

	// AutoConnect is an optional peripheral ID to connect to at startup.
	AutoConnect string `yaml:"auto_connect"`

	Peripherals []PeripheralConfig `yaml:"peripherals"`
}

// PeripheralConfig describes one broker the host can offer in its device list.
type PeripheralConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	RSSI          int    `yaml:"rssi"`
	BrokerAddress string `yaml:"broker_address"`
}

// BrokerConfig controls the optional local broker process.
// Durations are in seconds.
type BrokerConfig struct {
	// Managed starts and supervises the broker alongside the bridge.
	Managed    bool     `yaml:"managed"`
	Binary     string   `yaml:"binary"`
	ConfigFile string   `yaml:"config_file"`
	Args       []string `yaml:"args"`

	// ListenAddress is the host:port probed for readiness and health.
	ListenAddress string `yaml:"listen_address"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelay        int  `yaml:"restart_delay"`
	MaxRestartDelay     int  `yaml:"max_restart_delay"`
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`
	GracefulTimeout     int  `yaml:"graceful_timeout"`
	HealthCheckInterval int  `yaml:"health_check_interval"`

	// ReadyTimeout bounds the wait for the listener at startup.
	ReadyTimeout int `yaml:"ready_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// ConsoleDir serves the host console from disk instead of the
	// embedded assets. Empty uses the embedded console.
	ConsoleDir string `yaml:"console_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SIDEKICK_SECTION_KEY
// For example: SIDEKICK_API_PORT, SIDEKICK_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// Default returns the built-in configuration, with environment overrides
// applied. Used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
// The two peripherals match the classroom setup: the Raspberry Pi hotspot
// broker and a development broker on the home network.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			ClientIDPrefix: "sidekick",
			QoS:            0,
			KeepAlive:      60,
			ConnectTimeout: 10,
			Peripherals: []PeripheralConfig{
				{
					ID:            "hotspot",
					Name:          "SIDEKICK RPi Hotspot",
					RSSI:          1,
					BrokerAddress: "ws://10.42.0.1:9001",
				},
				{
					ID:            "devHome",
					Name:          "Home Network (Development)",
					RSSI:          2,
					BrokerAddress: "ws://192.168.178.117:9001",
				},
			},
		},
		Broker: BrokerConfig{
			Binary:              "mosquitto",
			ListenAddress:       "127.0.0.1:9001",
			RestartOnFailure:    true,
			RestartDelay:        2,
			MaxRestartDelay:     60,
			GracefulTimeout:     5,
			HealthCheckInterval: 15,
			ReadyTimeout:        10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8601,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SIDEKICK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("SIDEKICK_MQTT_AUTO_CONNECT"); v != "" {
		cfg.MQTT.AutoConnect = v
	}
	if v := os.Getenv("SIDEKICK_MQTT_CLIENT_ID_PREFIX"); v != "" {
		cfg.MQTT.ClientIDPrefix = v
	}

	// Broker
	if v := os.Getenv("SIDEKICK_BROKER_MANAGED"); v != "" {
		if managed, err := strconv.ParseBool(v); err == nil {
			cfg.Broker.Managed = managed
		}
	}
	if v := os.Getenv("SIDEKICK_BROKER_CONFIG_FILE"); v != "" {
		cfg.Broker.ConfigFile = v
	}

	// API
	if v := os.Getenv("SIDEKICK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SIDEKICK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("SIDEKICK_API_CONSOLE_DIR"); v != "" {
		cfg.API.ConsoleDir = v
	}

	// Logging
	if v := os.Getenv("SIDEKICK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIDEKICK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ClientIDPrefix == "" {
		errs = append(errs, "mqtt.client_id_prefix is required")
	}
	if c.MQTT.ConnectTimeout < 0 {
		errs = append(errs, "mqtt.connect_timeout must not be negative")
	}

	seen := make(map[string]bool, len(c.MQTT.Peripherals))
	for i, p := range c.MQTT.Peripherals {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("mqtt.peripherals[%d].id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("mqtt.peripherals[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = true
		if p.BrokerAddress == "" {
			errs = append(errs, fmt.Sprintf("mqtt.peripherals[%d].broker_address is required", i))
		}
	}
	if c.MQTT.AutoConnect != "" && !seen[c.MQTT.AutoConnect] {
		errs = append(errs, fmt.Sprintf("mqtt.auto_connect %q is not a configured peripheral", c.MQTT.AutoConnect))
	}

	// Broker validation
	if c.Broker.Managed {
		if c.Broker.Binary == "" {
			errs = append(errs, "broker.binary is required when broker.managed is set")
		}
		if c.Broker.RestartDelay < 0 || c.Broker.MaxRestartDelay < 0 || c.Broker.GracefulTimeout < 0 {
			errs = append(errs, "broker delays must not be negative")
		}
		if c.Broker.MaxRestartAttempts < 0 {
			errs = append(errs, "broker.max_restart_attempts must not be negative")
		}
		if c.Broker.ReadyTimeout < 1 {
			errs = append(errs, "broker.ready_timeout must be at least 1 second")
		}
		if c.Broker.HealthCheckInterval < 1 {
			errs = append(errs, "broker.health_check_interval must be at least 1 second")
		}
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// WebSocket validation
	if c.WebSocket.PingInterval < 1 {
		errs = append(errs, "websocket.ping_interval must be at least 1 second")
	}
	if c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.pong_timeout must be at least 1 second")
	}
	if c.WebSocket.MaxMessageSize < 1 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Peripheral looks up a configured peripheral by ID.
func (m MQTTConfig) Peripheral(id string) (PeripheralConfig, bool) {
	for _, p := range m.Peripherals {
		if p.ID == id {
			return p, true
		}
	}
	return PeripheralConfig{}, false
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // schedule zones must resolve on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"
)

// Controller actuation modes.
const (
	ControllerModeHTTP = "http"
	ControllerModeMQTT = "mqtt"
)

// Config is the root configuration structure for irrigationd.
// Values come from defaults, then the YAML file, then environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Irrigation IrrigationConfig `yaml:"irrigation"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig controls the rotating log file used when Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// IrrigationConfig contains reconciliation, actuation and scheduling settings.
type IrrigationConfig struct {
	// ReconcileInterval is the period between reconcile passes in seconds.
	// Zero disables the periodic pass.
	ReconcileInterval int `yaml:"reconcile_interval"`

	// ReconcileOnStartup runs one pass before the periodic timer starts.
	ReconcileOnStartup bool `yaml:"reconcile_on_startup"`

	// StopActiveOnStartup stops every circuit recorded as active when the
	// service starts, so no valve stays open across a restart.
	StopActiveOnStartup bool `yaml:"stop_active_on_startup"`

	// Concurrency bounds each reconcile fan-out (controllers, circuits, sensors).
	Concurrency int `yaml:"concurrency"`

	Controller ControllerConfig `yaml:"controller"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

// ControllerConfig configures how irrigation controllers are reached.
type ControllerConfig struct {
	// Mode selects the actuation transport: "http" or "mqtt".
	Mode string `yaml:"mode"`

	// Timeout is the per-request HTTP timeout in seconds. Zero leaves the
	// transport default in place.
	Timeout int `yaml:"timeout"`

	// Scheme is prefixed to controller addresses that carry none.
	Scheme string `yaml:"scheme"`
}

// ScheduleConfig configures recurring start/stop jobs.
type ScheduleConfig struct {
	// Timezone is the IANA zone recurring jobs are evaluated in.
	Timezone string `yaml:"timezone"`

	// JobTimeout bounds one job execution in seconds.
	JobTimeout int `yaml:"job_timeout"`

	// RetryMaxElapsed bounds retries of a failing job in seconds.
	RetryMaxElapsed int `yaml:"retry_max_elapsed"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern IRRIGATION_SECTION_KEY,
// for example IRRIGATION_DATABASE_PATH or IRRIGATION_CONTROLLER_MODE.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
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

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Garden",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/irrigation.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "irrigationd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "graylogic",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/irrigationd.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Irrigation: IrrigationConfig{
			ReconcileInterval:   60,
			ReconcileOnStartup:  true,
			StopActiveOnStartup: true,
			Concurrency:         4,
			Controller: ControllerConfig{
				Mode:    ControllerModeHTTP,
				Timeout: 10,
				Scheme:  "http",
			},
			Schedule: ScheduleConfig{
				Timezone:        "Europe/Moscow",
				JobTimeout:      60,
				RetryMaxElapsed: 120,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IRRIGATION_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("IRRIGATION_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("IRRIGATION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IRRIGATION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IRRIGATION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("IRRIGATION_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("IRRIGATION_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("IRRIGATION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("IRRIGATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("IRRIGATION_CONTROLLER_MODE"); v != "" {
		cfg.Irrigation.Controller.Mode = v
	}
	if v := os.Getenv("IRRIGATION_SCHEDULE_TIMEZONE"); v != "" {
		cfg.Irrigation.Schedule.Timezone = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if strings.ToLower(c.Logging.Output) == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	irr := c.Irrigation
	if irr.ReconcileInterval < 0 {
		errs = append(errs, "irrigation.reconcile_interval must not be negative")
	}
	if irr.Concurrency < 1 {
		errs = append(errs, "irrigation.concurrency must be at least 1")
	}

	switch irr.Controller.Mode {
	case ControllerModeHTTP:
	case ControllerModeMQTT:
		if !c.MQTT.Enabled {
			errs = append(errs, "irrigation.controller.mode mqtt requires mqtt.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("irrigation.controller.mode %q must be http or mqtt", irr.Controller.Mode))
	}

	if irr.Controller.Timeout < 0 {
		errs = append(errs, "irrigation.controller.timeout must not be negative")
	}

	if _, err := time.LoadLocation(irr.Schedule.Timezone); err != nil || irr.Schedule.Timezone == "" {
		errs = append(errs, fmt.Sprintf("irrigation.schedule.timezone %q is not a valid IANA zone", irr.Schedule.Timezone))
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

// GetReconcileInterval returns the reconcile period; zero means disabled.
func (c *Config) GetReconcileInterval() time.Duration {
	return time.Duration(c.Irrigation.ReconcileInterval) * time.Second
}

// GetControllerTimeout returns the controller HTTP timeout; zero means none.
func (c *Config) GetControllerTimeout() time.Duration {
	return time.Duration(c.Irrigation.Controller.Timeout) * time.Second
}

// GetJobTimeout returns the upper bound of a single scheduled job run.
func (c *Config) GetJobTimeout() time.Duration {
	return time.Duration(c.Irrigation.Schedule.JobTimeout) * time.Second
}

// GetRetryMaxElapsed returns how long a failing scheduled job keeps retrying.
func (c *Config) GetRetryMaxElapsed() time.Duration {
	return time.Duration(c.Irrigation.Schedule.RetryMaxElapsed) * time.Second
}

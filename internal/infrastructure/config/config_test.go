package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
irrigation:
  reconcile_interval: 120
  concurrency: 2
  controller:
    mode: "mqtt"
    timeout: 3
  schedule:
    timezone: "Europe/Berlin"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Irrigation.Controller.Mode != ControllerModeMQTT {
		t.Errorf("Controller.Mode = %q, want %q", cfg.Irrigation.Controller.Mode, ControllerModeMQTT)
	}
	if got := cfg.GetReconcileInterval(); got != 2*time.Minute {
		t.Errorf("GetReconcileInterval() = %v, want 2m", got)
	}
	if cfg.Irrigation.Schedule.Timezone != "Europe/Berlin" {
		t.Errorf("Schedule.Timezone = %q, want Europe/Berlin", cfg.Irrigation.Schedule.Timezone)
	}
	// Values absent from the file keep their defaults.
	if cfg.Irrigation.Controller.Scheme != "http" {
		t.Errorf("Controller.Scheme = %q, want default http", cfg.Irrigation.Controller.Scheme)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty site.id, got nil")
	}
	if !strings.Contains(err.Error(), "site.id is required") {
		t.Errorf("error = %v, want mention of site.id", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "unknown controller mode",
			mutate:  func(c *Config) { c.Irrigation.Controller.Mode = "serial" },
			wantErr: "irrigation.controller.mode",
		},
		{
			name:    "mqtt mode without broker",
			mutate:  func(c *Config) { c.Irrigation.Controller.Mode = ControllerModeMQTT },
			wantErr: "requires mqtt.enabled",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Irrigation.Concurrency = 0 },
			wantErr: "irrigation.concurrency",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Irrigation.Schedule.Timezone = "Mars/Olympus" },
			wantErr: "irrigation.schedule.timezone",
		},
		{
			name:    "influx without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name: "file logging without path",
			mutate: func(c *Config) {
				c.Logging.Output = "file"
				c.Logging.File.Path = ""
			},
			wantErr: "logging.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "database.path") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		API: APIConfig{Timeouts: APITimeoutConfig{Read: 10, Write: 20, Idle: 30}},
		Irrigation: IrrigationConfig{
			ReconcileInterval: 60,
			Controller:        ControllerConfig{Timeout: 5},
			Schedule:          ScheduleConfig{JobTimeout: 45, RetryMaxElapsed: 90},
		},
	}

	checks := map[string]struct {
		got  time.Duration
		want time.Duration
	}{
		"read":       {cfg.GetReadTimeout(), 10 * time.Second},
		"write":      {cfg.GetWriteTimeout(), 20 * time.Second},
		"idle":       {cfg.GetIdleTimeout(), 30 * time.Second},
		"reconcile":  {cfg.GetReconcileInterval(), time.Minute},
		"controller": {cfg.GetControllerTimeout(), 5 * time.Second},
		"job":        {cfg.GetJobTimeout(), 45 * time.Second},
		"retry":      {cfg.GetRetryMaxElapsed(), 90 * time.Second},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("IRRIGATION_DATABASE_PATH", "/env/irrigation.db")
	t.Setenv("IRRIGATION_MQTT_ENABLED", "true")
	t.Setenv("IRRIGATION_MQTT_HOST", "mqtt.env")
	t.Setenv("IRRIGATION_API_PORT", "9100")
	t.Setenv("IRRIGATION_CONTROLLER_MODE", "mqtt")
	t.Setenv("IRRIGATION_SCHEDULE_TIMEZONE", "UTC")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/irrigation.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.MQTT.Broker.Host != "mqtt.env" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100", cfg.API.Port)
	}
	if cfg.Irrigation.Controller.Mode != ControllerModeMQTT {
		t.Errorf("Controller.Mode = %q", cfg.Irrigation.Controller.Mode)
	}
	if cfg.Irrigation.Schedule.Timezone != "UTC" {
		t.Errorf("Schedule.Timezone = %q", cfg.Irrigation.Schedule.Timezone)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after overrides error = %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Irrigation.Schedule.Timezone != "Europe/Moscow" {
		t.Errorf("Schedule.Timezone = %q, want Europe/Moscow", cfg.Irrigation.Schedule.Timezone)
	}
	if cfg.Irrigation.Controller.Mode != ControllerModeHTTP {
		t.Errorf("Controller.Mode = %q, want http", cfg.Irrigation.Controller.Mode)
	}
	if cfg.Irrigation.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Irrigation.Concurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a minimal HTTP-only config using dbPath and returns its path.
func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18093
  timeouts:
    read: 5
    write: 5
    idle: 5

irrigation:
  reconcile_interval: 0
  reconcile_on_startup: true
  stop_active_on_startup: true
  concurrency: 2
  controller:
    mode: http
    timeout: 1
  schedule:
    timezone: Europe/Moscow
    job_timeout: 5
    retry_max_elapsed: 5
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, writeConfig(t, ""))
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path validation failure", err)
	}
}

// TestRun_StartupAndShutdown starts the HTTP-only service and stops it
// through context cancellation.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "irrigation.db")
	configPath := writeConfig(t, dbPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx, configPath); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestMigrateUpAndDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "irrigation.db")
	configPath := writeConfig(t, dbPath)
	ctx := context.Background()

	if err := runMigrate(ctx, configPath, false); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := runMigrate(ctx, configPath, true); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}

func TestReconcileCommand_NoControllers(t *testing.T) {
	configPath := writeConfig(t, filepath.Join(t.TempDir(), "irrigation.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := runReconcile(ctx, configPath); err != nil {
		t.Errorf("runReconcile() error: %v", err)
	}
}

func TestRootCmd_Version(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "irrigationd "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRootCmd_ConfigFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", "/nonexistent/config.yaml", "reconcile"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("Execute() error = %v, want config load failure", err)
	}
}

// TestGetConfigPath covers flag, environment and default precedence.
func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnvVar, "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv(configEnvVar, "/custom/path/config.yaml")
	if got := getConfigPath(""); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
	if got := getConfigPath("/flag/config.yaml"); got != "/flag/config.yaml" {
		t.Errorf("getConfigPath() = %q, want flag override", got)
	}
}

// irrigationd keeps an inventory of irrigation controllers, circuits and
// soil sensors in step with what the controllers report, and switches
// circuits on demand, on a weekly timetable, or over the MQTT bus.
//
// Commands:
//
//	irrigationd                  run the service (default)
//	irrigationd reconcile        run one reconcile pass and exit
//	irrigationd migrate [--down] apply or roll back schema migrations
//	irrigationd version          print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-irrigation/internal/api"
	"github.com/nerrad567/gray-logic-irrigation/internal/controller"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
	"github.com/nerrad567/gray-logic-irrigation/internal/irrigation"
	"github.com/nerrad567/gray-logic-irrigation/internal/planner"
	"github.com/nerrad567/gray-logic-irrigation/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "IRRIGATION_CONFIG"

	// reconcileFlushTimeout bounds writing a one-shot pass's readings.
	reconcileFlushTimeout = 10 * time.Second
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so every component shuts down in order.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command runs the service.
func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "irrigationd",
		Short:         "Irrigation circuit reconciliation and actuation service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"path to config.yaml (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass against every registered controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd.Context(), getConfigPath(configFlag))
		},
	})

	var down bool
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), getConfigPath(configFlag), down)
		},
	}
	migrateCmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	root.AddCommand(migrateCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "irrigationd %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return root
}

// run starts every component and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown

	log.Info("starting irrigationd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	repo := inventory.NewSQLiteRepository(db.DB)
	facade := irrigation.NewFacade(repo)
	httpClient := controller.NewClient(cfg.Irrigation.Controller)

	// MQTT carries the request bus, lifecycle events and, in mqtt mode,
	// circuit commands. Without it the service is HTTP-only.
	var mqttClient *mqtt.Client
	var topics mqtt.Topics
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
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		topics = mqttClient.Topics()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"site", influxClient.Site(),
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	notifiers := irrigation.MultiNotifier{irrigation.NewHubNotifier(hub)}
	if mqttClient != nil {
		notifiers = append(notifiers, irrigation.NewMQTTNotifier(mqttClient, topics.Event, log))
	}
	if influxClient != nil {
		notifiers = append(notifiers, irrigation.NewRecorderNotifier(influxClient))
	}

	commander, err := buildCommander(cfg, httpClient, mqttClient, topics)
	if err != nil {
		return err
	}

	machine := irrigation.NewStateMachine(facade, repo, commander, notifiers)
	machine.SetLogger(log)
	defer machine.Close()

	if cfg.Irrigation.StopActiveOnStartup {
		stopped, stopErr := machine.StopAll(ctx)
		if stopErr != nil {
			log.Error("stopping active circuits on startup", "error", stopErr)
		} else if stopped > 0 {
			log.Info("stopped circuits left active by a previous run", "count", stopped)
		}
	}

	jobs := planner.New(planner.NewSQLiteRepository(db.DB),
		planner.WithJobTimeout(time.Duration(cfg.Irrigation.Schedule.JobTimeout)*time.Second),
		planner.WithLogger(log),
	)
	scheduler := irrigation.NewScheduler(jobs, machine, repo, cfg.Irrigation.Schedule.Timezone)
	scheduler.SetLogger(log)
	scheduler.SetRetryMaxElapsed(time.Duration(cfg.Irrigation.Schedule.RetryMaxElapsed) * time.Second)
	scheduler.DefineJobs()
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("starting planner: %w", err)
	}
	defer jobs.Stop()

	reconciler := irrigation.NewReconciler(repo, httpClient, reconcilerOptions(cfg, log, influxClient)...)
	if cfg.Irrigation.ReconcileOnStartup {
		if err := reconciler.Reconcile(ctx); err != nil {
			log.Error("startup reconcile failed", "error", err)
		}
	}
	go reconciler.Run(ctx, time.Duration(cfg.Irrigation.ReconcileInterval)*time.Second)

	if mqttClient != nil {
		bus := irrigation.NewBus(facade, machine, mqttClient, topics.RequestKind)
		bus.SetLogger(log)
		if err := mqttClient.Subscribe(topics.AllRequests(), byte(cfg.MQTT.QoS), bus.HandleMessage); err != nil {
			return fmt.Errorf("subscribing to request bus: %w", err)
		}
		log.Info("request bus listening", "topic", topics.AllRequests())
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Inventory:  facade,
		Circuits:   machine,
		Scheduler:  scheduler,
		Reconciler: reconciler,
		Registrar:  irrigation.NewRegistrar(repo),
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, planner, state machine,
	// InfluxDB, MQTT, database.
	return nil
}

// runReconcile performs a single pass and reports its summary.
func runReconcile(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck // nothing useful to do on exit

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly, exiting anyway

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer influxClient.Close() //nolint:errcheck // flushed below
	}

	repo := inventory.NewSQLiteRepository(db.DB)
	reconciler := irrigation.NewReconciler(repo, controller.NewClient(cfg.Irrigation.Controller),
		reconcilerOptions(cfg, log, influxClient)...)

	stats, err := reconciler.ReconcileWithStats(ctx)
	if err != nil {
		return fmt.Errorf("reconcile pass: %w", err)
	}
	if influxClient != nil {
		flushCtx, cancel := context.WithTimeout(ctx, reconcileFlushTimeout)
		defer cancel()
		if err := influxClient.Flush(flushCtx); err != nil {
			log.Warn("readings not written to InfluxDB", "error", err)
		}
	}
	if stats.ControllerErrors > 0 {
		return fmt.Errorf("%d of %d controllers failed to reconcile", stats.ControllerErrors, stats.Controllers)
	}
	return nil
}

// runMigrate applies pending migrations, or rolls back the latest one.
func runMigrate(ctx context.Context, configPath string, down bool) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck // nothing useful to do on exit

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // exiting anyway

	if down {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		log.Info("rolled back latest migration")
		return nil
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return nil
}

// loadConfig reads the configuration and builds the configured logger.
func loadConfig(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	return cfg, log, nil
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// buildCommander picks the actuation transport named by
// irrigation.controller.mode.
func buildCommander(cfg *config.Config, httpClient *controller.Client, mqttClient *mqtt.Client, topics mqtt.Topics) (controller.Commander, error) {
	switch cfg.Irrigation.Controller.Mode {
	case config.ControllerModeMQTT:
		if mqttClient == nil {
			return nil, fmt.Errorf("controller mode %q requires MQTT", cfg.Irrigation.Controller.Mode)
		}
		return controller.NewMQTTCommander(mqttClient, topics.CircuitCommand), nil
	default:
		return httpClient, nil
	}
}

// reconcilerOptions maps config onto reconciler options. A nil influx
// client leaves readings in SQLite only.
func reconcilerOptions(cfg *config.Config, log *logging.Logger, influxClient *influxdb.Client) []irrigation.ReconcilerOption {
	opts := []irrigation.ReconcilerOption{
		irrigation.WithConcurrency(cfg.Irrigation.Concurrency),
		irrigation.WithReconcilerLogger(log),
	}
	if influxClient != nil {
		opts = append(opts, irrigation.WithReadingSink(influxClient))
	}
	return opts
}

// getConfigPath returns the configuration file path: the --config flag,
// then IRRIGATION_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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

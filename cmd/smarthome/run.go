package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/smarthome-core/internal/api"
	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/home"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/logging"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smarthome-core/migrations"
)

// runOptions carries the root command's flags into run.
type runOptions struct {
	configPath string
	console    bool
	in         io.Reader
	out        io.Writer
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Config path and console settings
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts runOptions) error { //nolint:gocognit,gocyclo // Linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting smart home core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // Log file close on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolving site timezone: %w", err)
	}

	homeFile, err := home.LoadFile(cfg.Home.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading home file: %w", err)
	}

	// Open database
	db, err := database.Open(cfg.Database)
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

	deps := home.Deps{
		Logger:  log.With("component", "home"),
		Clock:   automation.SystemClock{Location: loc},
		States:  device.NewSQLiteStateRepository(db.DB),
		Firings: automation.NewSQLiteFiringRepository(db.DB),
	}

	// Users and permissions (optional)
	var access *auth.Authorizer
	if cfg.Security.Enabled {
		authLog := log.With("component", "auth")
		users := auth.NewUserRepository(db.DB)
		if _, seedErr := auth.SeedAdmin(ctx, users, cfg.Security.AdminPassword, authLog); seedErr != nil {
			return fmt.Errorf("seeding admin account: %w", seedErr)
		}
		access = auth.NewAuthorizer(auth.Config{
			Secret:   cfg.Security.JWT.Secret,
			TokenTTL: cfg.GetAccessTokenTTL(),
		}, users, authLog)
		deps.Access = access
		log.Info("access control enabled", "token_ttl", cfg.GetAccessTokenTTL())
	} else {
		log.Info("access control disabled")
	}

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
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		deps.MQTT = mqttClient
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		deps.Telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub is shared by the monitor, the device listeners and the API.
	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	deps.Hub = hub

	sys := home.New(cfg.Monitor, deps)
	if loadErr := sys.Load(homeFile); loadErr != nil {
		return fmt.Errorf("loading home %s: %w", cfg.Home.ConfigFile, loadErr)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if err := sys.Start(gctx); err != nil {
		stop()
		_ = g.Wait() //nolint:errcheck // Hub returns nil
		return fmt.Errorf("starting home: %w", err)
	}
	defer sys.Stop()

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Home:    sys,
			Hub:     hub,
			Version: version,
			Auth:    access,
		})
		if apiErr == nil {
			apiErr = server.Start(gctx)
		}
		if apiErr != nil {
			stop()
			_ = g.Wait() //nolint:errcheck // Hub returns nil
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if opts.console {
		g.Go(func() error {
			// Leaving the console shuts the service down.
			defer stop()
			return home.NewConsole(sys, opts.in, opts.out).Run(gctx)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("console: %w", err)
	}

	// Deferred calls run in reverse order: API, home (saves device
	// state), InfluxDB, MQTT, database, log file.
	log.Info("smart home core stopped")
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
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

// validate loads the configuration and builds every device and rule of the
// home file, printing a summary. Nothing is persisted or started.
func validate(configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	homeFile, err := home.LoadFile(cfg.Home.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading home file: %w", err)
	}

	sys := home.New(cfg.Monitor, home.Deps{})
	if err := sys.Load(homeFile); err != nil {
		return fmt.Errorf("loading home %s: %w", cfg.Home.ConfigFile, err)
	}

	fmt.Fprintf(out, "config %s: ok\n", configPath)
	fmt.Fprintf(out, "home %s: %d devices, %d rules\n\n",
		cfg.Home.ConfigFile, len(sys.ListDevices()), len(sys.ListRules()))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tTYPE\tNAME")
	for _, d := range sys.ListDevices() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID(), d.Type(), d.Name())
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "RULE\tTRIGGER\tACTIONS")
	for _, r := range sys.ListRules() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name(), r.Trigger(), r.Description())
	}
	return tw.Flush()
}

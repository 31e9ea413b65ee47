// daliserver - DALI lighting bus daemon
//
// daliserver exposes a DALI lighting bus, reached through a USB
// adapter, as a simple TCP frame protocol on the loopback interface.
// Clients send two-byte command frames and receive two-byte status
// replies; unsolicited bus traffic is broadcast to every client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/daliserver/migrations"

	"github.com/nerrad567/daliserver/internal/bridge"
	"github.com/nerrad567/daliserver/internal/dali"
	"github.com/nerrad567/daliserver/internal/dispatch"
	"github.com/nerrad567/daliserver/internal/frame"
	"github.com/nerrad567/daliserver/internal/infrastructure/config"
	"github.com/nerrad567/daliserver/internal/infrastructure/database"
	"github.com/nerrad567/daliserver/internal/infrastructure/influxdb"
	"github.com/nerrad567/daliserver/internal/infrastructure/logging"
	"github.com/nerrad567/daliserver/internal/infrastructure/mqtt"
	"github.com/nerrad567/daliserver/internal/ipc"
	"github.com/nerrad567/daliserver/internal/server"
	"github.com/nerrad567/daliserver/internal/tracelog"
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

// Interval between telemetry gauge samples
const statsInterval = 10 * time.Second

// options holds the command line flags. Flags override the
// corresponding config file values.
type options struct {
	configPath string
	address    string
	port       int
	dryRun     bool
	logLevel   string
}

func main() {
	opts := parseFlags(os.Args[1:])

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line into options.
func parseFlags(args []string) options {
	var opts options

	fs := flag.NewFlagSet("daliserver", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "c", "", "path to config file")
	fs.StringVar(&opts.address, "l", "", "listen address (overrides config)")
	fs.IntVar(&opts.port, "p", 0, "listen port (overrides config)")
	fs.BoolVar(&opts.dryRun, "n", false, "dry run: don't open the USB adapter")
	fs.StringVar(&opts.logLevel, "d", "", "log level: debug, info, warn, error")
	fs.Parse(args) //nolint:errcheck // ExitOnError never returns an error

	return opts
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting daliserver",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	disp := dispatch.New()

	// Traffic log (optional)
	var recorder *tracelog.Recorder
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(context.Background()); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("traffic log enabled", "path", cfg.Database.Path)

		recorder = tracelog.NewRecorder(tracelog.NewSQLiteRepository(db.DB), log)
		defer recorder.Close()
	}

	// MQTT mirror (optional)
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
	}

	// Telemetry (optional)
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
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	}

	// Bus driver, unless dry run
	var driver *dali.Driver
	if cfg.DALI.DryRun {
		log.Info("dry run, USB adapter not opened")
	} else {
		transport, usbErr := dali.OpenUSB(dali.USBConfig{
			VendorID:  cfg.DALI.VendorID,
			ProductID: cfg.DALI.ProductID,
		})
		if usbErr != nil {
			return fmt.Errorf("opening USB adapter: %w", usbErr)
		}

		driver, err = dali.Open(transport, disp, dali.Config{
			ResponseTimeout:  cfg.DALI.ResponseTimeout,
			IdlePollInterval: cfg.DALI.IdlePollInterval,
			QueueLimit:       cfg.DALI.QueueLimit,
		})
		if err != nil {
			return fmt.Errorf("opening bus driver: %w", err)
		}
		driver.SetLogger(log.With("component", "dali"))
		defer func() {
			log.Info("closing bus driver")
			if closeErr := driver.Close(); closeErr != nil {
				log.Error("error closing bus driver", "error", closeErr)
			}
		}()
		log.Info("bus driver opened",
			"response_timeout", cfg.DALI.ResponseTimeout.String(),
			"queue_limit", cfg.DALI.QueueLimit,
		)
	}

	// Bridge between server and driver, with optional mirrors. The nil
	// driver case (dry run) drops requests.
	var br *bridge.Bridge
	if driver != nil {
		br = bridge.New(driver, log)
		driver.SetInbandCallback(br.HandleInband)
		driver.SetOutbandCallback(br.HandleOutband)
	} else {
		br = bridge.New(nil, log)
	}
	defer br.Close()

	if mqttClient != nil {
		br.SetMirror(mqttClient.PublishDefault)
	}
	if recorder != nil {
		br.SetRecorder(recorder)
	}
	if influxClient != nil {
		br.SetTelemetry(influxClient)
	}

	// Network server
	srv, err := server.Open(disp, cfg.Server.ListenAddress, cfg.Server.Port, frame.Size, br.HandleFrame)
	if err != nil {
		return fmt.Errorf("opening server: %w", err)
	}
	br.SetServer(srv)
	srv.SetLogger(log.With("component", "server"))
	defer func() {
		log.Info("closing server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing server", "error", closeErr)
		}
	}()
	log.Info("listening", "address", srv.Addr().String())

	// Shutdown notifier: first signal requests a clean shutdown, a
	// second one terminates immediately.
	notifier := ipc.New()
	notifier.Register(disp, func() {
		log.Info("shutdown requested")
	})
	defer notifier.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		notifier.Notify()
		<-sigs
		log.Error("second signal received, terminating")
		os.Exit(1)
	}()

	// Periodic telemetry gauges (queue depth, client count)
	if influxClient != nil {
		startStatsReporter(disp, driver, srv, influxClient, statsInterval)
	}

	log.Info("initialisation complete")

	// The dispatch loop. The wait is bounded by the driver's next
	// deadline; with no driver the loop sleeps until a signal arrives.
	for !notifier.Signaled() && disp.Run(loopTimeout(driver)) {
	}

	log.Info("daliserver stopped")
	return nil
}

// gaugeWriter receives the periodic gauge samples, satisfied by
// influxdb.Client.
type gaugeWriter interface {
	WriteQueueDepth(depth int)
	WriteConnectionCount(count int)
}

// connCounter reports the current client count, satisfied by
// server.Server.
type connCounter interface {
	ConnectionCount() int
}

// statsReporter samples queue depth and client count on a fixed
// interval. It runs as a dispatch source, so the samples are taken on
// the loop goroutine where the driver's state is safe to read.
type statsReporter struct {
	disp     *dispatch.Dispatch
	id       dispatch.ID
	interval time.Duration
	driver   *dali.Driver
	conns    connCounter
	telem    gaugeWriter
}

func startStatsReporter(disp *dispatch.Dispatch, driver *dali.Driver, conns connCounter, telem gaugeWriter, interval time.Duration) *statsReporter {
	r := &statsReporter{
		disp:     disp,
		interval: interval,
		driver:   driver,
		conns:    conns,
		telem:    telem,
	}
	r.id = disp.Register(r)
	disp.SetDeadline(r.id, time.Now().Add(interval))
	return r
}

// OnReady is never signalled; the reporter is deadline-driven.
func (r *statsReporter) OnReady() {}

// OnTimeout writes one sample of each gauge and re-arms the deadline.
func (r *statsReporter) OnTimeout() {
	if r.driver != nil {
		r.telem.WriteQueueDepth(r.driver.Stats().QueueDepth)
	}
	r.telem.WriteConnectionCount(r.conns.ConnectionCount())
	r.disp.SetDeadline(r.id, time.Now().Add(r.interval))
}

// loopTimeout returns the bound for one dispatch wait.
func loopTimeout(driver *dali.Driver) time.Duration {
	if driver != nil {
		return driver.Timeout()
	}
	return dispatch.WaitForever
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("DALISERVER_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if opts.address != "" {
		cfg.Server.ListenAddress = opts.address
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.dryRun {
		cfg.DALI.DryRun = true
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Command eg4-bridge bridges solar hybrid inverters to MQTT, InfluxDB,
// Postgres, and a JSON datalog file. Bootstrap follows the teacher's
// flag-parsed, signal-context-driven runAgent shape, generalized to wire
// every component of the channel mesh instead of a single Modbus<->MQTT
// pairing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lachlan2k/eg4-bridge/internal/bus"
	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/command"
	"github.com/lachlan2k/eg4-bridge/internal/config"
	"github.com/lachlan2k/eg4-bridge/internal/coordinator"
	"github.com/lachlan2k/eg4-bridge/internal/link"
	"github.com/lachlan2k/eg4-bridge/internal/register"
	"github.com/lachlan2k/eg4-bridge/internal/scheduler"
	"github.com/lachlan2k/eg4-bridge/internal/sink/datalogsink"
	"github.com/lachlan2k/eg4-bridge/internal/sink/influxsink"
	"github.com/lachlan2k/eg4-bridge/internal/sink/sqlsink"
	"github.com/lachlan2k/eg4-bridge/internal/stats"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the bridge's YAML config file")
	runtimeSecs := flag.Uint64("time", 0, "optional runtime limit in seconds; the process exits cleanly once it elapses")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 255
	}

	level := slog.LevelDebug
	if err := (&level).UnmarshalText([]byte(cfg.EffectiveLogLevel())); err != nil {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	schema, err := register.Load(cfg.RegisterSchemaFile)
	if err != nil {
		logger.Error("failed to load register schema", "error", err)
		return 255
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runtimeSecs > 0 {
		timer := time.AfterFunc(time.Duration(*runtimeSecs)*time.Second, stop)
		defer timer.Stop()
	}

	mesh := channels.NewMesh()
	st := stats.New()
	engine := command.New(mesh)

	coord, err := coordinator.New(cfg, mesh, engine, schema, st, logger)
	if err != nil {
		logger.Error("failed to build coordinator", "error", err)
		return 255
	}
	sched, err := scheduler.New(cfg, mesh, engine, logger)
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		return 255
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	for _, inv := range cfg.Inverters {
		if !inv.IsEnabled() {
			continue
		}
		datalog, err := inv.Datalog()
		if err != nil {
			logger.Error("invalid inverter datalog", "error", err)
			return 255
		}
		invSerial, err := inv.Serial()
		if err != nil {
			logger.Error("invalid inverter serial", "error", err)
			return 255
		}
		l := link.New(inv, datalog, invSerial, mesh, st, cfg.StrictDataCheck, logger)
		g.Go(func() error { return l.Run(gctx) })
	}

	if cfg.MQTT.IsEnabled() {
		b, err := bus.Connect(cfg.MQTT, mesh, logger)
		if err != nil {
			logger.Error("failed to connect to bus", "error", err)
			return 255
		}
		defer b.Close()
		g.Go(func() error { return b.Run(gctx) })
	}

	if cfg.Influx.Enabled {
		s := influxsink.New(cfg.Influx, mesh, logger)
		g.Go(func() error { return s.Run(gctx) })
	}

	for _, db := range cfg.Databases {
		if !db.Enabled {
			continue
		}
		s, err := sqlsink.Open(db.URL, mesh, logger)
		if err != nil {
			logger.Error("failed to open database sink", "url", db.URL, "error", err)
			return 255
		}
		g.Go(func() error { return s.Run(gctx) })
	}

	if cfg.DatalogFile != "" {
		s, err := datalogsink.Open(cfg.DatalogFile, mesh)
		if err != nil {
			logger.Error("failed to open datalog file", "error", err)
			return 255
		}
		g.Go(func() error { return s.Run(gctx) })
	}

	<-gctx.Done()
	logger.Info("shutting down", "stats", st.Dump())
	mesh.Shutdown()

	if err := g.Wait(); err != nil {
		logger.Warn("component exited with error during shutdown", "error", err)
	}
	return 0
}

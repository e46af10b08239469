// meshlogd captures mesh radio traffic into an hourly NDJSON store and
// serves the aggregation API over it.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/hfried/meshlog/internal/adhoc"
	"github.com/hfried/meshlog/internal/api"
	"github.com/hfried/meshlog/internal/config"
	"github.com/hfried/meshlog/internal/logging"
	"github.com/hfried/meshlog/internal/logstore"
	"github.com/hfried/meshlog/internal/pipeline"
	"github.com/hfried/meshlog/internal/radio"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	root := flag.String("root", "", "event store root (overrides config)")
	label := flag.String("label", "", "capture label (overrides config)")
	transport := flag.String("transport", "", "packet source: sim or none (overrides config)")
	snapshotMin := flag.Int("snapshot-min", 0, "snapshot cadence in minutes (overrides config)")
	jsonLogs := flag.Bool("json-logs", false, "log in JSON format")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *root != "" {
		cfg.LogRoot = *root
	}
	if *label != "" {
		cfg.Label = *label
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *snapshotMin > 0 {
		cfg.SnapshotEveryMin = *snapshotMin
	}
	if *jsonLogs {
		cfg.Logging.JSON = true
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logging.Init(logLevel(cfg.Logging.Level), cfg.Logging.JSON)
	logger := logging.Component("meshlogd")
	logger.Info("starting", "version", Version, "root", cfg.LogRoot, "transport", cfg.Transport)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Capture pipeline (writer + radio), unless running query-only
	// =========================================================================

	var pipe *pipeline.Pipeline
	var writer *logstore.Writer
	if cfg.Transport != "none" {
		writer, err = logstore.NewWriter(cfg.LogRoot, cfg.Label, logstore.WriterOptions{
			UseUTC: cfg.UseUTC,
			Logger: logging.Component("writer"),
		})
		if err != nil {
			logger.Error("open writer", "error", err)
			os.Exit(1)
		}

		iface := radio.NewSim(radio.SimOptions{
			NodeCount: cfg.Sim.NodeCount,
			Interval:  time.Duration(cfg.Sim.IntervalSec) * time.Second,
			Logger:    logging.Component("sim"),
		})

		pipe = pipeline.New(writer, iface, pipeline.Options{
			SnapshotEvery: time.Duration(cfg.SnapshotEveryMin) * time.Minute,
			UseUTC:        cfg.UseUTC,
			Logger:        logging.Component("pipeline"),
		})
		g.Go(func() error {
			defer iface.Close()
			return pipe.Run(ctx)
		})
	} else {
		logger.Info("transport disabled, query-only mode")
	}

	// =========================================================================
	// Query API
	// =========================================================================

	var sqlSvc *adhoc.Service
	if cfg.Query.SQLEnabled {
		sqlSvc, err = adhoc.New()
		if err != nil {
			logger.Error("open sql engine", "error", err)
			os.Exit(1)
		}
		defer sqlSvc.Close()
	}

	if !strings.HasPrefix(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.New(api.FromConfig(cfg, sqlSvc)).Router(),
	}
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Warn("close writer", "error", err)
		}
	}
	logger.Info("stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Vectord is a vector similarity retrieval daemon.
//
// It serves tenant-scoped insert, delete, and search over an HTTP API, with
// durable write-ahead-logged collections, background index maintenance, and
// an optional NATS event stream for index generation changes.
//
// Usage:
//
//	# Start with defaults
//	vectord
//
//	# Configure via file and environment
//	vectord -config ~/.config/vectord/config.yaml
//	SERVER_HTTP_PORT=9480 vectord
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/config"
	"github.com/fyrsmithlabs/vectord/internal/engine"
	"github.com/fyrsmithlabs/vectord/internal/events"
	"github.com/fyrsmithlabs/vectord/internal/httpapi"
	"github.com/fyrsmithlabs/vectord/internal/logging"
	"github.com/fyrsmithlabs/vectord/internal/manager"
	"github.com/fyrsmithlabs/vectord/internal/planner"
	"github.com/fyrsmithlabs/vectord/internal/semcache"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  vectord           Start the vectord daemon\n")
			fmt.Fprintf(os.Stderr, "  vectord version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("vectord by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// collectionDefaults maps the daemon configuration onto the engine's
// per-collection seed values.
func collectionDefaults(d config.CollectionDefaults) engine.CollectionDefaults {
	return engine.CollectionDefaults{
		Planner: planner.Config{
			OverfetchFactor:  d.OverfetchFactor,
			SelectivityRatio: d.SelectivityRatio,
			RRFConstant:      d.RRFConstant,
			VectorWeight:     d.VectorWeight,
			LexicalWeight:    d.LexicalWeight,
		},
		Cache: semcache.Config{
			SimilarityThreshold: d.CacheSimilarityThreshold,
			TTL:                 d.CacheTTL.Duration(),
			MaxPerTenant:        d.CacheMaxPerTenant,
		},
		Manager: manager.Config{
			FlatThreshold:    d.FlatThreshold,
			RebuildThreshold: d.RebuildThreshold,
			DriftThreshold:   d.DriftThreshold,
			MaintainInterval: d.MaintainInterval.Duration(),
			RetryInterval:    d.RetryInterval.Duration(),
		},
	}
}

// run starts the daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Encoding,
		Fields:   map[string]string{"service": "vectord"},
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting vectord",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		publisher, err = events.Connect(cfg.NATS.URL, cfg.NATS.Token.Value(), logger)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer publisher.Close()
	}

	eng := engine.New(cfg.Storage.DataDir, collectionDefaults(cfg.Defaults), publisher, logger)
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("engine close", zap.Error(err))
		}
	}()

	if err := eng.LoadCollections(ctx); err != nil {
		return fmt.Errorf("reopening collections: %w", err)
	}

	srv, err := httpapi.NewServer(eng, logger, &httpapi.Config{Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Voicenote is the note ingestion service.
//
// It accepts a voice recording or a piece of text, transcribes audio,
// extracts mood, inspirations and todos with a chat model, and appends the
// results to JSON collections in the data directory.
//
// Configuration comes from ~/.config/voicenote/config.yaml (or the file
// given with -config) and the environment. See internal/config.
//
// Usage:
//
//	# Start with defaults
//	ZHIPU_API_KEY=... voicenote
//
//	# Custom port and data directory
//	PORT=9000 DATA_DIR=/var/lib/voicenote voicenote
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/events"
	"github.com/fyrsmithlabs/voicenote/internal/gateway"
	httpapi "github.com/fyrsmithlabs/voicenote/internal/http"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/pipeline"
	"github.com/fyrsmithlabs/voicenote/internal/store"
	"github.com/fyrsmithlabs/voicenote/internal/telemetry"
	"github.com/fyrsmithlabs/voicenote/internal/validation"
	"github.com/fyrsmithlabs/voicenote/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML or TOML)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  voicenote [-config path]   Start the service\n")
			fmt.Fprintf(os.Stderr, "  voicenote version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "voicenote: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("voicenote by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the service and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Opens the store and the event publisher
//  4. Builds the pipeline and mounts the API
//  5. Serves until ctx is done, then shuts down
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	telCfg := telemetry.FromSettings(cfg.Observability, version)
	telCfg.Attributes = map[string]string{
		"voicenote.transcription.model": cfg.Transcription.Model,
		"voicenote.extraction.model":    cfg.Extraction.Model,
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Close()
	}()

	logger.Info(ctx, "starting voicenote",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("events", cfg.Events.Enabled),
	)
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded",
			zap.Strings("signals", h.Failed),
			zap.String("reason", h.Reason),
		)
	}

	st, err := store.New(cfg.Storage.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	publisher, err := events.New(ctx, cfg.Events, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize events: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn(context.Background(), "failed to close event publisher", zap.Error(err))
		}
	}()

	orchestrator, err := pipeline.New(pipeline.Options{
		Validator: validation.New(cfg.Audio),
		Gateways:  gateway.NewFactory(cfg, logger),
		Store:     st,
		Events:    publisher,
		Tracer:    tel.Tracer(pipeline.InstrumentationName),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	srv := server.NewServer(cfg,
		server.WithLogger(logger),
		server.WithHealthCheck("storage", func(context.Context) error { return st.Writable() }),
	)

	api, err := httpapi.NewAPI(orchestrator, st, httpapi.Config{
		Service:      cfg.Observability.ServiceName,
		Version:      version,
		MaxAudioSize: cfg.Audio.MaxSize.Int64(),
		BodyLimit:    cfg.Server.BodyLimit.Int64(),
	}, tel.Meter("github.com/fyrsmithlabs/voicenote/internal/http"), logger)
	if err != nil {
		return fmt.Errorf("failed to create api: %w", err)
	}
	api.Register(srv.Echo())

	start := time.Now()
	err = srv.Start(ctx)
	logger.Info(context.Background(), "voicenote stopped", zap.Duration("uptime", time.Since(start)))
	return err
}

// initLogger builds the structured logger, bridged to OTEL when telemetry
// provides a log provider.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Log)
	if err != nil {
		return nil, err
	}
	if name := cfg.Observability.ServiceName; name != "" {
		logCfg.Fields["service"] = name
	}
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

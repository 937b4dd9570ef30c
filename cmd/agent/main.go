package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/feedfilter/internal/agent"
	"github.com/tjfontaine/feedfilter/internal/auth"
	"github.com/tjfontaine/feedfilter/internal/classifier"
	"github.com/tjfontaine/feedfilter/internal/config"
	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/mcp"
	"github.com/tjfontaine/feedfilter/internal/media"
	"github.com/tjfontaine/feedfilter/internal/navigation"
	"github.com/tjfontaine/feedfilter/internal/platform"
	"github.com/tjfontaine/feedfilter/internal/registration"
	"github.com/tjfontaine/feedfilter/internal/room"
	"github.com/tjfontaine/feedfilter/internal/server"
	"github.com/tjfontaine/feedfilter/internal/storage"
	"github.com/tjfontaine/feedfilter/internal/storage/memory"
	"github.com/tjfontaine/feedfilter/internal/storage/sqlite"
	"github.com/tjfontaine/feedfilter/internal/telemetry"
	"github.com/tjfontaine/feedfilter/internal/tokens"
	"github.com/tjfontaine/feedfilter/internal/track"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	registration.RegisterBuiltins()

	if err := errors.Join(cfg.Validate(), classifier.ValidateProviderConfig(cfg.Vision)); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("agent stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("agent shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal, err := openJournal(cfg.Storage)
	if err != nil {
		return err
	}
	defer journal.Close()

	catalog, err := platform.NewCatalog(cfg.Platforms)
	if err != nil {
		return fmt.Errorf("platform overrides: %w", err)
	}

	cls, err := newClassifier(cfg.Vision, logger)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(true)

	locator := mcp.New(cfg.MCP, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	dispatchOpts := dispatch.Options{
		SettleDelay:     cfg.Dispatch.SettleDelay,
		NavigateCommand: cfg.Dispatch.NavigateCommand,
		Logger:          logger,
	}
	if locator.Enabled() {
		dispatchOpts.Locator = locator
		logger.Info("mcp locator enabled", slog.String("endpoint", cfg.MCP.Endpoint))
	}
	dispatcher := dispatch.New(&dispatch.Counter{}, dispatchOpts)

	a := agent.New(ctx, track.Settings{
		BaseFPS:          cfg.Sampler.BaseFPS,
		BoostFPS:         cfg.Sampler.BoostFPS,
		BoostWindow:      cfg.Sampler.BoostWindow,
		MaxWatchDuration: cfg.Navigation.MaxWatchDuration,
		StaticThreshold:  cfg.Stillness.Threshold,
		Similarity:       cfg.Stillness.Similarity,
		Stride:           cfg.Stillness.Stride,
		FailureThreshold: cfg.Dispatch.FailureNoticeThreshold,
	}, track.Deps{
		Classifier: cls,
		Encoder:    media.NewEncoder(cfg.Vision.ImageMaxEdge, cfg.Vision.ImageQuality),
		Engine:     navigation.NewEngine(catalog, cfg.Navigation.MinInterval),
		Dispatcher: dispatcher,
		Journal:    journal,
		Metrics:    metrics,
		Tracer:     telemetry.Tracer(),
		Logger:     logger,
	})

	hub := room.NewHub(a, room.Options{
		Logger:         logger,
		MaxMessageSize: cfg.Room.MaxFrameBytes,
		Discarded:      metrics.FrameDiscarded,
	})

	var limiter *rate.Limiter
	if cfg.Room.ConnectRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Room.ConnectRate), max(cfg.Room.ConnectBurst, 1))
	}

	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		Logger:         logger,
		Auth:           auth.NewAuthenticator(cfg.Room),
		Room:           hub,
		Sessions:       a,
		Journal:        journal,
		Counter:        dispatcher.Counter(),
		Metrics:        metrics.Handler(),
		ConnectLimiter: limiter,
	})

	logger.Info("agent starting",
		slog.String("provider", cls.ProviderName()),
		slog.String("storage", cfg.Storage.Type),
		slog.String("navigate_command", cfg.Dispatch.NavigateCommand))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newClassifier(cfg config.VisionConfig, logger *slog.Logger) (*classifier.Classifier, error) {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Timeout,
	}
	provider, err := classifier.CreateProvider(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("vision provider: %w", err)
	}

	var counter tokens.Counter
	if c, err := tokens.NewTiktokenCounter(); err != nil {
		logger.Warn("tiktoken unavailable, estimating prompt size", slog.String("error", err.Error()))
		counter = tokens.NewEstimator()
	} else {
		counter = c
	}
	var budget *tokens.Budget
	if cfg.PromptBudgetTokens > 0 {
		budget = tokens.NewBudget(counter, cfg.PromptBudgetTokens)
	}

	return classifier.New(provider, classifier.Options{
		MaxTokens:           cfg.MaxTokens,
		Temperature:         cfg.Temperature,
		ClosedSetConfidence: cfg.ClosedSetConfidence,
		OpenSetConfidence:   cfg.OpenSetConfidence,
		Budget:              budget,
		Logger:              logger,
	}), nil
}

func openJournal(cfg config.StorageConfig) (storage.Journal, error) {
	switch cfg.Type {
	case "sqlite":
		s, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		return s, nil
	case "memory":
		return memory.New(0), nil
	default:
		return storage.Nop{}, nil
	}
}

func parseLevel(s string) slog.Level {
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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/derby/internal/adapters/automation"
	"github.com/okian/derby/internal/adapters/broker"
	"github.com/okian/derby/internal/adapters/http/api"
	"github.com/okian/derby/internal/adapters/media"
	"github.com/okian/derby/internal/adapters/repository"
	"github.com/okian/derby/internal/app"
	"github.com/okian/derby/internal/config"
	"github.com/okian/derby/internal/domain/narration"
	"github.com/okian/derby/internal/pipeline"
	"github.com/okian/derby/pkg/logger"
	"github.com/okian/derby/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	// We collect our own custom system metrics instead.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input).
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open store", logger.Error(err))
		return
	}
	defer cleanup()

	bus := broker.New()
	defer bus.Close()

	provider := narration.NewProvider(cfg.NarrationBackend,
		narration.WithEndpoint(cfg.NarrationURL),
		narration.WithAPIKey(cfg.NarrationAPIKey),
		narration.WithModel(cfg.NarrationModel),
	)
	pipe := pipeline.New(provider, store, bus,
		pipeline.WithChainBuffer(cfg.ChainBuffer),
	)

	uploader := media.New(
		media.WithUploadURL(cfg.MediaUploadURL),
		media.WithLocalDir(cfg.MediaDir),
	)

	var target automation.Target
	if cfg.TargetURL != "" {
		target = automation.NewHTTPTarget(cfg.TargetURL)
	} else {
		log.Warn(ctx, "no target_url configured; races will be simulated")
	}
	worker := automation.NewWorker(target, pipe,
		automation.WithDuration(cfg.RaceDurationSec),
		automation.WithPollInterval(time.Duration(cfg.PollIntervalMS)*time.Millisecond),
		automation.WithPollCap(cfg.PollCap),
		automation.WithPublisher(bus),
		automation.WithMedia(uploader),
	)

	svc, err := app.New(
		app.WithStore(store),
		app.WithBroker(bus),
		app.WithWorker(worker),
		app.WithPipeline(pipe),
	)
	if err != nil {
		log.Error(ctx, "failed to build controller", logger.Error(err))
		return
	}

	// Start system metrics updater.
	go startSystemMetricsUpdater(ctx)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	apiServer := api.NewServer(svc, bus,
		api.WithHeartbeat(time.Duration(cfg.HeartbeatSec)*time.Second),
	)
	apiServer.Register(mux)

	// No WriteTimeout: the live stream stays open for the whole race.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// openStore selects Postgres when a database URL is configured, the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Get().Warn(ctx, "no database_url configured; state is in-memory only")
		return repository.NewMemStore(), func() {}, nil
	}
	pg, err := repository.NewPGStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates
// system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

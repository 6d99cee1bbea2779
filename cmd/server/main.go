package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/config"
	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/engine/command"
	"github.com/gonewx/nextalk-sub001/internal/engine/deepgram"
	"github.com/gonewx/nextalk-sub001/internal/engine/energy"
	"github.com/gonewx/nextalk-sub001/internal/engine/remote"
	"github.com/gonewx/nextalk-sub001/internal/gateway"
	"github.com/gonewx/nextalk-sub001/internal/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	observability.Version = config.GetEnv("SERVICE_VERSION", observability.Version)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("engine_backend", cfg.EngineBackend).
		Str("vad_backend", cfg.VADBackend).
		Str("refined_backend", cfg.RefinedBackend).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("NexTalk recognition gateway starting")

	shutdownTracing, err := observability.InitTracing(cfg.TraceStdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, closeEngine, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize recognition engine")
	}
	defer closeEngine()
	logger.Info().Bool("punctuation", eng.HasPunctuator()).Msg("Recognition engine configured")

	var managerOpts []gateway.ManagerOption
	if cfg.HotwordsFile != "" {
		hotwords, err := config.LoadHotwords(cfg.HotwordsFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.HotwordsFile).Msg("Failed to load hotwords")
		}
		logger.Info().Int("count", len(hotwords)).Msg("Loaded default hotwords")
		managerOpts = append(managerOpts, gateway.WithDefaultHotwords(hotwords))
	}
	manager := gateway.NewManager(cfg, eng, managerOpts...)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", manager.HandleWS)
	r.Get("/", manager.HandleWS)
	r.Get("/health", observability.HealthCheckHandler(manager.Sessions))
	r.Get("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"engine": eng.Ready,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No read/write timeouts: WebSocket sessions are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	// Hijacked WebSocket connections are not tracked by the HTTP server.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Sessions did not finish in time")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Tracing shutdown failed")
	}

	logger.Info().Msg("Server exited gracefully")
}

// buildEngine assembles the configured backends behind one shared handle.
func buildEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*engine.Shared, func(), error) {
	closeFn := func() {}
	composite := &engine.Composite{}

	switch cfg.EngineBackend {
	case config.BackendGRPC:
		client, err := remote.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = client.Close() }

		if err := client.WaitReady(ctx); err != nil {
			// The sidecar may come up later; /ready reports it until then.
			logger.Warn().Err(err).Str("url", cfg.EngineURL).Msg("Recognition engine not ready yet")
		}

		composite.Boundary = client
		composite.Streaming = client
		composite.Refined = client
		if cfg.PunctuationEnabled {
			composite.Punctuation = client
		}

	case config.BackendCommand:
		rec, err := command.New(cfg.RecognizerCommand)
		if err != nil {
			return nil, nil, err
		}
		composite.Streaming = rec
		composite.Refined = rec
	}

	if cfg.VADBackend == config.BackendEnergy {
		composite.Boundary = energy.New(&audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		})
	}

	switch cfg.RefinedBackend {
	case config.BackendDeepgram:
		composite.Refined = deepgram.New(cfg)
	case config.BackendCommand:
		rec, err := command.New(cfg.RecognizerCommand)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		composite.Refined = rec
	}

	if err := composite.Validate(); err != nil {
		closeFn()
		return nil, nil, err
	}

	opts := []engine.Option{
		engine.WithWaitWarning(cfg.EngineWaitWarn()),
		engine.WithLogger(observability.WithComponent("engine")),
	}
	if p := composite.Punctuator(); p != nil {
		opts = append(opts, engine.WithPunctuator(p))
	}
	return engine.NewShared(composite, opts...), closeFn, nil
}

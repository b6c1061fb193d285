package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/live-transcriber/internal/config"
	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/resilience"
	"github.com/lexiqai/live-transcriber/internal/sink"
	"github.com/lexiqai/live-transcriber/internal/transport"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("engine", cfg.Engine).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Live Transcriber Service starting")

	engine, err := newEngine(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create decoder engine")
	}
	dec := decoder.New(engine, logger)
	logger.Info().Str("engine", dec.EngineName()).Msg("Decoder engine ready")

	checks := map[string]observability.HealthCheckFunc{
		"decoder": func(ctx context.Context) (bool, error) {
			if err := dec.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}

	// Optional transcript sink
	var forwarder transport.EventForwarder
	if cfg.RedisURL != "" {
		redisSink, err := sink.NewRedisSink(cfg.RedisURL, cfg.RedisStream, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Redis sink")
		}
		defer redisSink.Close()

		forwarder = redisSink
		checks["redis"] = func(ctx context.Context) (bool, error) {
			if err := redisSink.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
		logger.Info().Str("stream", redisSink.Stream()).Msg("Redis transcript sink enabled")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", observability.HealthCheckHandler(version))
	r.Get("/ready", observability.ReadinessHandler(version, checks))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	r.Get("/v1/recognize", transport.NewHandler(cfg, dec, forwarder, observability.ComponentLogger("transport")).ServeHTTP)

	// Create HTTP server with timeouts; websocket connections are hijacked
	// and not subject to them
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/v1/recognize", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health service listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		watchEngine(ctx, dec, healthServer, logger)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server...")

		healthServer.Shutdown()

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}

	logger.Info().Msg("Server exited gracefully")
}

// newEngine builds the configured decoder engine
func newEngine(cfg *config.Config, logger zerolog.Logger) (decoder.Engine, error) {
	catalog, err := decoder.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.ModelCatalog).Strs("models", catalog.Names()).Msg("Model catalog loaded")

	switch cfg.Engine {
	case "native":
		return decoder.NewNativeEngine(catalog, logger)
	default:
		breaker := resilience.NewCircuitBreaker("vosk-server",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
		breaker.OnStateChange(func(name string, state resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(state))
			logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
		})

		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.RetryMaxAttempts
		retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

		return decoder.NewVoskServerEngine(catalog, decoder.VoskServerConfig{
			DefaultURL: cfg.VoskServerURL,
			Timeout:    time.Duration(cfg.EngineTimeout) * time.Second,
			Retry:      retry,
			Breaker:    breaker,
		}, logger), nil
	}
}

// watchEngine mirrors engine reachability into the gRPC health service
func watchEngine(ctx context.Context, dec *decoder.Decoder, hs *health.Server, logger zerolog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := dec.Ping(pingCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			logger.Info().Err(err).Str("status", status.String()).Msg("Decoder engine health changed")
			last = status
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus("live_transcriber.Recognizer", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

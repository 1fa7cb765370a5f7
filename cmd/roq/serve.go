package main

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/M2oDA-Lab/roq/cmd/roq/config"
	"github.com/M2oDA-Lab/roq/cmd/roq/middleware"
	"github.com/M2oDA-Lab/roq/pkg/cache"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/converter"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/memory"
	"github.com/M2oDA-Lab/roq/pkg/infrastructure/metrics"
	"github.com/M2oDA-Lab/roq/pkg/repositories/arrowipc"
	"github.com/M2oDA-Lab/roq/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the processed splits over Arrow Flight",
		Long: `Serve the split artifacts of one dataset over Arrow Flight. A DoGet ticket
is the split name (train, val, test, or all for the unsplit artifact).

Example:
  roq serve --files-id imdb --address 0.0.0.0:8815
  roq serve --config ./roq.yaml --auth --auth-type jwt --jwt-secret $SECRET`,
		RunE: runServe,
	}

	fs := cmd.Flags()
	fs.String("address", "0.0.0.0:8815", "server listen address")
	fs.Bool("metrics", false, "enable Prometheus metrics")
	fs.String("metrics-address", ":9090", "metrics server address")
	fs.Bool("tls", false, "enable TLS")
	fs.String("tls-cert", "", "TLS certificate file")
	fs.String("tls-key", "", "TLS key file")
	fs.Bool("auth", false, "enable authentication")
	fs.String("auth-type", "bearer", "authentication type (basic, bearer, jwt)")
	fs.String("jwt-secret", "", "HMAC secret for JWT authentication")
	fs.String("jwt-issuer", "", "required JWT issuer")
	fs.String("jwt-audience", "", "required JWT audience")
	fs.Int64("cache-size", 512*1024*1024, "maximum bytes of split records kept in memory")
	fs.Duration("cache-ttl", 10*time.Minute, "how long loaded splits stay cached")
	fs.Bool("health", true, "enable health checks")
	fs.Bool("reflection", true, "enable gRPC reflection")
	fs.Int64("max-message-size", 64*1024*1024, "maximum message size in bytes")
	fs.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("files_id", cfg.Dataset.FilesID).
		Msg("Starting split server")

	var collector metrics.Collector = metrics.NewNoOpCollector()
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusCollector()
		collector = prom
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Address, prom.Registry())
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start metrics server")
			}
		}()
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping metrics server")
			}
		}()
	}

	allocator := memory.Default()
	conv := converter.NewSampleConverter(allocator, logger)
	artifacts := arrowipc.NewArtifactRepository(cfg.ProcessedDir(), allocator, conv, logger)

	records := cache.NewMemoryCache(
		cache.DefaultConfig().
			WithMaxSize(cfg.Serve.Cache.MaxSize).
			WithTTL(cfg.Serve.Cache.TTL).
			WithStats(cfg.Serve.Cache.EnableStats),
		artifacts.LoadRecords,
	)
	defer records.Close()

	srv := server.NewSplitServer(cfg.Dataset.FilesID, artifacts, records, allocator, logger, collector)

	grpcServer, err := setupGRPCServer(cfg, srv, collector, logger)
	if err != nil {
		return fmt.Errorf("failed to setup gRPC server: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Serve.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", listener.Addr().String()).
			Bool("tls", cfg.Serve.TLS.Enabled).
			Bool("auth", cfg.Serve.Auth.Enabled).
			Msg("Server listening")
		if err := grpcServer.Serve(listener); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	}

	logger.Info().Dur("timeout", cfg.Serve.ShutdownTimeout).Msg("Starting graceful shutdown")
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.Serve.ShutdownTimeout):
		logger.Warn().Msg("Graceful shutdown timed out, closing open streams")
		grpcServer.Stop()
	}

	stats := records.Stats()
	logger.Info().
		Uint64("cache_hits", stats.Hits).
		Uint64("cache_misses", stats.Misses).
		Msg("Server shutdown complete")
	return nil
}

func setupGRPCServer(cfg *config.Config, srv *server.SplitServer, collector metrics.Collector, logger zerolog.Logger) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(int(cfg.Serve.MaxMessageSize)),
		grpc.MaxSendMsgSize(int(cfg.Serve.MaxMessageSize)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if cfg.Serve.TLS.Enabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.Serve.TLS.CertFile, cfg.Serve.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	opts = append(opts, middleware.ServerOptions(
		middleware.NewLoggingMiddleware(logger.With().Str("component", "logging_middleware").Logger()),
		middleware.NewMetricsMiddleware(collector),
		middleware.NewAuthMiddleware(cfg.Serve.Auth, logger.With().Str("component", "auth_middleware").Logger()),
	)...)

	grpcServer := grpc.NewServer(opts...)
	srv.Register(grpcServer)

	if cfg.Serve.Health {
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("arrow.flight.protocol.FlightService", grpc_health_v1.HealthCheckResponse_SERVING)
	}
	if cfg.Serve.Reflection {
		reflection.Register(grpcServer)
	}
	return grpcServer, nil
}

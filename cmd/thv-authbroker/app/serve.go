// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/handlers"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/runconfig"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/telemetry"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 90 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second

	// upstreamDiscoveryAttempts bounds OIDC discovery retries at startup.
	upstreamDiscoveryAttempts = 5
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization broker",
		Long: `Start the authorization broker.

The broker reads the configuration file given by --config, connects to its storage
backend, discovers the upstream identity provider and serves the OAuth endpoints
until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			return runServe(cmd.Context(), cfg, &env.OSReader{})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override server.listen (host:port)")
	return cmd
}

// runServe binds the listener first so that a :0 port in the issuer can be
// resolved before the authorization core is built.
func runServe(ctx context.Context, cfg *runconfig.RunConfig, envReader env.Reader) error {
	listener, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	srv, err := buildServer(ctx, cfg, port, envReader)
	if err != nil {
		_ = listener.Close()
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Close(closeCtx); err != nil {
			slog.Warn("failed to release broker resources", "error", err)
		}
	}()

	httpServer := &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	slog.Info("starting authorization broker",
		"address", listener.Addr().String(),
		"issuer", srv.config.Issuer,
		"storage", storageName(cfg),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down authorization broker")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// server holds the assembled broker and the resources it must release.
type server struct {
	config        authserver.Config
	handler       http.Handler
	store         storage.Storage
	meterProvider *sdkmetric.MeterProvider
}

// buildServer wires storage, signer, upstream bridge, telemetry and the
// HTTP transport from cfg.
func buildServer(ctx context.Context, cfg *runconfig.RunConfig, listenPort int, envReader env.Reader) (*server, error) {
	core, err := runconfig.BuildConfig(cfg, listenPort)
	if err != nil {
		return nil, err
	}

	sign, err := runconfig.BuildSigner(cfg, core, envReader)
	if err != nil {
		return nil, err
	}

	upstreamCfg, err := runconfig.BuildUpstreamConfig(cfg, core, envReader)
	if err != nil {
		return nil, err
	}
	upstreamClient, err := runconfig.BuildUpstreamHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	bridge, err := backoff.Retry(ctx, func() (upstream.Bridge, error) {
		b, err := upstream.NewProvider(ctx, upstreamCfg, upstream.WithHTTPClient(upstreamClient))
		if err != nil {
			slog.Debug("upstream provider not ready", "error", err)
		}
		return b, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(upstreamDiscoveryAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream provider: %w", err)
	}

	storageCfg, err := runconfig.BuildStorageConfig(cfg, envReader)
	if err != nil {
		return nil, err
	}
	store, err := storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	srv := &server{config: core, store: store}
	if err := srv.assemble(cfg, core, sign, bridge); err != nil {
		_ = srv.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return srv, nil
}

func (s *server) assemble(cfg *runconfig.RunConfig, core authserver.Config, sign signer.Signer, bridge upstream.Bridge) error {
	logger := slog.Default()

	service, err := authserver.New(core, s.store, sign, bridge, authserver.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create authorization service: %w", err)
	}

	opts := handlers.Options{
		Logger:            logger,
		RegisterRateLimit: rate.Limit(cfg.Server.RegisterRateLimit),
		RegisterBurst:     cfg.Server.RegisterBurst,
		HealthCheck:       s.store.Ping,
	}
	if jwks, ok := sign.(signer.JWKSProvider); ok {
		opts.JWKS = jwks
	}

	var meterProvider metric.MeterProvider = metricnoop.NewMeterProvider()
	if cfg.Metrics.Enabled {
		mp, metricsHandler, err := telemetry.NewPrometheusMeterProvider()
		if err != nil {
			return err
		}
		s.meterProvider = mp
		meterProvider = mp
		opts.MetricsHandler = metricsHandler
	}

	authorizer, err := telemetry.Monitor(service, meterProvider, otel.GetTracerProvider())
	if err != nil {
		return fmt.Errorf("failed to instrument authorization service: %w", err)
	}

	s.handler = handlers.NewRouter(authorizer, opts)
	return nil
}

// Close flushes metrics and closes storage.
func (s *server) Close(ctx context.Context) error {
	var errs []error
	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

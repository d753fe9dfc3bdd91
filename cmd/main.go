// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/udpcap"
	"github.com/absmach/udpcap/pkg/capture"
	"github.com/absmach/udpcap/pkg/delay"
	pkgerrors "github.com/absmach/udpcap/pkg/errors"
	"github.com/absmach/udpcap/pkg/health"
	"github.com/absmach/udpcap/pkg/metrics"
	"github.com/absmach/udpcap/pkg/relay"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2

	metricsShutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(start(os.Args[1:], os.Stderr))
}

// start runs udpcap with the given command-line arguments and returns the
// process exit status.
func start(args []string, stderr io.Writer) int {
	// .env file is optional
	dotenvErr := godotenv.Load()

	cfg, err := udpcap.NewConfig(env.Options{Prefix: udpcap.EnvPrefix})
	if err != nil {
		fmt.Fprintf(stderr, "failed to parse config: %v\n", err)
		return exitConfig
	}

	fs := flag.NewFlagSet("udpcap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	if dotenvErr != nil {
		logger.Debug("no .env file found, using environment variables and flags")
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitConfig
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Error("failed to start udpcap", slog.String("error", err.Error()))
		return exitCode(err)
	}
	defer svc.Close()

	if err := svc.Run(context.Background()); err != nil {
		logger.Error(fmt.Sprintf("udpcap terminated with error: %s", err))
		return exitCode(err)
	}
	logger.Info("udpcap stopped")
	return exitOK
}

// exitCode maps a startup or runtime error to the process exit status.
// Interruption and reaching max packets are not errors.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case pkgerrors.Is(err, pkgerrors.ErrInvalidConfig),
		pkgerrors.Is(err, pkgerrors.ErrInvalidAddress),
		pkgerrors.Is(err, pkgerrors.ErrInvalidDistribution):
		return exitConfig
	default:
		return exitFailure
	}
}

// service owns the resources of one udpcap process.
type service struct {
	cfg     udpcap.Config
	logger  *slog.Logger
	out     io.WriteCloser
	conn    *net.UDPConn
	relay   *relay.Relay
	metrics *metrics.Metrics
}

// newService resolves addresses, opens the capture log and binds the relay
// socket. Nothing is opened when an address is invalid.
func newService(cfg udpcap.Config, logger *slog.Logger) (*service, error) {
	listenAddr, err := udpcap.ResolveAddress(cfg.Listen)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "listen address")
	}
	upstreamAddr, err := udpcap.ResolveUpstream(cfg.Upstream)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "upstream address")
	}
	delayCfg, err := cfg.DelayConfig()
	if err != nil {
		return nil, err
	}

	out, err := capture.Open(cfg.LogPath)
	if err != nil {
		return nil, err
	}

	network := udpcap.ListenNetwork(listenAddr)
	conn, err := net.ListenUDP(network, listenAddr)
	if err != nil {
		out.Close()
		return nil, pkgerrors.Wrap(err, fmt.Sprintf("failed to listen on %s", cfg.Listen))
	}

	var sink capture.Sink = capture.NewJSONSink(out)
	if cfg.MirrorEvents {
		sink = capture.Multi(sink, capture.NewLogSink(logger))
	}

	var m *metrics.Metrics
	if cfg.MetricsAddress != "" {
		m = metrics.New("udpcap")
	}

	r := relay.New(relay.Config{
		Upstream:        upstreamAddr.AddrPort(),
		MaxPackets:      cfg.MaxPackets,
		DrainOnShutdown: cfg.DrainOnShutdown,
		DrainTimeout:    cfg.DrainTimeout,
		Metrics:         m,
		Logger:          logger,
	}, conn, delay.NewSampler(delayCfg, delay.NewSource(cfg.Seed)), sink)

	logger.Info("udpcap starting",
		slog.String("listen", conn.LocalAddr().String()),
		slog.String("network", network),
		slog.String("upstream", upstreamAddr.String()),
		slog.String("log", cfg.LogPath),
		slog.Float64("delay_ms", delayCfg.BaseMs),
		slog.Float64("jitter_ms", delayCfg.JitterMs),
		slog.String("distribution", string(delayCfg.Distribution)))

	return &service{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		conn:    conn,
		relay:   r,
		metrics: m,
	}, nil
}

// Run blocks until the relay stops, a signal arrives or ctx is done.
func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Max packets ends the process just like a signal does.
		defer cancel()
		return s.relay.Run(ctx)
	})

	if s.metrics != nil {
		checker := newHealthChecker(s.relay)
		g.Go(func() error {
			return serveMetrics(ctx, s.cfg.MetricsAddress, s.metrics, checker, s.logger)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, s.logger)
	})

	return g.Wait()
}

// Close releases the socket and the capture log.
func (s *service) Close() error {
	return errors.Join(s.conn.Close(), s.out.Close())
}

func newHealthChecker(r *relay.Relay) *health.Checker {
	checker := health.NewChecker(time.Second)
	checker.RegisterStatus("relay", r.Status)
	return checker
}

// setupLogger creates a structured logger with the specified level and format.
// Logs go to w, never stdout, so stdout stays free for the capture stream.
func setupLogger(level, format string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// serveMetrics serves Prometheus metrics and health probes until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting metrics server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

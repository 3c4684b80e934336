package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/peeraddr"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/stats"
)

// run serves on ln until ctx is cancelled or the HTTP server fails, then
// shuts down gracefully within cfg.ShutdownTimeout.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, ln net.Listener, build httpserver.BuildInfo) error {
	m := metrics.New()

	var (
		recorder *stats.Recorder
		feedback httpserver.FeedbackSink
	)
	if cfg.Stats.Enabled() {
		store, err := stats.Open(ctx, string(cfg.Stats.Driver), cfg.Stats.URL)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("open stats store: %w", err)
		}
		defer store.Close()
		recorder = stats.NewRecorder(store, stats.RecorderOptions{
			QueueSize: cfg.Stats.QueueSize,
			Logger:    logger,
			Metrics:   m,
		})
		feedback = recorder
	}

	resolver := peeraddr.NewResolver(cfg.IPv6PrefixGroups, cfg.TrustedProxyHeaders, logger)
	reg := registry.New(registry.Options{
		Logger:   logger,
		Metrics:  m,
		MaxUsers: cfg.MaxUsers,
	})

	var sig *signaling.Server
	srv, err := httpserver.New(cfg, logger, build, httpserver.Deps{
		Metrics:  m,
		Feedback: feedback,
		Resolver: resolver,
		Gauges: map[string]metrics.GaugeFunc{
			"connected_users": func() int { return sig.ConnectedUsers() },
			"active_flights": func() int {
				_, flights := reg.Stats()
				return flights
			},
		},
	})
	if err != nil {
		_ = ln.Close()
		return err
	}

	sig = signaling.NewServer(signaling.Config{
		Registry:                 reg,
		Resolver:                 resolver,
		Origins:                  srv.Origins(),
		Stats:                    recorder,
		Metrics:                  m,
		Logger:                   logger,
		RelayRequireSharedFlight: cfg.RelayRequireSharedFlight,
		IdleTimeout:              cfg.SignalingWSIdleTimeout,
		PingInterval:             cfg.SignalingWSPingInterval,
		MaxMessageBytes:          cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond:     cfg.MaxSignalingMessagesPerSecond,
		SendQueueSize:            cfg.SignalingSendQueueSize,
	})
	sig.RegisterRoutes(srv.Mux())

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	go sig.RunSweeper(bgCtx, cfg.SweepInterval)
	go pruneLimiters(bgCtx, srv, cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sig.Close()
		closeRecorder(recorder, cfg.ShutdownTimeout, logger)
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()
	cancelBackground()
	closeRecorder(recorder, cfg.ShutdownTimeout, logger)

	if err := <-errCh; err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		return fmt.Errorf("http server exited after shutdown: %w", err)
	}
	return nil
}

func closeRecorder(r *stats.Recorder, timeout time.Duration, logger *slog.Logger) {
	if r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		logger.Warn("stats recorder did not drain before shutdown", "err", err)
	}
}

func pruneLimiters(ctx context.Context, srv *httpserver.Server, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := srv.PruneLimiters(); n > 0 {
				slog.Debug("pruned feedback rate limit buckets", "count", n)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/httpserver"
)

var (
	// Injected with -ldflags "-X main.buildCommit=... -X main.buildTime=...".
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting flight-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"sweep_interval", cfg.SweepInterval,
		"relay_require_shared_flight", cfg.RelayRequireSharedFlight,
		"max_users", cfg.MaxUsers,
		"stats_driver", cfg.Stats.Driver,
		"stats_enabled", cfg.Stats.Enabled(),
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: commit, BuildTime: built}); err != nil {
		logger.Error("flight-signaling exited", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// VCS stamps from the toolchain fill in whatever ldflags left empty.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}

package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if !cfg.RelayRequireSharedFlight {
		logger.Warn("startup security warning: RELAY_REQUIRE_SHARED_FLIGHT=false lets any connected user send offers and candidates to any other user",
			"warning_code", "relay_shared_flight_disabled",
			"relay_require_shared_flight", cfg.RelayRequireSharedFlight,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxUsers <= 0 {
		logger.Warn("startup security warning: MAX_USERS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_users_unlimited_in_prod",
			"max_users", cfg.MaxUsers,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.Stats.Enabled() {
		logger.Warn("startup warning: STATS_DATABASE_URL is unset while --mode=prod (daily stats and feedback are not persisted)",
			"warning_code", "stats_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /api/v1/ice and /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}
}

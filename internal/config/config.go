package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/peeraddr"
)

const (
	envVarEnvFile         = "FLIGHT_SIGNALING_ENV_FILE"
	envVarListenAddr      = "FLIGHT_SIGNALING_LISTEN_ADDR"
	envVarMode            = "FLIGHT_SIGNALING_MODE"
	envVarLogFormat       = "FLIGHT_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "FLIGHT_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "FLIGHT_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Registry and proximity.
	envVarSweepInterval            = "SWEEP_INTERVAL"
	envVarIPv6PrefixGroups         = "IPV6_PREFIX_GROUPS"
	envVarTrustedProxyHeaders      = "TRUSTED_PROXY_HEADERS"
	envVarRelayRequireSharedFlight = "RELAY_REQUIRE_SHARED_FLIGHT"
	envVarMaxUsers                 = "MAX_USERS"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueSize        = "SIGNALING_SEND_QUEUE_SIZE"

	// Feedback endpoint.
	envVarFeedbackRateLimit  = "FEEDBACK_RATE_LIMIT"
	envVarFeedbackRateWindow = "FEEDBACK_RATE_WINDOW"

	// Daily stats store.
	envVarStatsDatabaseDriver = "STATS_DATABASE_DRIVER"
	envVarStatsDatabaseURL    = "STATS_DATABASE_URL"
	envVarStatsQueueSize      = "STATS_QUEUE_SIZE"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	DefaultEnvFile                       = ".env"
	DefaultListenAddr                    = "127.0.0.1:5500"
	DefaultShutdown                      = 15 * time.Second
	DefaultMode                     Mode = ModeDev
	DefaultSweepInterval                 = 120 * time.Second
	DefaultRelayRequireSharedFlight      = true

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueSize        = 64

	DefaultFeedbackRateLimit  = 5
	DefaultFeedbackRateWindow = 10 * time.Minute

	DefaultStatsDriver    = StatsDriverSQLite
	DefaultStatsQueueSize = 256

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "flight"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type StatsDriver string

const (
	StatsDriverSQLite   StatsDriver = "sqlite"
	StatsDriverPostgres StatsDriver = "postgres"
)

type StatsConfig struct {
	Driver StatsDriver
	// URL is a DSN for Driver. Empty disables persistence.
	URL       string
	QueueSize int
}

func (c StatsConfig) Enabled() bool { return c.URL != "" }

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return c.SharedSecret != ""
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins is the raw browser origin allowlist. Empty means
	// same-host only.
	AllowedOrigins []string

	SweepInterval    time.Duration
	IPv6PrefixGroups int
	// TrustedProxyHeaders lists client-address headers in priority order.
	// Empty means only the socket address is used.
	TrustedProxyHeaders []string
	// RelayRequireSharedFlight restricts offer/answer/candidate relays to
	// users in the same flight.
	RelayRequireSharedFlight bool
	// MaxUsers caps concurrent signaling connections. Zero means unlimited.
	MaxUsers int

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueSize        int

	FeedbackRateLimit  int
	FeedbackRateWindow time.Duration

	Stats StatsConfig

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It does not
// fail startup: signaling works without ICE servers, but /readyz reports it.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// Load reads configuration from the environment (optionally seeded from a
// .env file) and applies command-line overrides from args.
func Load(args []string) (Config, error) {
	path := DefaultEnvFile
	if v, ok := os.LookupEnv(envVarEnvFile); ok && v != "" {
		path = v
	}
	fileValues, err := readEnvFile(path)
	if err != nil {
		return Config{}, err
	}
	return load(layeredLookup(os.LookupEnv, fileValues), args)
}

// readEnvFile returns the values from a dotenv file. A missing file is not an
// error.
func readEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

// layeredLookup prefers the process environment over values from a file.
func layeredLookup(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	trustedProxyHeadersStr := envOrDefault(lookup, envVarTrustedProxyHeaders, strings.Join(peeraddr.DefaultHeaders, ","))
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	statsDriverStr := envOrDefault(lookup, envVarStatsDatabaseDriver, string(DefaultStatsDriver))
	statsURL := envOrDefault(lookup, envVarStatsDatabaseURL, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := envDurationOrDefault(lookup, envVarSweepInterval, DefaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	feedbackRateWindow, err := envDurationOrDefault(lookup, envVarFeedbackRateWindow, DefaultFeedbackRateWindow)
	if err != nil {
		return Config{}, err
	}

	ipv6PrefixGroups, err := envIntOrDefault(lookup, envVarIPv6PrefixGroups, peeraddr.DefaultIPv6PrefixGroups)
	if err != nil {
		return Config{}, err
	}
	maxUsers, err := envIntOrDefault(lookup, envVarMaxUsers, 0)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	signalingSendQueueSize, err := envIntOrDefault(lookup, envVarSignalingSendQueueSize, DefaultSignalingSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	feedbackRateLimit, err := envIntOrDefault(lookup, envVarFeedbackRateLimit, DefaultFeedbackRateLimit)
	if err != nil {
		return Config{}, err
	}
	statsQueueSize, err := envIntOrDefault(lookup, envVarStatsQueueSize, DefaultStatsQueueSize)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}
	relayRequireSharedFlight, err := envBoolOrDefault(lookup, envVarRelayRequireSharedFlight, DefaultRelayRequireSharedFlight)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("flight-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", envLogFormat, "Log format: text or json (default depends on mode)")
	fs.StringVar(&logLevelStr, "log-level", envLogLevel, "Log level: debug, info, warn, error (default depends on mode)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.DurationVar(&sweepInterval, "sweep-interval", sweepInterval, "Interval between stale flight sweeps (env "+envVarSweepInterval+")")
	fs.IntVar(&ipv6PrefixGroups, "ipv6-prefix-groups", ipv6PrefixGroups, "Leading IPv6 groups used to group nearby users (env "+envVarIPv6PrefixGroups+")")
	fs.StringVar(&trustedProxyHeadersStr, "trusted-proxy-headers", trustedProxyHeadersStr, "Comma-separated client address headers in priority order, or \"none\" (env "+envVarTrustedProxyHeaders+")")
	fs.BoolVar(&relayRequireSharedFlight, "relay-require-shared-flight", relayRequireSharedFlight, "Only relay signaling messages between members of the same flight (env "+envVarRelayRequireSharedFlight+")")
	fs.IntVar(&maxUsers, "max-users", maxUsers, "Maximum concurrent signaling connections (0 = unlimited)")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close signaling sockets idle for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Ping interval for signaling sockets (env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Maximum inbound signaling frame size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Inbound signaling messages/sec per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&signalingSendQueueSize, "signaling-send-queue-size", signalingSendQueueSize, "Outbound frames buffered per connection (env "+envVarSignalingSendQueueSize+")")

	fs.IntVar(&feedbackRateLimit, "feedback-rate-limit", feedbackRateLimit, "Feedback submissions per client IP per window (env "+envVarFeedbackRateLimit+")")
	fs.DurationVar(&feedbackRateWindow, "feedback-rate-window", feedbackRateWindow, "Feedback rate limit window (env "+envVarFeedbackRateWindow+")")

	fs.StringVar(&statsDriverStr, "stats-database-driver", statsDriverStr, "Stats database driver: sqlite or postgres (env "+envVarStatsDatabaseDriver+")")
	fs.StringVar(&statsURL, "stats-database-url", statsURL, "Stats database DSN; empty disables persistence (env "+envVarStatsDatabaseURL+")")
	fs.IntVar(&statsQueueSize, "stats-queue-size", statsQueueSize, "Buffered stats writes before dropping (env "+envVarStatsQueueSize+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	// The log defaults follow the final mode, so `--mode prod` alone switches
	// to JSON logs.
	if !envLogFormatSet && logFormatStr == "" {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && logLevelStr == "" {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envVarListenAddr)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if sweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSweepInterval)
	}
	if ipv6PrefixGroups < 1 || ipv6PrefixGroups > 8 {
		return Config{}, fmt.Errorf("%s must be between 1 and 8", envVarIPv6PrefixGroups)
	}
	if maxUsers < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0", envVarMaxUsers)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 || signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s must be > 0 and less than %s", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if signalingSendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingSendQueueSize)
	}
	if feedbackRateLimit <= 0 || feedbackRateWindow <= 0 {
		return Config{}, fmt.Errorf("%s and %s must be > 0", envVarFeedbackRateLimit, envVarFeedbackRateWindow)
	}
	if statsQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarStatsQueueSize)
	}
	statsDriver, err := parseStatsDriver(statsDriverStr)
	if err != nil {
		return Config{}, err
	}
	if turnRESTTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
	}
	if strings.Contains(turnRESTUsernamePrefix, ":") {
		return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		SweepInterval:            sweepInterval,
		IPv6PrefixGroups:         ipv6PrefixGroups,
		TrustedProxyHeaders:      parseHeaderList(trustedProxyHeadersStr),
		RelayRequireSharedFlight: relayRequireSharedFlight,
		MaxUsers:                 maxUsers,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SignalingSendQueueSize:        signalingSendQueueSize,

		FeedbackRateLimit:  feedbackRateLimit,
		FeedbackRateWindow: feedbackRateWindow,

		Stats: StatsConfig{
			Driver:    statsDriver,
			URL:       statsURL,
			QueueSize: statsQueueSize,
		},
		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}

	iceServers, err := parseICEServersFromValues(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
		cfg.TURNREST.Enabled(),
	)
	if err != nil {
		cfg.iceConfigErr = err
		cfg.ICEServers = []webrtc.ICEServer{}
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseStatsDriver(raw string) (StatsDriver, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatsDriverSQLite), "sqlite3":
		return StatsDriverSQLite, nil
	case string(StatsDriverPostgres), "postgresql", "pg":
		return StatsDriverPostgres, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarStatsDatabaseDriver, raw, StatsDriverSQLite, StatsDriverPostgres)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	entries := splitCommaSeparated(raw)
	if len(entries) == 0 {
		return nil, nil
	}
	if _, invalid := origin.NewPolicy(entries); len(invalid) > 0 {
		return nil, fmt.Errorf("invalid %s entries: %q", envVarAllowedOrigins, invalid)
	}
	return entries, nil
}

// parseHeaderList returns canonicalized header names. "none" disables header
// based address resolution.
func parseHeaderList(raw string) []string {
	if strings.EqualFold(strings.TrimSpace(raw), "none") {
		return []string{}
	}
	parts := splitCommaSeparated(raw)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, http.CanonicalHeaderKey(p))
	}
	return out
}

package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedLog(nil), *records...)
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.groups = append(append([]string(nil), h.groups...), name)
	return &nh
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_SafeDefaults(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                     config.ModeProd,
		RelayRequireSharedFlight: true,
		MaxUsers:                 1000,
		Stats:                    config.StatsConfig{Driver: config.StatsDriverSQLite, URL: "file:stats.db"},
	}
	logStartupSecurityWarnings(logger, cfg)

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("warnings=%v, want none", got)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                     config.ModeDev,
		AllowedOrigins:           []string{"https://flights.example", "*"},
		RelayRequireSharedFlight: true,
	}
	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_RelaySharedFlightDisabled(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev})

	rec, ok := warningCodes(records())["relay_shared_flight_disabled"]
	if !ok {
		t.Fatalf("expected warning_code=relay_shared_flight_disabled, got %#v", records())
	}
	if rec.attrs["relay_require_shared_flight"] != false {
		t.Fatalf("relay_require_shared_flight attr = %#v, want false", rec.attrs["relay_require_shared_flight"])
	}
}

func TestStartupSecurityWarnings_ProdWithoutLimitsOrStats(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeProd, RelayRequireSharedFlight: true})

	codes := warningCodes(records())
	for _, want := range []string{"max_users_unlimited_in_prod", "stats_disabled_in_prod"} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("missing warning_code=%s in %#v", want, records())
		}
	}
}

func TestStartupSecurityWarnings_DevSkipsProdChecks(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, RelayRequireSharedFlight: true})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("warnings=%v, want none in dev mode", got)
	}
}

func TestStartupSecurityWarnings_InvalidICEConfig(t *testing.T) {
	t.Setenv("FLIGHT_SIGNALING_ENV_FILE", t.TempDir()+"/missing.env")
	t.Setenv("FLIGHT_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["ice_config_invalid"]; !ok {
		t.Fatalf("expected warning_code=ice_config_invalid, got %#v", records())
	}
}

package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/stats"
)

type envelope struct {
	Type string          `json:"type"`
	Ack  string          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func readEnvelope(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestRun_ServesSignalingAndPersistsStats(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "stats.db")
	t.Setenv("FLIGHT_SIGNALING_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := config.Load([]string{
		"--stats-database-driver", "sqlite",
		"--stats-database-url", dbPath,
		"--shutdown-timeout", "5s",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	baseURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger, _ := newRecordingLogger()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: "test"})
	}()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if env := readEnvelope(t, ws); env.Type != "yourDetails" {
		t.Fatalf("first message type=%q, want yourDetails", env.Type)
	}

	if err := ws.WriteJSON(envelope{Type: "createFlight", Ack: "1"}); err != nil {
		t.Fatalf("write createFlight: %v", err)
	}
	var ack struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	for {
		env := readEnvelope(t, ws)
		if env.Type != "ack" {
			continue
		}
		if env.Ack != "1" {
			t.Fatalf("ack id=%q, want 1", env.Ack)
		}
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		break
	}
	if !ack.Success || len(ack.Code) != 6 {
		t.Fatalf("ack=%+v, want success with a 6 character code", ack)
	}

	for _, data := range []string{
		`{"filesShared":2,"Transferred":1.5}`,
		`{"filesShared":-3,"transferred":9}`,
	} {
		if err := ws.WriteJSON(envelope{Type: "updateStats", Data: json.RawMessage(data)}); err != nil {
			t.Fatalf("write updateStats: %v", err)
		}
	}
	if err := ws.WriteJSON(envelope{Type: "getNearbyUsers"}); err != nil {
		t.Fatalf("write getNearbyUsers: %v", err)
	}
	for readEnvelope(t, ws).Type != "nearbyUsers" {
	}

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"flight_signaling_connected_users 1", "flight_signaling_active_flights 1"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	resp, err = http.Post(baseURL+"/api/v1/feedback", "application/json", strings.NewReader(`{"message":"works great"}`))
	if err != nil {
		t.Fatalf("POST feedback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("feedback status=%d, want %d", resp.StatusCode, http.StatusCreated)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not return after cancel")
	}

	store, err := stats.Open(context.Background(), stats.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("reopen stats: %v", err)
	}
	defer store.Close()
	totals, err := store.Daily(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if totals.FlightsCreated != 1 || totals.UsersConnected != 1 {
		t.Fatalf("totals=%+v, want 1 flight and 1 user", totals)
	}
	if totals.FilesShared != 2 || totals.MBTransferred != 1.5 {
		t.Fatalf("totals=%+v, want 2 files and 1.5 MB", totals)
	}
}

func TestRun_StatsOpenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := config.Config{
		ShutdownTimeout: time.Second,
		SweepInterval:   time.Minute,
		Stats:           config.StatsConfig{Driver: "mysql", URL: "x"},
	}
	logger, _ := newRecordingLogger()
	if err := run(context.Background(), cfg, logger, ln, httpserver.BuildInfo{}); err == nil {
		t.Fatalf("run succeeded with an unsupported stats driver")
	}
	if _, err := ln.Accept(); err == nil {
		t.Fatalf("listener still open after failed startup")
	}
}

func TestResolveBuildInfo_PrefersInjectedValues(t *testing.T) {
	commit, built := resolveBuildInfo("abc123", "2026-01-02T03:04:05Z")
	if commit != "abc123" || built != "2026-01-02T03:04:05Z" {
		t.Fatalf("resolveBuildInfo=(%q, %q), want injected values", commit, built)
	}
}

package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		raw        string
		normalized string
		host       string
		ok         bool
	}{
		{raw: "HTTPS://Example.COM:443", normalized: "https://example.com", host: "example.com", ok: true},
		{raw: "http://localhost:5173/", normalized: "http://localhost:5173", host: "localhost:5173", ok: true},
		{raw: "http://[::1]:8080", normalized: "http://[::1]:8080", host: "[::1]:8080", ok: true},
		{raw: "null", normalized: "null", ok: true},
		{raw: "ftp://example.com"},
		{raw: "https://example.com/path"},
		{raw: "https://example.com/?q=1"},
		{raw: "https://user@example.com"},
		{raw: "https://example.com/#frag"},
		{raw: "https://example.com:0"},
		{raw: "https://example.com:99999"},
		{raw: ""},
	}
	for _, tc := range cases {
		normalized, host, ok := NormalizeHeader(tc.raw)
		if ok != tc.ok || normalized != tc.normalized || host != tc.host {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q,%v), want (%q,%q,%v)",
				tc.raw, normalized, host, ok, tc.normalized, tc.host, tc.ok)
		}
	}
}

func TestPolicy_Allows(t *testing.T) {
	p, invalid := NewPolicy([]string{"https://app.example.com", "https://*.flights.example", "null", "not a url"})
	if len(invalid) != 1 || invalid[0] != "not a url" {
		t.Fatalf("invalid=%v, want [not a url]", invalid)
	}

	cases := []struct {
		origin string
		want   bool
	}{
		{origin: "https://app.example.com", want: true},
		{origin: "https://APP.example.com:443", want: true},
		{origin: "http://app.example.com", want: false},
		{origin: "https://eu.flights.example", want: true},
		{origin: "https://a.b.flights.example", want: true},
		{origin: "https://flights.example", want: false},
		{origin: "http://eu.flights.example", want: false},
		{origin: "null", want: true},
		{origin: "https://evil.example", want: false},
	}
	for _, tc := range cases {
		normalized, host, ok := NormalizeHeader(tc.origin)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) failed", tc.origin)
		}
		if got := p.Allows(normalized, host, "relay.example.com"); got != tc.want {
			t.Fatalf("Allows(%q)=%v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestPolicy_DefaultSameHost(t *testing.T) {
	p, _ := NewPolicy(nil)
	if !p.Empty() {
		t.Fatalf("Empty=false, want true")
	}

	req := httptest.NewRequest("GET", "http://relay.example.com/ws", nil)
	req.Host = "relay.example.com"
	req.Header.Set("Origin", "https://relay.example.com")
	if _, ok := p.Check(req); !ok {
		t.Fatalf("expected same-host origin to be allowed")
	}

	req.Host = "relay.example.com:8443"
	if _, ok := p.Check(req); ok {
		t.Fatalf("expected different port to be rejected")
	}

	req.Header.Del("Origin")
	if normalized, ok := p.Check(req); !ok || normalized != "" {
		t.Fatalf("Check without Origin=(%q,%v), want (\"\",true)", normalized, ok)
	}

	req.Header.Set("Origin", "https://user@relay.example.com")
	if _, ok := p.Check(req); ok {
		t.Fatalf("expected malformed origin to be rejected")
	}
}

func TestPolicy_Star(t *testing.T) {
	p, _ := NewPolicy([]string{"*"})
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny=false, want true")
	}
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	if normalized, ok := p.Check(req); !ok || normalized != "https://anything.example" {
		t.Fatalf("Check=(%q,%v)", normalized, ok)
	}
}

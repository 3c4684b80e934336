package peeraddr

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestResolveHints(t *testing.T) {
	r := NewResolver(0, nil, nil)

	cases := []struct {
		name  string
		hints []string
		want  Identity
	}{
		{
			name:  "public ipv4",
			hints: []string{"203.0.113.42"},
			want:  Identity{IP: "203.0.113.42", Prefix: "203.0.113"},
		},
		{
			name:  "ipv4 mapped ipv6 is unmapped",
			hints: []string{"::ffff:198.51.100.7"},
			want:  Identity{IP: "198.51.100.7", Prefix: "198.51.100"},
		},
		{
			name:  "private ipv4 becomes sentinel",
			hints: []string{"192.168.1.20"},
			want:  Identity{IP: PrivateSentinel, Private: true, Prefix: "127.0.0"},
		},
		{
			name:  "loopback ipv6 is private",
			hints: []string{"::1"},
			want:  Identity{IP: PrivateSentinel, Private: true, Prefix: "127.0.0"},
		},
		{
			name:  "unique local ipv6 is private",
			hints: []string{"fd12:3456::1"},
			want:  Identity{IP: PrivateSentinel, Private: true, Prefix: "127.0.0"},
		},
		{
			name:  "public ipv6 truncated to three groups",
			hints: []string{"2001:db8:abcd:12::1"},
			want:  Identity{IP: "2001:db8:abcd:12::1", Prefix: "2001:db8:abcd"},
		},
		{
			name:  "socket address with port",
			hints: []string{"203.0.113.9:51234"},
			want:  Identity{IP: "203.0.113.9", Prefix: "203.0.113"},
		},
		{
			name:  "bracketed ipv6 with port",
			hints: []string{"[2001:db8:1:2::5]:443"},
			want:  Identity{IP: "2001:db8:1:2::5", Prefix: "2001:db8:1"},
		},
		{
			name:  "first non-empty hint wins",
			hints: []string{"", "  ", "198.51.100.1", "10.0.0.1"},
			want:  Identity{IP: "198.51.100.1", Prefix: "198.51.100"},
		},
		{
			name:  "malformed degrades to no prefix",
			hints: []string{"not-an-ip"},
			want:  Identity{},
		},
		{
			name:  "no hints",
			hints: nil,
			want:  Identity{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.ResolveHints(tc.hints...)
			if got != tc.want {
				t.Fatalf("ResolveHints(%q)=%+v, want %+v", tc.hints, got, tc.want)
			}
		})
	}
}

func TestResolve_HeaderPriority(t *testing.T) {
	r := NewResolver(3, nil, nil)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.10, 10.0.0.1")
	req.Header.Set("CF-Connecting-IP", "203.0.113.5")

	got := r.Resolve(req)
	if got.IP != "203.0.113.5" {
		t.Fatalf("IP=%q, want CF-Connecting-IP value", got.IP)
	}

	req.Header.Del("CF-Connecting-IP")
	got = r.Resolve(req)
	if got.IP != "198.51.100.10" {
		t.Fatalf("IP=%q, want first X-Forwarded-For element", got.IP)
	}

	req.Header.Del("X-Forwarded-For")
	got = r.Resolve(req)
	if !got.Private || got.Prefix != "127.0.0" {
		t.Fatalf("got %+v, want private sentinel from RemoteAddr", got)
	}
}

func TestResolve_CustomIPv6Groups(t *testing.T) {
	r := NewResolver(2, nil, nil)
	got := r.ResolveHints("2001:db8:abcd:12::1")
	if got.Prefix != "2001:db8" {
		t.Fatalf("Prefix=%q, want %q", got.Prefix, "2001:db8")
	}
}

func TestResolveLocal_KeepsPrivateSubnet(t *testing.T) {
	r := NewResolver(0, nil, nil)

	got := r.ResolveLocal("192.168.1.23")
	want := Identity{IP: "192.168.1.23", Private: true, Prefix: "192.168.1"}
	if got != want {
		t.Fatalf("ResolveLocal=%+v, want %+v", got, want)
	}

	got = r.ResolveLocal("10.0.0.8")
	if got.Prefix != "10.0.0" || !got.Private {
		t.Fatalf("ResolveLocal(10.0.0.8)=%+v", got)
	}

	got = r.ResolveLocal("garbage")
	if got != (Identity{}) {
		t.Fatalf("ResolveLocal(garbage)=%+v, want zero", got)
	}
}

func TestIsPrivate(t *testing.T) {
	cases := map[string]bool{
		"10.255.0.1":      true,
		"172.16.0.1":      true,
		"172.31.255.1":    true,
		"172.32.0.1":      false,
		"192.168.0.1":     true,
		"127.0.0.1":       true,
		"8.8.8.8":         false,
		"fe80::1":         true,
		"fc00::1":         true,
		"2001:4860::1":    false,
		"::ffff:10.0.0.5": true,
	}
	for raw, want := range cases {
		addr := netip.MustParseAddr(raw)
		if got := IsPrivate(addr); got != want {
			t.Fatalf("IsPrivate(%s)=%v, want %v", raw, got, want)
		}
	}
}

// Package peeraddr derives a coarse network identity for a connecting client.
//
// The identity is only used to suggest nearby peers. It is a heuristic: two
// clients sharing a grouping prefix are likely, not guaranteed, to share a
// network.
package peeraddr

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	// DefaultIPv6PrefixGroups is the number of leading IPv6 groups used as the
	// grouping prefix for public IPv6 clients.
	DefaultIPv6PrefixGroups = 3

	// PrivateSentinel replaces transport-observed private addresses. Clients
	// behind the same reverse proxy or on the server's own LAN all observe a
	// private address, so they are grouped together.
	PrivateSentinel = "127.0.0.1"
)

// DefaultHeaders lists the proxy headers consulted before the socket address,
// highest priority first.
var DefaultHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For"}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Identity is the resolved address classification of a client.
type Identity struct {
	IP      string
	Private bool
	// Prefix is the grouping key used for proximity matching. Empty means the
	// address could not be resolved and the client is never matched.
	Prefix string
}

// Resolver turns transport-level address hints into an Identity.
type Resolver struct {
	IPv6PrefixGroups int
	Headers          []string
	Logger           *slog.Logger
}

func NewResolver(ipv6Groups int, headers []string, logger *slog.Logger) *Resolver {
	if ipv6Groups <= 0 {
		ipv6Groups = DefaultIPv6PrefixGroups
	}
	if headers == nil {
		headers = DefaultHeaders
	}
	return &Resolver{IPv6PrefixGroups: ipv6Groups, Headers: headers, Logger: logger}
}

// Resolve resolves the identity of the client that sent r.
func (r *Resolver) Resolve(req *http.Request) Identity {
	hints := make([]string, 0, len(r.headers())+1)
	for _, h := range r.headers() {
		hints = append(hints, firstListElement(req.Header.Get(h)))
	}
	hints = append(hints, req.RemoteAddr)
	return r.ResolveHints(hints...)
}

// ResolveHints resolves the first non-empty hint. Hints are raw header values
// or socket addresses (with or without port).
func (r *Resolver) ResolveHints(hints ...string) Identity {
	for _, h := range hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		id := r.classify(h, true)
		r.debug("resolved peer address", "hint", h, "ip", id.IP, "private", id.Private, "prefix", id.Prefix)
		return id
	}
	return Identity{}
}

// ResolveLocal resolves an address the client reported for its own LAN
// interface. Private addresses keep their real /24 so that clients on
// different LANs are not grouped together.
func (r *Resolver) ResolveLocal(raw string) Identity {
	id := r.classify(strings.TrimSpace(raw), false)
	r.debug("resolved reported local address", "ip", id.IP, "private", id.Private, "prefix", id.Prefix)
	return id
}

func (r *Resolver) classify(raw string, sentinel bool) Identity {
	addr, ok := parseAddr(raw)
	if !ok {
		return Identity{}
	}

	if IsPrivate(addr) {
		if sentinel || !addr.Is4() {
			return Identity{IP: PrivateSentinel, Private: true, Prefix: ipv4Prefix(PrivateSentinel)}
		}
		s := addr.String()
		return Identity{IP: s, Private: true, Prefix: ipv4Prefix(s)}
	}

	if addr.Is4() {
		s := addr.String()
		return Identity{IP: s, Prefix: ipv4Prefix(s)}
	}
	return Identity{IP: addr.String(), Prefix: ipv6Prefix(addr, r.groups())}
}

// IsPrivate reports whether addr is loopback or inside an RFC1918, unique
// local (fc00::/7) or link-local (fe80::/10) range.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseAddr(raw string) (netip.Addr, bool) {
	if raw == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.TrimPrefix(strings.TrimSuffix(raw, "]"), "[")
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

func ipv4Prefix(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ""
	}
	return strings.Join(parts[:3], ".")
}

func ipv6Prefix(addr netip.Addr, groups int) string {
	full := addr.StringExpanded()
	parts := strings.Split(full, ":")
	if groups > len(parts) {
		groups = len(parts)
	}
	for i := 0; i < groups; i++ {
		parts[i] = strings.TrimLeft(parts[i], "0")
		if parts[i] == "" {
			parts[i] = "0"
		}
	}
	return strings.Join(parts[:groups], ":")
}

func firstListElement(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func (r *Resolver) headers() []string {
	if r.Headers == nil {
		return DefaultHeaders
	}
	return r.Headers
}

func (r *Resolver) groups() int {
	if r.IPv6PrefixGroups <= 0 {
		return DefaultIPv6PrefixGroups
	}
	return r.IPv6PrefixGroups
}

func (r *Resolver) debug(msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.Debug(msg, args...)
	}
}

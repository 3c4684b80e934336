// Package origin decides which browser origins may use the HTTP API and open
// signaling sockets.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Policy is an origin allowlist.
//
// Entries are "*", a normalized origin ("https://app.example.com"), "null",
// or a subdomain wildcard ("https://*.example.com"). An empty policy allows
// same-host requests only.
type Policy struct {
	any       bool
	exact     map[string]struct{}
	wildcards []wildcard
}

type wildcard struct {
	scheme string
	suffix string // ".example.com[:port]"
}

// NewPolicy builds a Policy from configured entries. Entries that cannot be
// normalized are returned in invalid and ignored.
func NewPolicy(entries []string) (p *Policy, invalid []string) {
	p = &Policy{exact: make(map[string]struct{})}
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		switch {
		case e == "":
			continue
		case e == "*":
			p.any = true
		case strings.Contains(e, "://*."):
			scheme, rest, _ := strings.Cut(e, "://*.")
			normalized, host, ok := NormalizeHeader(scheme + "://" + rest)
			if !ok || normalized == "null" {
				invalid = append(invalid, raw)
				continue
			}
			p.wildcards = append(p.wildcards, wildcard{scheme: strings.ToLower(scheme), suffix: "." + host})
		default:
			normalized, _, ok := NormalizeHeader(e)
			if !ok {
				invalid = append(invalid, raw)
				continue
			}
			p.exact[normalized] = struct{}{}
		}
	}
	return p, invalid
}

// AllowsAny reports whether the policy contains "*".
func (p *Policy) AllowsAny() bool { return p != nil && p.any }

// Empty reports whether the policy falls back to same-host matching.
func (p *Policy) Empty() bool {
	return p == nil || (!p.any && len(p.exact) == 0 && len(p.wildcards) == 0)
}

// Check evaluates r's Origin header. Requests without an Origin header are
// not browser cross-origin requests and are allowed with origin "".
func (p *Policy) Check(r *http.Request) (normalized string, ok bool) {
	raw := r.Header.Get("Origin")
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(raw)
	if !ok {
		return "", false
	}
	return normalized, p.Allows(normalized, host, r.Host)
}

// Allows reports whether a normalized origin may access requestHost.
func (p *Policy) Allows(normalizedOrigin, originHost, requestHost string) bool {
	if p.Empty() {
		return sameHost(normalizedOrigin, originHost, requestHost)
	}
	if p.any {
		return true
	}
	if _, ok := p.exact[normalizedOrigin]; ok {
		return true
	}
	for _, w := range p.wildcards {
		if strings.HasPrefix(normalizedOrigin, w.scheme+"://") && strings.HasSuffix(originHost, w.suffix) {
			return true
		}
	}
	return false
}

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default ports
// dropped) and the host[:port] portion for same-host comparisons.
//
// The special Origin value "null" is returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// sameHost compares host:port only. The scheme is ignored since the server
// may sit behind a TLS-terminating proxy and see plain HTTP.
func sameHost(normalizedOrigin, originHost, requestHost string) bool {
	scheme, _, ok := strings.Cut(normalizedOrigin, "://")
	if !ok {
		// "null" cannot match a host-based request.
		return false
	}
	h, ok := normalizeAuthority(requestHost, scheme)
	return ok && h == originHost
}

func normalizeAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(strings.TrimSpace(authority)))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string. IPv6 hostnames are
// returned without brackets; the port is not validated.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, ok = strings.CutPrefix(rest, ":")
		if !ok || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		hostname, port, _ = strings.Cut(rawHost, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", "", false
	}
}

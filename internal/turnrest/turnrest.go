// Package turnrest mints short-lived coturn-compatible TURN REST credentials
// so browsers can fall back to a relay when a direct path is impossible.
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<user_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const DefaultUsernamePrefix = "flight"

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
	// IDSource is used when no user id is supplied. Defaults to random UUIDs.
	IDSource func() string
}

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time
	idSource       func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("TTL must be at least 1s")
	}
	if cfg.UsernamePrefix == "" {
		cfg.UsernamePrefix = DefaultUsernamePrefix
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDSource == nil {
		cfg.IDSource = uuid.NewString
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     int64(cfg.TTL / time.Second),
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		idSource:       cfg.IDSource,
	}, nil
}

// Generate mints credentials for userID. An empty userID gets a random one.
func (g *Generator) Generate(userID string) (Credentials, error) {
	if userID == "" {
		userID = g.idSource()
	}
	if strings.Contains(userID, ":") {
		return Credentials{}, fmt.Errorf("user id %q must not contain ':'", userID)
	}
	expiryUnix := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiryUnix, g.usernamePrefix, userID)
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiryUnix,
	}, nil
}

// ApplyTo returns a copy of servers with fresh credentials set on every server
// that lists a turn: or turns: URL. Other servers are passed through.
func (g *Generator) ApplyTo(servers []webrtc.ICEServer, userID string) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)
	if !slicesContainTURN(servers) {
		return out, nil
	}

	creds, err := g.Generate(userID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if HasTURNURL(out[i]) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out, nil
}

// HasTURNURL reports whether server lists at least one TURN URL.
func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

func slicesContainTURN(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		if HasTURNURL(s) {
			return true
		}
	}
	return false
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

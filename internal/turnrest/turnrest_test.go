package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fixedGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{
		SharedSecret: "shared-secret",
		TTL:          time.Hour,
		Now:          func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
		IDSource:     func() string { return "random-id" },
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestGenerate_DeterministicWithFixedTime(t *testing.T) {
	g := fixedGenerator(t)

	creds, err := g.Generate("user123")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if creds.ExpiryUnix != 1_700_003_600 {
		t.Fatalf("ExpiryUnix=%d, want %d", creds.ExpiryUnix, 1_700_003_600)
	}
	wantUsername := "1700003600:flight:user123"
	if creds.Username != wantUsername {
		t.Fatalf("Username=%q, want %q", creds.Username, wantUsername)
	}
	if want := expectedCredential([]byte("shared-secret"), wantUsername); creds.Credential != want {
		t.Fatalf("Credential=%q, want %q", creds.Credential, want)
	}
}

func TestGenerate_RandomIDWhenEmpty(t *testing.T) {
	g := fixedGenerator(t)
	creds, err := g.Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if creds.Username != "1700003600:flight:random-id" {
		t.Fatalf("Username=%q", creds.Username)
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Fatalf("expected error for id containing ':'")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	cases := []Config{
		{TTL: time.Hour},
		{SharedSecret: "s", TTL: 0},
		{SharedSecret: "s", TTL: time.Hour, UsernamePrefix: "a:b"},
	}
	for i, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestApplyTo_OnlyTURNServers(t *testing.T) {
	g := fixedGenerator(t)
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURN:turn.example.com:3478?transport=udp"}},
		{URLs: []string{"turns:turn.example.com:5349"}, Username: "static", Credential: "old"},
	}

	out, err := g.ApplyTo(servers, "user1")
	if err != nil {
		t.Fatalf("ApplyTo: %v", err)
	}
	if out[0].Username != "" || out[0].Credential != nil {
		t.Fatalf("stun server got credentials: %+v", out[0])
	}
	for _, s := range out[1:] {
		if s.Username != "1700003600:flight:user1" {
			t.Fatalf("Username=%q", s.Username)
		}
	}
	if servers[2].Username != "static" {
		t.Fatalf("input slice was modified")
	}

	empty, err := g.ApplyTo([]webrtc.ICEServer{}, "user1")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("ApplyTo(empty)=(%v,%v), want empty non-nil", empty, err)
	}
}

func TestCredential_Base64HMACSHA1(t *testing.T) {
	g := fixedGenerator(t)
	creds, err := g.Generate("sid")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(creds.Credential)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if len(decoded) != sha1.Size {
		t.Fatalf("decoded length=%d, want %d", len(decoded), sha1.Size)
	}
}

func expectedCredential(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

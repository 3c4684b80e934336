package httpserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
)

const (
	MaxFeedbackChars     = 2000
	maxFeedbackBodyBytes = 16 * 1024
)

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	if s.turn != nil {
		withCreds, err := s.turn.ApplyTo(servers, "")
		if err != nil {
			s.log.Error("failed to mint turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to mint turn credentials"})
			return
		}
		servers = withCreds
	}
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

type feedbackRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	clientIP := s.clientIP(r)

	if s.feedbackLimiter != nil && !s.feedbackLimiter.Allow(clientIP) {
		s.deps.Metrics.Inc(metrics.FeedbackRateLimited)
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many feedback submissions, try again later"})
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFeedbackBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	msg := strings.TrimSpace(req.Message)
	switch {
	case msg == "":
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "Feedback message is required"})
		return
	case utf8.RuneCountInString(msg) > MaxFeedbackChars:
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "Feedback message is too long"})
		return
	}

	s.deps.Metrics.Inc(metrics.FeedbackReceived)
	if s.deps.Feedback == nil || !s.deps.Feedback.Feedback(msg, clientIP) {
		s.log.Warn("feedback not persisted", "client_ip", clientIP, "message", msg)
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

// clientIP is the address used to key feedback rate limits. Private
// addresses collapse to a sentinel in the resolver, so the socket address is
// used for them instead.
func (s *Server) clientIP(r *http.Request) string {
	ident := s.deps.Resolver.Resolve(r)
	if ident.IP != "" && !ident.Private {
		return ident.IP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/registry"
)

// client handles the events of one signaling socket. Events are processed
// sequentially in the order they were read.
type client struct {
	srv     *Server
	id      string
	name    string
	conn    *conn
	log     *slog.Logger
	limiter *ratelimit.TokenBucket
}

func (c *client) readLoop() {
	ws := c.conn.ws
	idle := c.srv.cfg.IdleTimeout
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, r, err := ws.NextReader()
		if err != nil {
			if isTimeout(err) {
				c.log.Debug("signaling socket idle timeout")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))

		data, err := readLimited(r, c.srv.cfg.MaxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				c.fail("message_too_large", "message too large", websocket.CloseMessageTooBig, "message too large")
				return
			}
			return
		}
		// Rate limit after reading so the bytes already buffered are consumed
		// and the client reliably observes the close frame.
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.srv.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			c.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.fail("bad_message", "invalid message", websocket.ClosePolicyViolation, "bad message")
			return
		}
		if !c.dispatch(env) {
			return
		}
	}
}

// dispatch handles one event. It returns false when the connection must be
// closed.
func (c *client) dispatch(env Envelope) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("panic in signaling handler", "event", env.Type, "panic", p, "stack", string(debug.Stack()))
			c.fail("internal_error", "internal error", websocket.CloseInternalServerErr, "internal error")
			ok = false
		}
	}()

	switch env.Type {
	case eventCreateFlight:
		c.handleCreateFlight(env)
	case eventJoinFlight:
		c.handleJoinFlight(env)
	case eventRequestToConnect:
		c.handleRequestToConnect(env)
	case eventInviteToFlight:
		c.handleInviteToFlight(env)
	case eventGetNearbyUsers:
		c.send(eventNearbyUsers, c.srv.cfg.Registry.FindNearby(c.id))
	case eventLeaveFlight:
		c.handleLeaveFlight(env)
	case eventLocalAddress:
		c.handleLocalAddress(env)
	case eventOffer, eventAnswer, eventICECandidate:
		c.handleRelay(env)
	case eventUpdateStats:
		c.handleUpdateStats(env)
	default:
		c.log.Warn("unknown signaling event", "event", env.Type)
		c.sendError("unknown_event", fmt.Sprintf("unknown event %q", env.Type))
	}
	return true
}

func (c *client) handleCreateFlight(env Envelope) {
	c.srv.flightMu.Lock()
	defer c.srv.flightMu.Unlock()

	f, left, err := c.srv.cfg.Registry.CreateFlight(c.id)
	if err != nil {
		c.log.Error("create flight failed", "err", err)
		c.ack(env, AckResult{Message: userMessage(err)})
		return
	}
	c.notifyLeave(left)
	c.srv.cfg.Stats.FlightCreated()
	c.ack(env, AckResult{Success: true, Code: f.Code})
	c.srv.broadcastFlight(f, f.MemberIDs())
}

func (c *client) handleJoinFlight(env Envelope) {
	var req joinFlightRequest
	if err := decodeData(env, &req); err != nil {
		c.badRequest(env, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))

	c.srv.flightMu.Lock()
	defer c.srv.flightMu.Unlock()

	f, left, err := c.srv.cfg.Registry.JoinFlight(code, c.id)
	if err != nil {
		c.log.Info("join flight refused", "code", code, "err", err)
		c.ack(env, AckResult{Message: userMessage(err)})
		return
	}
	c.notifyLeave(left)

	if f.OwnerID != c.id {
		c.send(eventOffer, RelayPayload{From: f.OwnerID, SDP: f.PendingOffer})
	}
	c.ack(env, AckResult{Success: true, Code: f.Code})
	c.srv.broadcastFlight(f, f.MemberIDs())
}

func (c *client) handleRequestToConnect(env Envelope) {
	var req requestToConnectRequest
	if err := decodeData(env, &req); err != nil {
		c.badRequest(env, err)
		return
	}

	c.srv.flightMu.Lock()
	defer c.srv.flightMu.Unlock()

	f, lefts, err := c.srv.cfg.Registry.CreateDirectFlight(c.id, req.TargetID)
	if err != nil {
		c.log.Info("direct connect refused", "target_id", req.TargetID, "err", err)
		c.ack(env, AckResult{Message: userMessage(err)})
		return
	}
	for _, left := range lefts {
		c.notifyLeave(left)
	}
	c.srv.cfg.Stats.FlightCreated()

	_ = c.srv.hub.Broadcast(f.MemberIDs(), eventFlightStarted, flightStarted{Code: f.Code, Members: f.Members})
	c.ack(env, AckResult{Success: true, Code: f.Code})
}

// handleLeaveFlight also sends the leaver the flight it left, so a client
// that stays connected sees itself removed.
func (c *client) handleLeaveFlight(env Envelope) {
	c.srv.flightMu.Lock()
	defer c.srv.flightMu.Unlock()

	res := c.srv.cfg.Registry.LeaveFlight(c.id)
	if res.Code != "" {
		res.Notify = append(res.Notify, c.id)
	}
	c.notifyLeave(res)
	c.ack(env, AckResult{Success: true})
}

func (c *client) handleInviteToFlight(env Envelope) {
	var req inviteToFlightRequest
	if err := decodeData(env, &req); err != nil {
		c.badRequest(env, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.FlightCode))

	f, ok := c.srv.cfg.Registry.GetFlight(code)
	if !ok {
		c.ack(env, AckResult{Message: userMessage(registry.ErrFlightNotFound)})
		return
	}
	if !f.HasMember(c.id) {
		c.ack(env, AckResult{Message: userMessage(registry.ErrNotFlightMember)})
		return
	}
	err := c.srv.hub.Send(req.TargetID, eventInvitedToFlight, invitedToFlight{
		FlightCode: f.Code,
		FromID:     c.id,
		FromName:   c.name,
	})
	if err != nil {
		c.ack(env, AckResult{Message: userMessage(ErrTargetUnreachable)})
		return
	}
	c.ack(env, AckResult{Success: true})
}

func (c *client) handleLocalAddress(env Envelope) {
	var req localAddressRequest
	if err := decodeData(env, &req); err != nil {
		c.badRequest(env, err)
		return
	}
	ident := c.srv.cfg.Resolver.ResolveLocal(req.LocalAddress)
	applied, err := c.srv.cfg.Registry.UpdateAddress(c.id, ident)
	if err != nil {
		c.log.Warn("local address update failed", "err", err)
		return
	}
	c.log.Debug("local address reported", "applied", applied, "prefix", ident.Prefix)
}

func (c *client) handleUpdateStats(env Envelope) {
	var req updateStatsRequest
	if err := decodeData(env, &req); err != nil {
		c.badRequest(env, err)
		return
	}
	if req.FilesShared < 0 || req.Transferred < 0 {
		c.log.Warn("ignoring negative transfer stats", "files", req.FilesShared, "mb", req.Transferred)
		return
	}
	c.srv.cfg.Stats.Transfer(req.FilesShared, req.Transferred)
}

// handleRelay forwards an offer, answer or candidate to its recipient. An
// offer from a flight owner is also kept as the flight's pending offer, and
// an offer without a recipient is only stored.
func (c *client) handleRelay(env Envelope) {
	reg := c.srv.cfg.Registry
	m := c.srv.cfg.Metrics

	var req relayRequest
	if err := decodeData(env, &req); err != nil {
		m.Inc(metrics.RelayDroppedInvalid)
		c.log.Warn("dropping malformed relay payload", "event", env.Type, "err", err)
		return
	}
	to := req.target()

	out := RelayPayload{From: c.id}
	switch env.Type {
	case eventICECandidate:
		out.Candidate = req.Candidate
	default:
		out.SDP = req.SDP
	}
	if !present(out.SDP) && !present(out.Candidate) {
		m.Inc(metrics.RelayDroppedInvalid)
		c.log.Warn("dropping relay without payload", "event", env.Type, "to", to)
		return
	}

	if env.Type == eventOffer {
		code, err := reg.SetPendingOffer(c.id, req.SDP)
		if err == nil {
			c.log.Debug("stored pending offer", "code", code)
		}
		if to == "" {
			if err != nil {
				m.Inc(metrics.RelayDroppedInvalid)
				c.log.Warn("dropping offer without recipient from non-owner")
			}
			return
		}
	}

	if to == "" || to == c.id {
		m.Inc(metrics.RelayDroppedInvalid)
		c.log.Warn("dropping relay without valid recipient", "event", env.Type, "to", to)
		return
	}
	if c.srv.cfg.RelayRequireSharedFlight && !reg.SharedFlight(c.id, to) {
		m.Inc(metrics.RelayDeniedNotInFlight)
		c.log.Warn("relay denied, peers do not share a flight", "event", env.Type, "to", to)
		return
	}

	if err := c.srv.hub.Send(to, env.Type, out); err != nil {
		if errors.Is(err, ErrTargetUnreachable) {
			m.Inc(metrics.RelayDroppedUnreachable)
		}
		c.log.Debug("relay dropped", "event", env.Type, "to", to, "err", err)
		return
	}
	m.Inc(metrics.RelayDelivered)
}

// disconnect unwinds the user's registry state once the socket is gone.
func (c *client) disconnect() {
	c.srv.hub.remove(c.conn)
	c.unregister()
	c.srv.cfg.Metrics.Inc(metrics.UsersDisconnected)
	c.log.Info("user disconnected")
	c.conn.finish()
}

func (c *client) unregister() {
	c.srv.flightMu.Lock()
	defer c.srv.flightMu.Unlock()

	if res, ok := c.srv.cfg.Registry.RemoveUser(c.id); ok {
		c.notifyLeave(res)
	}
}

// notifyLeave sends the post-departure flight state to res.Notify. Callers
// hold flightMu.
func (c *client) notifyLeave(res registry.LeaveResult) {
	if res.Code == "" {
		return
	}
	c.srv.broadcastFlight(res.Flight, res.Notify)
}

func (c *client) send(typ string, data any) {
	b, err := encodeEnvelope(typ, "", data)
	if err != nil {
		c.log.Error("encode signaling event failed", "event", typ, "err", err)
		return
	}
	_ = c.conn.enqueue(frame{data: b})
}

// ack answers a request that carried an ack id. Requests without one get no
// reply.
func (c *client) ack(env Envelope, res AckResult) {
	if env.Ack == "" {
		return
	}
	b, err := encodeEnvelope(eventAck, env.Ack, res)
	if err != nil {
		c.log.Error("encode ack failed", "event", env.Type, "err", err)
		return
	}
	_ = c.conn.enqueue(frame{data: b})
}

func (c *client) badRequest(env Envelope, err error) {
	c.log.Warn("malformed event data", "event", env.Type, "err", err)
	if env.Ack != "" {
		c.ack(env, AckResult{Message: "Invalid request"})
		return
	}
	c.sendError("bad_message", "invalid data for "+env.Type)
}

func (c *client) sendError(code, message string) {
	c.send(eventError, ErrorPayload{Code: code, Message: message})
}

// fail sends an error event followed by a close frame.
func (c *client) fail(code, message string, closeCode int, closeReason string) {
	c.sendError(code, message)
	c.conn.closeWith(closeCode, closeReason)
}

// userMessage maps registry and relay errors to the text shown to users.
func userMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrFlightFull):
		return "Flight is full"
	case errors.Is(err, registry.ErrFlightNotFound):
		return "Flight not found"
	case errors.Is(err, registry.ErrUnknownUser):
		return "User not found or offline"
	case errors.Is(err, registry.ErrNotFlightMember):
		return "You are not part of this flight"
	case errors.Is(err, registry.ErrSelfTarget):
		return "You cannot connect to yourself"
	case errors.Is(err, registry.ErrTargetBusy):
		return "User is busy"
	case errors.Is(err, ErrTargetUnreachable):
		return "Target user not connected"
	case errors.Is(err, registry.ErrCodeSpaceExhausted):
		return "Could not allocate a flight code, try again"
	default:
		return "Internal error"
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}

package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/names"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/peeraddr"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/stats"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 64
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *registry.Registry
	Resolver *peeraddr.Resolver
	// Origins restricts which browser origins may open a socket. Nil allows
	// same-host origins only.
	Origins *origin.Policy
	// Stats receives daily aggregates. Nil disables them.
	Stats   *stats.Recorder
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// RelayRequireSharedFlight only relays offer/answer/candidate events
	// between members of the same flight.
	RelayRequireSharedFlight bool

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int

	// NewID and NewName default to random UUIDs and names from the name pool.
	NewID   func() string
	NewName func() string
	Clock   ratelimit.Clock
}

// Server implements the signaling WebSocket endpoint.
//
// Endpoints:
//   - GET /ws     : signaling socket
//   - GET /socket : alias kept for older clients
type Server struct {
	cfg      Config
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader

	// flightMu is held across a membership change and the enqueueing of its
	// flightUsers frames, so members receive flight states in registry order.
	flightMu sync.Mutex
}

func NewServer(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = registry.New(registry.Options{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.Resolver == nil {
		cfg.Resolver = peeraddr.NewResolver(0, nil, cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.NewName == nil {
		cfg.NewName = names.Random
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}

	s := &Server{
		cfg: cfg,
		hub: NewHub(),
		log: cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := s.cfg.Origins.Check(r)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /socket", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Registry() *registry.Registry { return s.cfg.Registry }

// RunSweeper evicts stale flights every interval until ctx is done and tells
// the released members that their flight is gone.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = registry.DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	s.notifyEvicted(s.cfg.Registry.Sweep())
}

// notifyEvicted sends each evicted flight, marked ownerConnected=false, to the
// members it released. Callers hold flightMu.
func (s *Server) notifyEvicted(evicted []registry.LeaveResult) {
	for _, res := range evicted {
		s.broadcastFlight(res.Flight, res.Notify)
	}
}

func (s *Server) broadcastFlight(f registry.Flight, to []string) {
	if len(to) == 0 {
		return
	}
	if err := s.hub.Broadcast(to, eventFlightUsers, flightUsersOf(f)); err != nil {
		s.log.Error("broadcast flight users failed", "code", f.Code, "err", err)
	}
}

// ConnectedUsers is the number of open signaling sockets.
func (s *Server) ConnectedUsers() int { return s.hub.Len() }

// Close asks every open socket to close. Handlers unwind their users as the
// sockets go away.
func (s *Server) Close() {
	s.hub.CloseAll()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	id := s.cfg.NewID()
	c := &client{
		srv:  s,
		id:   id,
		name: s.cfg.NewName(),
		conn: newConn(id, ws, s.cfg.SendQueueSize, s.cfg.Metrics, s.log),
		log:  s.log.With("user_id", id),
	}
	if s.cfg.MaxMessagesPerSecond > 0 {
		n := int64(s.cfg.MaxMessagesPerSecond)
		c.limiter = ratelimit.NewTokenBucket(s.cfg.Clock, n, n, time.Second)
	}
	go c.conn.writeLoop(s.cfg.PingInterval)

	ident := s.cfg.Resolver.Resolve(r)
	if err := s.cfg.Registry.AddUser(id, c.name, ident); err != nil {
		if errors.Is(err, registry.ErrTooManyUsers) {
			c.fail("server_full", "server is at capacity", websocket.CloseTryAgainLater, "server full")
		} else {
			c.log.Error("failed to register user", "err", err)
			c.fail("internal_error", "failed to register user", websocket.CloseInternalServerErr, "internal error")
		}
		c.conn.finish()
		return
	}
	s.hub.add(c.conn)
	s.cfg.Metrics.Inc(metrics.UsersConnected)
	s.cfg.Stats.UserConnected()
	c.log.Info("user connected", "name", c.name, "ip", ident.IP, "prefix", ident.Prefix)

	defer c.disconnect()
	c.send(eventYourDetails, yourDetails{ID: id, Name: c.name})
	c.readLoop()
}

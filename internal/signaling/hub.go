package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
)

var (
	// ErrTargetUnreachable is returned when the recipient has no open
	// connection.
	ErrTargetUnreachable = errors.New("target not connected")
	ErrSendQueueFull     = errors.New("send queue full")
)

const wsWriteWait = 1 * time.Second

// frame is one queued outbound write. A non-zero closeCode sends a close
// control frame and stops the writer.
type frame struct {
	data        []byte
	closeCode   int
	closeReason string
}

// conn owns the write side of one WebSocket. All data frames go through send
// and are written by a single goroutine.
type conn struct {
	id   string
	ws   *websocket.Conn
	log  *slog.Logger
	send chan frame

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	metrics *metrics.Metrics
}

func newConn(id string, ws *websocket.Conn, queueSize int, m *metrics.Metrics, log *slog.Logger) *conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &conn{
		id:      id,
		ws:      ws,
		log:     log,
		send:    make(chan frame, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: m,
	}
}

func (c *conn) enqueue(f frame) error {
	select {
	case <-c.quit:
		return ErrTargetUnreachable
	case <-c.done:
		return ErrTargetUnreachable
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		c.metrics.Inc(metrics.SendQueueOverflow)
		c.log.Warn("signaling send queue full, dropping frame", "user_id", c.id)
		return ErrSendQueueFull
	}
}

func (c *conn) closeWith(code int, reason string) {
	_ = c.enqueue(frame{closeCode: code, closeReason: reason})
}

// writeLoop drains the send queue until finish is called or a write fails.
// It pings the peer every pingInterval so idle read deadlines can be extended
// by pongs.
func (c *conn) writeLoop(pingInterval time.Duration) {
	defer close(c.done)
	defer c.ws.Close()

	var ping <-chan time.Time
	if pingInterval > 0 {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case f := <-c.send:
			if !c.write(f) {
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-c.quit:
			for {
				select {
				case f := <-c.send:
					if !c.write(f) {
						return
					}
				default:
					c.write(frame{closeCode: websocket.CloseNormalClosure})
					return
				}
			}
		}
	}
}

func (c *conn) write(f frame) bool {
	if f.closeCode != 0 {
		msg := websocket.FormatCloseMessage(f.closeCode, f.closeReason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		return false
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, f.data); err != nil {
		c.log.Debug("signaling write failed", "user_id", c.id, "err", err)
		return false
	}
	return true
}

// finish stops the writer after it has flushed queued frames and waits for it
// to close the socket.
func (c *conn) finish() {
	c.closeOnce.Do(func() { close(c.quit) })
	select {
	case <-c.done:
	case <-time.After(5 * wsWriteWait):
		_ = c.ws.Close()
	}
}

// Hub maps user ids to their open connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
}

func (h *Hub) get(id string) (*conn, bool) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	return c, ok
}

// Connected reports whether id has an open connection.
func (h *Hub) Connected(id string) bool {
	_, ok := h.get(id)
	return ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send queues an event for id without blocking.
func (h *Hub) Send(id, typ string, data any) error {
	c, ok := h.get(id)
	if !ok {
		return ErrTargetUnreachable
	}
	b, err := encodeEnvelope(typ, "", data)
	if err != nil {
		return err
	}
	return c.enqueue(frame{data: b})
}

// Broadcast sends the same event to every id in ids, skipping ids that are not
// connected.
func (h *Hub) Broadcast(ids []string, typ string, data any) error {
	b, err := encodeEnvelope(typ, "", data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if c, ok := h.get(id); ok {
			_ = c.enqueue(frame{data: b})
		}
	}
	return nil
}

// CloseAll asks every connection to close with a going-away status.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.closeOnce.Do(func() { close(c.quit) })
	}
}

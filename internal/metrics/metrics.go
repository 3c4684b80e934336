package metrics

import "sync"

// Event names. They are exported as the `event` label of a single counter
// family, see PrometheusHandler.
const (
	UsersConnected    = "users_connected"
	UsersDisconnected = "users_disconnected"
	UsersRejected     = "users_rejected_capacity"

	FlightsCreated       = "flights_created"
	FlightsDirectCreated = "flights_direct_created"
	FlightsJoined        = "flights_joined"
	FlightsDissolved     = "flights_dissolved"
	FlightsEvicted       = "flights_evicted"
	FlightJoinRejected   = "flight_join_rejected"

	RelayDelivered          = "relay_delivered"
	RelayDroppedUnreachable = "relay_dropped_unreachable"
	RelayDeniedNotInFlight  = "relay_denied_not_in_flight"
	RelayDroppedInvalid     = "relay_dropped_invalid"

	SendQueueOverflow = "send_queue_overflow"

	DropReasonRateLimited = "rate_limited"
	FeedbackReceived      = "feedback_received"
	FeedbackRateLimited   = "feedback_rate_limited"

	StatsWriteFailed  = "stats_write_failed"
	StatsQueueDropped = "stats_queue_dropped"

	InvariantViolation = "registry_invariant_violation"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is safe to call on a nil *Metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

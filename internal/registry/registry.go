// Package registry holds the in-memory state of connected users and the
// two-party flights they are paired into.
//
// All state lives behind a single mutex. Every exported method takes it for
// its whole duration and returns copies, so callers never observe a partially
// applied operation and may use results after the lock is released.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/peeraddr"
)

// MaxMembers is the capacity of a flight.
const MaxMembers = 2

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// CodeSource defaults to RandomCode.
	CodeSource      CodeSource
	MaxCodeAttempts int

	// MaxUsers limits concurrently registered users. Zero means unlimited.
	MaxUsers int

	Now func() time.Time
}

// Peer is the public view of a user: what other clients get to see.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID            string
	Name          string
	IP            string
	Prefix        string
	Private       bool
	InFlight      bool
	LocalReported bool
}

type Flight struct {
	Code           string
	OwnerID        string
	Members        []Peer
	OwnerConnected bool
	PendingOffer   json.RawMessage
	CreatedAt      time.Time
}

func (f Flight) MemberIDs() []string {
	ids := make([]string, len(f.Members))
	for i, m := range f.Members {
		ids[i] = m.ID
	}
	return ids
}

func (f Flight) HasMember(id string) bool {
	for _, m := range f.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// LeaveResult describes how a user's departure changed its flight. Code is
// empty when the user was not in a flight.
type LeaveResult struct {
	Code string
	// Dissolved is set when the owner left and the flight was removed.
	Dissolved bool
	// Flight is the state after the departure. For a dissolved flight it has
	// OwnerConnected=false and lists the members that were released.
	Flight Flight
	// Notify lists the users that should receive the updated flight state.
	Notify []string
}

type userRecord struct {
	id            string
	name          string
	ident         peeraddr.Identity
	localReported bool
	flight        string
}

type flightRecord struct {
	code           string
	owner          string
	members        []string
	ownerConnected bool
	pendingOffer   json.RawMessage
	createdAt      time.Time
}

type Registry struct {
	logger          *slog.Logger
	metrics         *metrics.Metrics
	codeSource      CodeSource
	maxCodeAttempts int
	maxUsers        int
	now             func() time.Time

	mu      sync.Mutex
	users   map[string]*userRecord
	flights map[string]*flightRecord
}

func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CodeSource == nil {
		opts.CodeSource = RandomCode
	}
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		codeSource:      opts.CodeSource,
		maxCodeAttempts: opts.MaxCodeAttempts,
		maxUsers:        opts.MaxUsers,
		now:             opts.Now,
		users:           make(map[string]*userRecord),
		flights:         make(map[string]*flightRecord),
	}
}

func (r *Registry) AddUser(id, name string, ident peeraddr.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; ok {
		r.logger.Error("duplicate user id", "user_id", id)
		return fmt.Errorf("%w: %s", ErrDuplicateUser, id)
	}
	if r.maxUsers > 0 && len(r.users) >= r.maxUsers {
		r.metrics.Inc(metrics.UsersRejected)
		return ErrTooManyUsers
	}
	r.users[id] = &userRecord{id: id, name: name, ident: ident}
	return nil
}

// RemoveUser unwinds the user's flight membership and forgets the user.
func (r *Registry) RemoveUser(id string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return LeaveResult{}, false
	}
	res := r.leaveLocked(u)
	delete(r.users, id)
	return res, true
}

// CreateFlight registers a new single-member flight owned by ownerID. If the
// owner was in another flight it leaves it first; the returned LeaveResult
// describes that departure.
func (r *Registry) CreateFlight(ownerID string) (Flight, LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[ownerID]
	if !ok {
		return Flight{}, LeaveResult{}, ErrUnknownUser
	}
	code, err := r.newCodeLocked()
	if err != nil {
		return Flight{}, LeaveResult{}, err
	}
	left := r.leaveLocked(u)

	f := &flightRecord{
		code:           code,
		owner:          ownerID,
		members:        []string{ownerID},
		ownerConnected: true,
		createdAt:      r.now(),
	}
	r.flights[code] = f
	u.flight = code
	r.metrics.Inc(metrics.FlightsCreated)
	r.logger.Info("flight created", "code", code, "owner_id", ownerID)
	return r.snapshotLocked(f), left, nil
}

// CreateDirectFlight pairs ownerID and targetID into a new two-member flight
// owned by ownerID. The owner leaves any flight it was in; a target that is
// already in a flight is refused with ErrTargetBusy.
func (r *Registry) CreateDirectFlight(ownerID, targetID string) (Flight, []LeaveResult, error) {
	if ownerID == targetID {
		return Flight{}, nil, ErrSelfTarget
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.users[ownerID]
	if !ok {
		return Flight{}, nil, ErrUnknownUser
	}
	target, ok := r.users[targetID]
	if !ok {
		return Flight{}, nil, ErrUnknownUser
	}
	if target.flight != "" {
		return Flight{}, nil, ErrTargetBusy
	}
	code, err := r.newCodeLocked()
	if err != nil {
		return Flight{}, nil, err
	}

	var left []LeaveResult
	if res := r.leaveLocked(owner); res.Code != "" {
		left = append(left, res)
	}

	f := &flightRecord{
		code:           code,
		owner:          ownerID,
		members:        []string{ownerID, targetID},
		ownerConnected: true,
		createdAt:      r.now(),
	}
	r.flights[code] = f
	owner.flight = code
	target.flight = code
	r.metrics.Inc(metrics.FlightsDirectCreated)
	r.logger.Info("direct flight created", "code", code, "owner_id", ownerID, "target_id", targetID)
	return r.snapshotLocked(f), left, nil
}

// JoinFlight adds userID to the flight identified by code. Joining a flight
// the user is already in succeeds without changes.
func (r *Registry) JoinFlight(code, userID string) (Flight, LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return Flight{}, LeaveResult{}, ErrUnknownUser
	}
	f, ok := r.flights[code]
	if !ok || !f.ownerConnected {
		r.metrics.Inc(metrics.FlightJoinRejected)
		return Flight{}, LeaveResult{}, ErrFlightNotFound
	}
	if slices.Contains(f.members, userID) {
		return r.snapshotLocked(f), LeaveResult{}, nil
	}
	if !r.consistentLocked(f) {
		r.metrics.Inc(metrics.InvariantViolation)
		r.metrics.Inc(metrics.FlightJoinRejected)
		r.logger.Error("refusing join into inconsistent flight",
			"code", code, "owner_id", f.owner, "members", len(f.members), "user_id", userID)
		return Flight{}, LeaveResult{}, ErrFlightFull
	}
	if len(f.members) >= MaxMembers {
		r.metrics.Inc(metrics.FlightJoinRejected)
		return Flight{}, LeaveResult{}, ErrFlightFull
	}

	left := r.leaveLocked(u)
	f.members = append(f.members, userID)
	u.flight = code
	r.metrics.Inc(metrics.FlightsJoined)
	r.logger.Info("flight joined", "code", code, "user_id", userID)
	return r.snapshotLocked(f), left, nil
}

func (r *Registry) LeaveFlight(userID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return LeaveResult{}
	}
	return r.leaveLocked(u)
}

func (r *Registry) GetFlight(code string) (Flight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[code]
	if !ok {
		return Flight{}, false
	}
	return r.snapshotLocked(f), true
}

// FlightOf returns the flight userID is currently a member of.
func (r *Registry) FlightOf(userID string) (Flight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.flight == "" {
		return Flight{}, false
	}
	f, ok := r.flights[u.flight]
	if !ok {
		return Flight{}, false
	}
	return r.snapshotLocked(f), true
}

func (r *Registry) GetUser(id string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, false
	}
	return u.snapshot(), true
}

func (r *Registry) Connected(id string) bool {
	r.mu.Lock()
	_, ok := r.users[id]
	r.mu.Unlock()
	return ok
}

// UpdateAddress applies a client-reported local address. Only the first
// report with a usable prefix is applied; later calls return false.
func (r *Registry) UpdateAddress(id string, ident peeraddr.Identity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, ErrUnknownUser
	}
	if u.localReported || ident.Prefix == "" {
		return false, nil
	}
	u.ident = ident
	u.localReported = true
	return true, nil
}

// SetPendingOffer stores payload on the flight owned by userID so that a
// later joiner can be handed the owner's offer. It returns the flight code.
func (r *Registry) SetPendingOffer(userID string, payload json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	f, ok := r.flights[u.flight]
	if !ok || f.owner != userID {
		return "", ErrNotFlightMember
	}
	f.pendingOffer = slices.Clone(payload)
	return f.code, nil
}

// SharedFlight reports whether a and b are members of the same flight.
func (r *Registry) SharedFlight(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ua, ok := r.users[a]
	if !ok || ua.flight == "" {
		return false
	}
	ub, ok := r.users[b]
	if !ok {
		return false
	}
	return ua.flight == ub.flight
}

func (r *Registry) Stats() (users, flights int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), len(r.flights)
}

// leaveLocked removes u from its flight. An owner leaving dissolves the flight
// and releases the remaining member.
func (r *Registry) leaveLocked(u *userRecord) LeaveResult {
	code := u.flight
	if code == "" {
		return LeaveResult{}
	}
	u.flight = ""

	f, ok := r.flights[code]
	if !ok {
		r.metrics.Inc(metrics.InvariantViolation)
		r.logger.Error("user referenced a missing flight", "user_id", u.id, "code", code)
		return LeaveResult{}
	}
	f.members = slices.DeleteFunc(f.members, func(id string) bool { return id == u.id })

	res := LeaveResult{Code: code, Notify: slices.Clone(f.members)}
	if u.id != f.owner && len(f.members) > 0 {
		res.Flight = r.snapshotLocked(f)
		r.logger.Info("flight left", "code", code, "user_id", u.id)
		return res
	}

	f.ownerConnected = false
	res.Dissolved = true
	res.Flight = r.snapshotLocked(f)
	r.dissolveLocked(f)
	r.metrics.Inc(metrics.FlightsDissolved)
	r.logger.Info("flight dissolved", "code", code, "user_id", u.id, "released", len(res.Notify))
	return res
}

// dissolveLocked deletes f and releases its members.
func (r *Registry) dissolveLocked(f *flightRecord) {
	for _, id := range f.members {
		if m, ok := r.users[id]; ok && m.flight == f.code {
			m.flight = ""
		}
	}
	delete(r.flights, f.code)
}

// consistentLocked reports whether f satisfies the membership invariants.
func (r *Registry) consistentLocked(f *flightRecord) bool {
	if len(f.members) == 0 || len(f.members) > MaxMembers {
		return false
	}
	if !slices.Contains(f.members, f.owner) {
		return false
	}
	_, ok := r.users[f.owner]
	return ok
}

func (r *Registry) snapshotLocked(f *flightRecord) Flight {
	members := make([]Peer, 0, len(f.members))
	for _, id := range f.members {
		p := Peer{ID: id}
		if u, ok := r.users[id]; ok {
			p.Name = u.name
		}
		members = append(members, p)
	}
	return Flight{
		Code:           f.code,
		OwnerID:        f.owner,
		Members:        members,
		OwnerConnected: f.ownerConnected,
		PendingOffer:   slices.Clone(f.pendingOffer),
		CreatedAt:      f.createdAt,
	}
}

func (u *userRecord) snapshot() User {
	return User{
		ID:            u.id,
		Name:          u.name,
		IP:            u.ident.IP,
		Prefix:        u.ident.Prefix,
		Private:       u.ident.Private,
		InFlight:      u.flight != "",
		LocalReported: u.localReported,
	}
}

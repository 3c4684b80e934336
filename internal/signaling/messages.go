package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/registry"
)

// Client to server events.
const (
	eventCreateFlight     = "createFlight"
	eventJoinFlight       = "joinFlight"
	eventRequestToConnect = "requestToConnect"
	eventInviteToFlight   = "inviteToFlight"
	eventGetNearbyUsers   = "getNearbyUsers"
	eventLeaveFlight      = "leaveFlight"
	eventLocalAddress     = "localAddress"
	eventUpdateStats      = "updateStats"
)

// Relayed in both directions.
const (
	eventOffer        = "offer"
	eventAnswer       = "answer"
	eventICECandidate = "ice-candidate"
)

// Server to client events.
const (
	eventAck             = "ack"
	eventError           = "error"
	eventYourDetails     = "yourDetails"
	eventFlightUsers     = "flightUsers"
	eventFlightStarted   = "flightStarted"
	eventInvitedToFlight = "invitedToFlight"
	eventNearbyUsers     = "nearbyUsers"
)

// Envelope is a single WebSocket text frame.
type Envelope struct {
	Type string          `json:"type"`
	Ack  string          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Type string `json:"type"`
	Ack  string `json:"ack,omitempty"`
	Data any    `json:"data,omitempty"`
}

func encodeEnvelope(typ, ack string, data any) ([]byte, error) {
	b, err := json.Marshal(outEnvelope{Type: typ, Ack: ack, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return b, nil
}

// decodeData unmarshals env.Data into v. A missing data field leaves v
// untouched.
func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AckResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type yourDetails struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FlightUsers struct {
	Code           string          `json:"code"`
	OwnerID        string          `json:"ownerId"`
	Members        []registry.Peer `json:"members"`
	OwnerConnected bool            `json:"ownerConnected"`
}

func flightUsersOf(f registry.Flight) FlightUsers {
	members := f.Members
	if members == nil {
		members = []registry.Peer{}
	}
	return FlightUsers{
		Code:           f.Code,
		OwnerID:        f.OwnerID,
		Members:        members,
		OwnerConnected: f.OwnerConnected,
	}
}

type flightStarted struct {
	Code    string          `json:"code"`
	Members []registry.Peer `json:"members"`
}

type invitedToFlight struct {
	FlightCode string `json:"flightCode"`
	FromID     string `json:"fromId"`
	FromName   string `json:"fromName"`
}

type joinFlightRequest struct {
	Code string `json:"code"`
}

type requestToConnectRequest struct {
	TargetID string `json:"targetId"`
}

type inviteToFlightRequest struct {
	TargetID   string `json:"targetId"`
	FlightCode string `json:"flightCode"`
}

type localAddressRequest struct {
	LocalAddress string `json:"localAddress"`
}

type updateStatsRequest struct {
	FilesShared int64   `json:"filesShared"`
	Transferred float64 `json:"transferred"`
}

// relayRequest is the body of offer, answer and ice-candidate events. Older
// clients address candidates with "id" instead of "to".
type relayRequest struct {
	To        string          `json:"to"`
	ID        string          `json:"id,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (r relayRequest) target() string {
	if r.To != "" {
		return r.To
	}
	return r.ID
}

type RelayPayload struct {
	From      string          `json:"from"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

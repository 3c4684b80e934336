// Package signaling is the WebSocket surface of the flight relay.
//
// Each connected browser gets a user identity, can create or join a two-party
// flight, and exchanges offer/answer/ice-candidate payloads with the other
// member. Payloads are relayed verbatim; the server never interprets SDP or
// candidates.
package signaling

// Package protocol implements the wire format exchanged between the
// rendezvous service and its peers: UTF-8 JSON text frames discriminated by
// a "type" field. Decode never panics on malformed input; it always returns
// an error instead.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned by Decode when the frame's "type" field does
// not match any known client-to-server variant.
var ErrUnknownType = errors.New("protocol: unknown message type")

// PeerInfo is the public, non-sensitive description of a peer broadcast to
// other room members. device_type is an opaque tag: common values observed
// among clients are "phone", "tablet", "laptop", and "desktop", but nothing
// in this package validates against that set.
type PeerInfo struct {
	PeerCode   string `json:"peer_code"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
}

// ClientMessage is the decoded form of any client-to-server frame. Exactly
// one of the typed fields is meaningful, selected by Type.
type ClientMessage struct {
	Type string

	Register *RegisterPayload
	Signal   *SignalPayload
	// Ping carries no payload; its presence is implied by Type == "ping".
}

// RegisterPayload carries the fields of a "register" frame.
type RegisterPayload struct {
	PeerCode   string
	DeviceName string
	DeviceType string
}

// SignalPayload carries the fields of a "signal" frame. Payload is kept as
// raw JSON so the rendezvous never interprets it: it is opaque
// application/WebRTC data relayed byte-for-byte to the target peer.
type SignalPayload struct {
	To      string
	Payload json.RawMessage
}

type wireClientFrame struct {
	Type       string          `json:"type"`
	PeerCode   string          `json:"peer_code,omitempty"`
	DeviceName string          `json:"device_name,omitempty"`
	DeviceType string          `json:"device_type,omitempty"`
	To         string          `json:"to,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a single UTF-8 JSON text frame sent by a client. It never
// panics; any structural or type problem is returned as an error so the
// caller can count it as a protocol violation rather than crash the
// connection handler.
func Decode(data []byte) (ClientMessage, error) {
	var w wireClientFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return ClientMessage{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}

	switch w.Type {
	case "register":
		return ClientMessage{
			Type: w.Type,
			Register: &RegisterPayload{
				PeerCode:   w.PeerCode,
				DeviceName: w.DeviceName,
				DeviceType: w.DeviceType,
			},
		}, nil
	case "signal":
		return ClientMessage{
			Type: w.Type,
			Signal: &SignalPayload{
				To:      w.To,
				Payload: w.Payload,
			},
		}, nil
	case "ping":
		return ClientMessage{Type: w.Type}, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}

// EncodePeersSnapshot encodes the "peers" server→client frame sent once at
// successful registration.
func EncodePeersSnapshot(peers []PeerInfo) ([]byte, error) {
	if peers == nil {
		peers = []PeerInfo{}
	}
	return json.Marshal(struct {
		Type  string     `json:"type"`
		Peers []PeerInfo `json:"peers"`
	}{Type: "peers", Peers: peers})
}

// EncodePeerJoined encodes the "peer_joined" broadcast frame.
func EncodePeerJoined(peer PeerInfo) ([]byte, error) {
	return json.Marshal(struct {
		Type string   `json:"type"`
		Peer PeerInfo `json:"peer"`
	}{Type: "peer_joined", Peer: peer})
}

// EncodePeerLeft encodes the "peer_left" broadcast frame.
func EncodePeerLeft(peerCode string) ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		PeerCode string `json:"peer_code"`
	}{Type: "peer_left", PeerCode: peerCode})
}

// EncodeSignal encodes a relayed "signal" frame. from is always server-set,
// never client-controlled; payload is forwarded byte-for-byte from the
// sender.
func EncodeSignal(from string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(struct {
		Type    string          `json:"type"`
		From    string          `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}{Type: "signal", From: from, Payload: payload})
}

// EncodeError encodes a supplemental "error" frame. This variant is not
// part of the minimal wire schema but mirrors the original signaling
// implementation's practice of telling a client why a frame it just sent
// was rejected, without closing the connection over a first or second
// infraction.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{Type: "error", Message: message})
}

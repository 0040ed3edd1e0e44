// Package trust implements the pure, stateless predicates that guard the
// untrusted edge of the rendezvous service: frame size caps, field length
// caps, frame type checks, and remote-address classification into room
// codes. None of these functions hold state or perform I/O.
package trust

import (
	"errors"
	"net"
	"strings"
)

const (
	// MaxMessageBytes is the hard cap on a single WebSocket text message,
	// enforced a second time here even though the transport already caps
	// frame size at the same value.
	MaxMessageBytes = 1 << 20 // 1 MiB

	// MaxDeviceNameBytes caps the UTF-8 byte length of a device_name field.
	MaxDeviceNameBytes = 256

	// MaxPeerCodeBytes caps the UTF-8 byte length of peer_code and
	// signal-target fields.
	MaxPeerCodeBytes = 16
)

var (
	ErrMessageTooLarge = errors.New("trust: message exceeds size limit")
	ErrFieldEmpty      = errors.New("trust: field must not be empty")
	ErrFieldTooLong    = errors.New("trust: field exceeds length limit")
	ErrBinaryFrame     = errors.New("trust: binary frames are not permitted")
)

// ValidateMessageSize rejects a message whose byte length exceeds
// MaxMessageBytes. This is the second line of defense; the first is the
// WebSocket library's own max-message configuration at the transport layer.
func ValidateMessageSize(b []byte) error {
	if len(b) > MaxMessageBytes {
		return ErrMessageTooLarge
	}
	return nil
}

// ValidateDeviceName rejects a device name whose UTF-8 byte length exceeds
// MaxDeviceNameBytes. Empty device names are permitted; device_name is a
// purely opaque display string.
func ValidateDeviceName(s string) error {
	if len(s) > MaxDeviceNameBytes {
		return ErrFieldTooLong
	}
	return nil
}

// ValidatePeerCode rejects a peer_code that is empty or whose UTF-8 byte
// length exceeds MaxPeerCodeBytes.
func ValidatePeerCode(s string) error {
	if s == "" {
		return ErrFieldEmpty
	}
	if len(s) > MaxPeerCodeBytes {
		return ErrFieldTooLong
	}
	return nil
}

// ValidateSignalTarget applies the identical rule as ValidatePeerCode: a
// signal's "to" field is itself a peer_code.
func ValidateSignalTarget(s string) error {
	return ValidatePeerCode(s)
}

// IsTextFrame reports whether messageType (as returned by a WebSocket read,
// e.g. gorilla/websocket's TextMessage/BinaryMessage constants) identifies a
// text frame. Signaling is text-only; binary frames are rejected outright.
func IsTextFrame(messageType int) bool {
	const textMessage = 1 // websocket.TextMessage
	return messageType == textMessage
}

// Room codes for the private address classes. Every peer whose remote
// address falls in any private range collapses into a single shared room
// code, distinguishing only IPv4 from IPv6 space so the two families never
// collide with each other or with a public address's own singleton room.
const (
	privateIPv4Room = "lan-v4"
	privateIPv6Room = "lan-v6"
)

var privateIPv4Blocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16", // link-local
	"100.64.0.0/10",  // CGNAT
	"127.0.0.0/8",    // loopback: treated as local for single-host dev/testing
)

var privateIPv6Blocks = mustParseCIDRs(
	"fc00::/7",  // unique local
	"fe80::/10", // link-local
	"::1/128",   // loopback
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("trust: invalid CIDR literal " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// ClassifyAddress derives a stable, short room code from a connecting
// socket's remote address. host may be a bare IP or an "ip:port" pair; the
// port, if present, is stripped before classification.
//
// Any two peers whose remote addresses fall in the same private range
// (IPv4 or IPv6, per RFC 1918/4193/3927/6598 and their IPv6 equivalents)
// receive the same room code. A public address never collides with a
// private-range code, and forms a singleton room keyed by its own address.
func ClassifyAddress(host string) string {
	ip := parseHost(host)
	if ip == nil {
		// Unparseable input still needs a stable code; fall back to the
		// literal string so callers get deterministic, if degenerate,
		// behavior instead of a panic.
		return "unknown:" + host
	}

	for _, n := range privateIPv4Blocks {
		if n.Contains(ip) {
			return privateIPv4Room
		}
	}
	for _, n := range privateIPv6Blocks {
		if n.Contains(ip) {
			return privateIPv6Room
		}
	}

	return "pub:" + ip.String()
}

func parseHost(host string) net.IP {
	h := host
	if strings.ContainsRune(h, ':') {
		if hostOnly, _, err := net.SplitHostPort(h); err == nil {
			h = hostOnly
		}
	}
	h = strings.TrimPrefix(strings.TrimSuffix(h, "]"), "[")
	return net.ParseIP(h)
}

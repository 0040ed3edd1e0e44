// Package session implements the per-connection state machine described by
// the rendezvous service: accept, validate, register, run a message loop
// concurrently with an outbound pump, then tear down. It depends only on a
// small Conn interface, not on any particular WebSocket library, so the
// state machine can be exercised with an in-memory fake.
package session

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warplink/rendezvous/internal/protocol"
	"github.com/warplink/rendezvous/internal/ratelimit"
	"github.com/warplink/rendezvous/internal/room"
	"github.com/warplink/rendezvous/internal/trust"
)

// WebSocket frame/opcode values, matching RFC 6455 and gorilla/websocket's
// constants of the same name, kept local so this package has no transport
// dependency.
const (
	TextMessage   = 1
	BinaryMessage = 2
	CloseMessage  = 8
)

// Standard WebSocket close codes used by this service.
const (
	CloseNormalClosure   = 1000
	ClosePolicyViolation = 1008
)

const defaultOutboundBuffer = 64

// Conn is the minimal surface a WebSocket connection needs to expose for
// the state machine to drive it. gorilla/websocket's *websocket.Conn
// satisfies this directly.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Handler runs the connection lifecycle against a shared room registry.
type Handler struct {
	// Manager is the process-wide room registry. Required.
	Manager *room.Manager

	// Clock supplies the current time to this connection's rate-limit
	// bucket. Defaults to time.Now; tests inject a deterministic source.
	Clock func() time.Time

	// OutboundBuffer sets the per-connection outbound channel capacity.
	// Defaults to 64 messages.
	OutboundBuffer int
}

func (h *Handler) clock() ratelimit.Clock {
	if h.Clock != nil {
		return h.Clock
	}
	return time.Now
}

func (h *Handler) bufferSize() int {
	if h.OutboundBuffer > 0 {
		return h.OutboundBuffer
	}
	return defaultOutboundBuffer
}

// Handle runs the full per-connection state machine: registration, then
// the concurrent message loop and outbound pump, then teardown. It returns
// once the connection has been fully cleaned up and conn has been closed.
// remoteAddr is the connecting socket's remote address (host or host:port),
// used to classify the peer into a room code per the trust boundary.
func (h *Handler) Handle(conn Conn, remoteAddr string) {
	connID := uuid.NewString()
	roomCode := trust.ClassifyAddress(remoteAddr)
	bucket := ratelimit.New(h.clock())
	outbound := make(room.ChanSender, h.bufferSize())
	closeReq := make(chan closeRequest, 1)

	pumpDone := make(chan struct{})
	go outboundPump(conn, outbound, closeReq, pumpDone)

	peerCode, registered := h.registerPhase(conn, connID, roomCode, bucket, outbound, closeReq)
	if registered {
		h.messageLoop(conn, connID, roomCode, peerCode, bucket, outbound, closeReq)
		h.Manager.RemovePeer(roomCode, peerCode)
	}

	close(outbound)
	<-pumpDone
	conn.Close()
}

// registerPhase consumes exactly one frame and requires it to be a valid,
// non-colliding "register". Any other outcome rejects the connection.
func (h *Handler) registerPhase(conn Conn, connID, roomCode string, bucket *ratelimit.Bucket, outbound room.ChanSender, closeReq chan<- closeRequest) (peerCode string, accepted bool) {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	if !trust.IsTextFrame(messageType) {
		requestClose(closeReq, ClosePolicyViolation, "binary frames are not permitted")
		return "", false
	}
	if err := trust.ValidateMessageSize(data); err != nil {
		requestClose(closeReq, ClosePolicyViolation, "message exceeds size limit")
		return "", false
	}
	if bucket.Allow() {
		fmt.Printf("session: conn_id=%s room=%s rate limit exceeded before registration\n", connID, roomCode)
		requestClose(closeReq, ClosePolicyViolation, "rate limit exceeded")
		return "", false
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		requestClose(closeReq, ClosePolicyViolation, "malformed frame before registration")
		return "", false
	}
	if msg.Type != "register" {
		requestClose(closeReq, ClosePolicyViolation, "first frame must be register")
		return "", false
	}

	reg := msg.Register
	if err := trust.ValidatePeerCode(reg.PeerCode); err != nil {
		requestClose(closeReq, ClosePolicyViolation, "invalid peer_code")
		return "", false
	}
	if err := trust.ValidateDeviceName(reg.DeviceName); err != nil {
		requestClose(closeReq, ClosePolicyViolation, "invalid device_name")
		return "", false
	}

	existing, err := h.Manager.AddPeer(roomCode, reg.PeerCode, room.Peer{
		PeerCode:   reg.PeerCode,
		DeviceName: reg.DeviceName,
		DeviceType: reg.DeviceType,
	}, outbound)
	if err != nil {
		fmt.Printf("session: conn_id=%s room=%s peer_code=%s already in use\n", connID, roomCode, reg.PeerCode)
		requestClose(closeReq, ClosePolicyViolation, "peer_code already in use")
		return "", false
	}

	infos := make([]protocol.PeerInfo, len(existing))
	for i, p := range existing {
		infos[i] = protocol.PeerInfo{PeerCode: p.PeerCode, DeviceName: p.DeviceName, DeviceType: p.DeviceType}
	}
	snapshot, _ := protocol.EncodePeersSnapshot(infos)
	outbound.Enqueue(snapshot)

	return reg.PeerCode, true
}

// messageLoop processes frames after successful registration until the
// socket closes, errors, or a trust-boundary/rate violation closes it.
func (h *Handler) messageLoop(conn Conn, connID, roomCode, peerCode string, bucket *ratelimit.Bucket, outbound room.ChanSender, closeReq chan<- closeRequest) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !trust.IsTextFrame(messageType) {
			requestClose(closeReq, ClosePolicyViolation, "binary frames are not permitted")
			return
		}
		if err := trust.ValidateMessageSize(data); err != nil {
			requestClose(closeReq, ClosePolicyViolation, "message exceeds size limit")
			return
		}
		if bucket.Allow() {
			fmt.Printf("session: conn_id=%s room=%s peer_code=%s rate limit exceeded\n", connID, roomCode, peerCode)
			requestClose(closeReq, ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if bucket.RecordViolation() {
				requestClose(closeReq, ClosePolicyViolation, "rate limit exceeded")
				return
			}
			if frame, encErr := protocol.EncodeError(err.Error()); encErr == nil {
				outbound.Enqueue(frame)
			}
			continue
		}

		switch msg.Type {
		case "signal":
			h.handleSignal(roomCode, peerCode, outbound, msg.Signal)
		case "ping":
			// Keepalive: the rendezvous ignores it beyond the rate/size
			// checks already applied above.
		case "register":
			if frame, encErr := protocol.EncodeError("already registered"); encErr == nil {
				outbound.Enqueue(frame)
			}
		}
	}
}

func (h *Handler) handleSignal(roomCode, fromPeerCode string, outbound room.ChanSender, sig *protocol.SignalPayload) {
	if sig == nil {
		return
	}
	if err := trust.ValidateSignalTarget(sig.To); err != nil {
		return
	}

	sender, ok := h.Manager.FindPeer(roomCode, sig.To)
	if !ok {
		return // no delivery guarantee: silently dropped
	}

	frame, err := protocol.EncodeSignal(fromPeerCode, sig.Payload)
	if err != nil {
		return
	}
	sender.Enqueue(frame)
}

// closeRequest asks the outbound pump to write a close frame and stop. The
// inbound loop never writes to the socket itself: gorilla/websocket (and
// this package's Conn contract) permit only one concurrent writer, and the
// outbound pump is that writer for the lifetime of the connection.
type closeRequest struct {
	code   int
	reason string
}

// requestClose hands a close frame to the outbound pump. The channel is
// buffered to exactly one slot and only ever sent to once per connection
// (the inbound loop returns immediately after), so the non-blocking send
// here is just a safety net against a second, redundant request.
func requestClose(closeReq chan<- closeRequest, code int, reason string) {
	select {
	case closeReq <- closeRequest{code: code, reason: reason}:
	default:
	}
}

// outboundPump drains outbound to conn in FIFO order until the channel is
// closed (normal teardown), a write fails, or a close is requested. It is
// the connection's sole writer, so the inbound loop never touches the
// socket directly.
func outboundPump(conn Conn, outbound room.ChanSender, closeReq <-chan closeRequest, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				// A close requested just before teardown closed outbound
				// must still be written.
				select {
				case req := <-closeReq:
					_ = conn.WriteMessage(CloseMessage, formatCloseMessage(req.code, req.reason))
				default:
				}
				return
			}
			if err := conn.WriteMessage(TextMessage, msg); err != nil {
				return
			}
		case req := <-closeReq:
			_ = conn.WriteMessage(CloseMessage, formatCloseMessage(req.code, req.reason))
			return
		}
	}
}

// formatCloseMessage builds an RFC 6455 close-frame payload: a two-byte
// big-endian status code followed by a UTF-8 reason.
func formatCloseMessage(code int, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(code))
	copy(buf[2:], reason)
	return buf
}

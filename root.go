package rendezvous

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/warplink/rendezvous/internal/room"
	"github.com/warplink/rendezvous/ws"
)

// Peer is the public, non-sensitive description of a peer, shared between
// the internal room registry and any caller inspecting live state.
type Peer = room.Peer

// Config configures a Server.
type Config struct {
	// Addr is the address to listen on, e.g. ":8443".
	Addr string

	// CheckOrigin validates the Origin header of upgrade requests. Use
	// ws.AllOrigins() only for local development.
	CheckOrigin ws.CheckOriginFn

	// MaxHandshakesPerSecond, if positive, caps the rate of new WebSocket
	// upgrades server-wide. This is independent of and layered above the
	// per-connection message-rate limit each registered peer is still
	// subject to once connected.
	MaxHandshakesPerSecond rate.Limit

	// HandshakeBurst is the token-bucket burst backing
	// MaxHandshakesPerSecond.
	HandshakeBurst int
}

// Server is the rendezvous service: a room registry plus the WebSocket
// transport that drives it.
type Server struct {
	manager   *room.Manager
	transport *ws.Server
}

// New constructs a Server. It does not start listening until Start is
// called.
func New(cfg Config) *Server {
	manager := room.NewManager()
	transport := ws.New(manager, ws.Config{
		Addr:                   cfg.Addr,
		CheckOrigin:            cfg.CheckOrigin,
		MaxHandshakesPerSecond: cfg.MaxHandshakesPerSecond,
		HandshakeBurst:         cfg.HandshakeBurst,
	})
	return &Server{manager: manager, transport: transport}
}

// Start begins listening for WebSocket connections. See ws.Server.Start
// for its exact startup/cancellation semantics.
func (s *Server) Start(ctx context.Context) error {
	return s.transport.Start(ctx)
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.transport.Stop(ctx)
}

// RoomCount reports the number of non-empty rooms currently tracked.
func (s *Server) RoomCount() int {
	return s.manager.RoomCount()
}

// PeerCount reports the total number of registered peers across all rooms.
func (s *Server) PeerCount() int {
	return s.manager.PeerCount()
}

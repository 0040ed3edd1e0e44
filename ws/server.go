// Package ws is the WebSocket transport: it owns the HTTP upgrade, origin
// checking, and connection-admission throttle, then hands each accepted
// socket to internal/session for the protocol-level state machine.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/warplink/rendezvous/internal/room"
	"github.com/warplink/rendezvous/internal/session"
	"github.com/warplink/rendezvous/internal/trust"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
)

// CheckOriginFn validates the Origin header of an incoming upgrade request.
// Return true to allow the connection, false to reject it.
type CheckOriginFn = func(r *http.Request) bool

// AllOrigins allows every upgrade request regardless of Origin. Intended
// for local development; production deployments should supply a stricter
// check.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool { return true }
}

// Config configures a Server.
type Config struct {
	// Addr is the address to listen on, e.g. ":8080".
	Addr string

	// CheckOrigin validates the Origin header. Defaults to gorilla's own
	// same-origin check when nil.
	CheckOrigin CheckOriginFn

	// MaxHandshakesPerSecond caps the server-wide rate of new upgrade
	// attempts. Zero disables the throttle.
	MaxHandshakesPerSecond rate.Limit

	// HandshakeBurst is the token-bucket burst size backing
	// MaxHandshakesPerSecond. Defaults to 1 if unset while the throttle is
	// enabled.
	HandshakeBurst int

	// OutboundBuffer overrides the per-connection outbound channel
	// capacity. Zero uses internal/session's default.
	OutboundBuffer int
}

// Server listens for WebSocket upgrade requests and runs each connection
// through the rendezvous state machine against a shared room registry.
type Server struct {
	addr       string
	upgrader   websocket.Upgrader
	handler    *session.Handler
	admission  *rate.Limiter
	httpServer *http.Server
}

// New returns a Server bound to manager. It does not start listening until
// Start is called.
func New(manager *room.Manager, cfg Config) *Server {
	s := &Server{
		addr: cfg.Addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		handler: &session.Handler{
			Manager:        manager,
			OutboundBuffer: cfg.OutboundBuffer,
		},
	}

	if cfg.MaxHandshakesPerSecond > 0 {
		burst := cfg.HandshakeBurst
		if burst <= 0 {
			burst = 1
		}
		s.admission = rate.NewLimiter(cfg.MaxHandshakesPerSecond, burst)
	}

	return s
}

// Start begins listening in the background. It returns the listen error if
// ListenAndServe fails within a 100 ms startup period, shuts the server down
// if ctx is cancelled during that period, and otherwise returns nil. It does
// not block for the server's lifetime, and ctx is not watched after Start
// returns; call Stop to shut the server down.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP listener, waiting for in-flight
// upgrades to finish. It does not forcibly close already-accepted
// WebSocket connections; those tear down on their own via internal/session
// once their sockets close.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.admission != nil && !s.admission.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("ws: upgrade failed for %s: %v\n", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(trust.MaxMessageBytes)

	go s.handler.Handle(conn, remoteAddress(r))
}

// remoteAddress resolves the address the trust boundary should classify: a
// reverse proxy's X-Forwarded-For header takes precedence over the raw TCP
// peer address, since the service is routinely deployed behind one. Only
// the first (client-nearest) address in the header is trusted; it is not
// itself re-validated against the proxy's own address, matching the
// service's stated trust model of accepting operator-controlled deployment
// topology as given.
func remoteAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if addr := strings.TrimSpace(fwd); addr != "" {
			return addr
		}
	}
	return r.RemoteAddr
}

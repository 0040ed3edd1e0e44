// Package rendezvous is a WebRTC signaling rendezvous service: it lets two
// peers on the same private network (or a client and a public relay)
// discover each other and exchange opaque SDP/ICE payloads without either
// party learning anything about the other beyond what it chooses to send.
//
// # Architecture
//
// A connecting socket is classified into a room code from its remote
// address (private ranges collapse into one shared room per address
// family; public addresses each get a room of their own). Inside a room,
// peers register a short peer_code, receive a snapshot of who else is
// present, and relay arbitrary signaling payloads to each other by
// peer_code. The rendezvous never parses or interprets those payloads.
//
// # Quick Start
//
//	srv := rendezvous.New(rendezvous.Config{
//	    Addr:        ":8443",
//	    CheckOrigin: ws.AllOrigins(), // never use in production
//	})
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatalf("failed to start: %v", err)
//	}
//	defer srv.Stop(context.Background())
//
// # Wire Protocol
//
// Clients speak UTF-8 JSON text frames over the WebSocket, discriminated
// by a "type" field: "register", "signal", and "ping" from the client;
// "peers", "peer_joined", "peer_left", "signal", and "error" from the
// server. Binary frames are rejected outright.
//
// # Trust Boundary
//
// Every connection is fail-closed: binary or oversize frames terminate the
// socket at once, while malformed JSON and per-connection message flooding
// count as violations that terminate it on the third in a row. Three
// consecutive one-second windows over the message-rate limit close the
// connection; a single violating window does not.
package rendezvous

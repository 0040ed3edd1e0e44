// Package room implements the process-wide, in-memory room registry: the
// single piece of state shared across every connection. A room is a set of
// peers sharing a room code; the registry is created at process start and
// holds no state that outlives the process.
package room

import (
	"errors"
	"sync"

	"github.com/warplink/rendezvous/internal/protocol"
)

// ErrDuplicatePeer is returned by AddPeer when peerCode is already present
// in the target room. The same peerCode registering in a different room is
// not an error.
var ErrDuplicatePeer = errors.New("room: peer_code already registered in this room")

// Peer is the metadata tracked for a registered peer.
type Peer struct {
	PeerCode   string
	DeviceName string
	DeviceType string
}

func (p Peer) info() protocol.PeerInfo {
	return protocol.PeerInfo{PeerCode: p.PeerCode, DeviceName: p.DeviceName, DeviceType: p.DeviceType}
}

// Sender is the enqueue-only capability the manager holds for a registered
// peer's outbound pump. Implementations must never block and must never
// panic, even if the underlying transport has already torn down: a send
// racing a disconnect is silently dropped, not an error.
type Sender interface {
	Enqueue(msg []byte)
}

// ChanSender adapts a buffered byte-slice channel to Sender. Sending on a
// full or closed channel is a silent no-op: the rendezvous gives no
// delivery guarantees, and the disconnecting connection is solely
// responsible for its own eventual removal from the room.
type ChanSender chan []byte

// Enqueue implements Sender. A send to a channel closed by a concurrently
// disconnecting peer panics in Go; that race is expected here; recover
// converts it into the same silent drop as a full buffer.
func (s ChanSender) Enqueue(msg []byte) {
	defer func() { _ = recover() }()
	select {
	case s <- msg:
	default:
	}
}

type member struct {
	peer   Peer
	sender Sender
}

type roomEntry struct {
	members map[string]*member
}

// Manager is the single-mutex, in-memory room registry described by the
// rendezvous concurrency model: one lock covers room creation/deletion,
// peer insertion/removal, lookups, and the presence-broadcast enqueue that
// happens inside the same critical section as the mutation that triggers
// it.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*roomEntry)}
}

// AddPeer inserts peerCode into roomCode, lazily creating the room if this
// is its first peer. On success it returns the snapshot of peers that were
// already present (for the caller's "peers" reply) and, within the same
// critical section, enqueues a peer_joined frame to each of them. On a
// peer_code collision within the room it returns ErrDuplicatePeer and
// leaves the room unchanged.
func (m *Manager) AddPeer(roomCode, peerCode string, info Peer, sender Sender) ([]Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomCode]
	if !ok {
		r = &roomEntry{members: make(map[string]*member)}
		m.rooms[roomCode] = r
	}

	if _, exists := r.members[peerCode]; exists {
		return nil, ErrDuplicatePeer
	}

	existing := make([]Peer, 0, len(r.members))
	joined, _ := protocol.EncodePeerJoined(info.info())
	for _, mem := range r.members {
		existing = append(existing, mem.peer)
		mem.sender.Enqueue(joined)
	}

	r.members[peerCode] = &member{peer: info, sender: sender}
	return existing, nil
}

// RemovePeer removes peerCode from roomCode, if both exist, broadcasting
// peer_left to the peers that remain. It is idempotent: removing an absent
// peer or a nonexistent room is a no-op and reports removed=false. If the
// room becomes empty as a result, its entry is deleted in the same
// critical section.
func (m *Manager) RemovePeer(roomCode, peerCode string) (removed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomCode]
	if !ok {
		return false
	}
	if _, exists := r.members[peerCode]; !exists {
		return false
	}
	delete(r.members, peerCode)

	left, _ := protocol.EncodePeerLeft(peerCode)
	for _, mem := range r.members {
		mem.sender.Enqueue(left)
	}

	if len(r.members) == 0 {
		delete(m.rooms, roomCode)
	}
	return true
}

// FindPeer looks up the outbound Sender for peerCode within roomCode. A
// signal is only ever routed within the sender's own room; a peer in a
// different room is indistinguishable from an absent one to this call.
func (m *Manager) FindPeer(roomCode, peerCode string) (Sender, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomCode]
	if !ok {
		return nil, false
	}
	mem, ok := r.members[peerCode]
	if !ok {
		return nil, false
	}
	return mem.sender, true
}

// RoomPeers returns a snapshot of the peers currently in roomCode. A
// nonexistent room yields an empty slice, never an error.
func (m *Manager) RoomPeers(roomCode string) []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomCode]
	if !ok {
		return nil
	}
	peers := make([]Peer, 0, len(r.members))
	for _, mem := range r.members {
		peers = append(peers, mem.peer)
	}
	return peers
}

// RoomCount returns the number of non-empty rooms currently tracked.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// PeerCount returns the total number of registered peers across all rooms.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, r := range m.rooms {
		total += len(r.members)
	}
	return total
}

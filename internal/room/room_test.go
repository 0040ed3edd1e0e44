package room

import (
	"encoding/json"
	"testing"
)

// recordingSender captures every frame enqueued to it, for assertions.
type recordingSender struct {
	frames [][]byte
}

func (s *recordingSender) Enqueue(msg []byte) {
	s.frames = append(s.frames, msg)
}

func frameType(t *testing.T, data []byte) string {
	t.Helper()
	var decoded struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	return decoded.Type
}

func TestAddPeerFirstInRoomHasNoExistingPeers(t *testing.T) {
	t.Parallel()

	m := NewManager()
	existing, err := m.AddPeer("room1", "ALPHA", Peer{PeerCode: "ALPHA", DeviceName: "Desktop A"}, &recordingSender{})
	if err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("expected no existing peers, got %v", existing)
	}
	if m.RoomCount() != 1 || m.PeerCount() != 1 {
		t.Errorf("RoomCount()=%d PeerCount()=%d, want 1,1", m.RoomCount(), m.PeerCount())
	}
}

func TestAddPeerReturnsSnapshotBeforeInsert(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.AddPeer("room1", "AAA", Peer{PeerCode: "AAA"}, &recordingSender{})
	existing, err := m.AddPeer("room1", "BBB", Peer{PeerCode: "BBB"}, &recordingSender{})
	if err != nil {
		t.Fatalf("AddPeer() error = %v", err)
	}
	if len(existing) != 1 || existing[0].PeerCode != "AAA" {
		t.Errorf("existing = %v, want [AAA]", existing)
	}
}

func TestAddPeerRejectsDuplicateInSameRoom(t *testing.T) {
	t.Parallel()

	m := NewManager()
	if _, err := m.AddPeer("room1", "DUP", Peer{PeerCode: "DUP"}, &recordingSender{}); err != nil {
		t.Fatalf("first AddPeer() error = %v", err)
	}
	_, err := m.AddPeer("room1", "DUP", Peer{PeerCode: "DUP"}, &recordingSender{})
	if err != ErrDuplicatePeer {
		t.Errorf("second AddPeer() error = %v, want ErrDuplicatePeer", err)
	}
	if m.PeerCount() != 1 {
		t.Errorf("PeerCount() = %d, want 1", m.PeerCount())
	}
}

func TestAddPeerSameCodeAcrossRoomsAllowed(t *testing.T) {
	t.Parallel()

	m := NewManager()
	if _, err := m.AddPeer("room1", "SAME", Peer{PeerCode: "SAME"}, &recordingSender{}); err != nil {
		t.Fatalf("AddPeer(room1) error = %v", err)
	}
	if _, err := m.AddPeer("room2", "SAME", Peer{PeerCode: "SAME"}, &recordingSender{}); err != nil {
		t.Fatalf("AddPeer(room2) error = %v", err)
	}
	if m.RoomCount() != 2 || m.PeerCount() != 2 {
		t.Errorf("RoomCount()=%d PeerCount()=%d, want 2,2", m.RoomCount(), m.PeerCount())
	}
}

func TestAddPeerBroadcastsPeerJoinedToExistingMembers(t *testing.T) {
	t.Parallel()

	m := NewManager()
	first := &recordingSender{}
	m.AddPeer("room1", "FIRST", Peer{PeerCode: "FIRST"}, first)

	m.AddPeer("room1", "SECOND", Peer{PeerCode: "SECOND", DeviceName: "Phone", DeviceType: "phone"}, &recordingSender{})

	if len(first.frames) != 1 {
		t.Fatalf("FIRST should have received exactly one broadcast, got %d", len(first.frames))
	}
	if got := frameType(t, first.frames[0]); got != "peer_joined" {
		t.Errorf("frame type = %q, want peer_joined", got)
	}
}

func TestRemovePeerRemovesAndBroadcastsPeerLeft(t *testing.T) {
	t.Parallel()

	m := NewManager()
	stay := &recordingSender{}
	m.AddPeer("room1", "STAY", Peer{PeerCode: "STAY"}, stay)
	m.AddPeer("room1", "LEAVE", Peer{PeerCode: "LEAVE"}, &recordingSender{})

	// Drain the peer_joined broadcast from STAY before asserting on removal.
	stay.frames = nil

	if removed := m.RemovePeer("room1", "LEAVE"); !removed {
		t.Fatal("expected RemovePeer to report removed=true")
	}

	if m.PeerCount() != 1 {
		t.Errorf("PeerCount() = %d, want 1", m.PeerCount())
	}
	if len(stay.frames) != 1 || frameType(t, stay.frames[0]) != "peer_left" {
		t.Fatalf("STAY should have received one peer_left frame, got %v", stay.frames)
	}
}

func TestRemovePeerCleansUpEmptyRoom(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.AddPeer("room1", "SOLO", Peer{PeerCode: "SOLO"}, &recordingSender{})
	if m.RoomCount() != 1 {
		t.Fatalf("RoomCount() = %d, want 1", m.RoomCount())
	}

	m.RemovePeer("room1", "SOLO")

	if m.RoomCount() != 0 || m.PeerCount() != 0 {
		t.Errorf("RoomCount()=%d PeerCount()=%d, want 0,0", m.RoomCount(), m.PeerCount())
	}
}

func TestRemovePeerAbsentIsIdempotentNoOp(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.AddPeer("room1", "EXISTS", Peer{PeerCode: "EXISTS"}, &recordingSender{})

	if removed := m.RemovePeer("room1", "GHOST"); removed {
		t.Error("removing an absent peer should report removed=false")
	}
	if removed := m.RemovePeer("nonexistent-room", "GHOST"); removed {
		t.Error("removing from a nonexistent room should report removed=false")
	}
	if m.PeerCount() != 1 {
		t.Errorf("PeerCount() = %d, want 1 (unaffected)", m.PeerCount())
	}
}

func TestFindPeerIsScopedToItsOwnRoom(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.AddPeer("room1", "R1PEER", Peer{PeerCode: "R1PEER"}, &recordingSender{})
	m.AddPeer("room2", "R2PEER", Peer{PeerCode: "R2PEER"}, &recordingSender{})

	if _, ok := m.FindPeer("room1", "R1PEER"); !ok {
		t.Error("expected to find R1PEER in room1")
	}
	if _, ok := m.FindPeer("room1", "R2PEER"); ok {
		t.Error("R2PEER lives in room2, must not be found via room1")
	}
	if _, ok := m.FindPeer("room1", "MISSING"); ok {
		t.Error("expected MISSING to be absent")
	}
}

func TestRoomPeersNonexistentRoomIsEmpty(t *testing.T) {
	t.Parallel()

	m := NewManager()
	if peers := m.RoomPeers("nowhere"); len(peers) != 0 {
		t.Errorf("RoomPeers() = %v, want empty", peers)
	}
}

func TestMultiRoomIsolationOnRemoval(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.AddPeer("room1", "R1A", Peer{PeerCode: "R1A"}, &recordingSender{})
	m.AddPeer("room1", "R1B", Peer{PeerCode: "R1B"}, &recordingSender{})
	m.AddPeer("room2", "R2A", Peer{PeerCode: "R2A"}, &recordingSender{})

	m.RemovePeer("room1", "R1A")
	m.RemovePeer("room1", "R1B")

	if m.RoomCount() != 1 || m.PeerCount() != 1 {
		t.Errorf("RoomCount()=%d PeerCount()=%d, want 1,1", m.RoomCount(), m.PeerCount())
	}
	if _, ok := m.FindPeer("room2", "R2A"); !ok {
		t.Error("room2's peer should be unaffected by room1's teardown")
	}
	if peers := m.RoomPeers("room1"); len(peers) != 0 {
		t.Errorf("room1 should have been deleted, RoomPeers() = %v", peers)
	}
}

func TestChanSenderDropsOnFullOrClosedChannel(t *testing.T) {
	t.Parallel()

	// Full channel: capacity 1, already holding one message.
	full := make(ChanSender, 1)
	full <- []byte("first")
	full.Enqueue([]byte("second")) // must not block or panic

	// Closed channel: must not panic.
	closedCh := make(ChanSender, 1)
	close(closedCh)
	closedCh.Enqueue([]byte("dropped"))
}

func TestEmptyManagerCountsAreZero(t *testing.T) {
	t.Parallel()

	m := NewManager()
	if m.RoomCount() != 0 || m.PeerCount() != 0 {
		t.Errorf("fresh manager RoomCount()=%d PeerCount()=%d, want 0,0", m.RoomCount(), m.PeerCount())
	}
}

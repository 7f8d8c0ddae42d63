package ws

import "testing"

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()

	hub.Join(1, nil)
	if len(hub.rooms) != 1 {
		t.Fatalf("expected channel to be created")
	}
	if !hub.Subscribed(1, nil) {
		t.Fatalf("expected connection to be subscribed")
	}

	hub.Leave(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected empty channel to be removed")
	}
	if hub.Subscribed(1, nil) {
		t.Fatalf("expected connection to be unsubscribed")
	}
}

func TestHubJoinIsIdempotent(t *testing.T) {
	hub := NewHub()

	hub.Join(1, nil)
	hub.Join(1, nil)
	if len(hub.rooms[1]) != 1 {
		t.Fatalf("expected a single subscription, got %d", len(hub.rooms[1]))
	}
}

func TestHubLeaveUnknownChannelIsNoop(t *testing.T) {
	hub := NewHub()

	hub.Leave(42, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no channels")
	}
}

func TestHubDisconnectReleasesAllChannels(t *testing.T) {
	hub := NewHub()

	hub.Register(nil, ConnInfo{ConnID: "c1", UserID: 7})
	hub.Join(1, nil)
	hub.Join(2, nil)
	hub.Join(3, nil)

	hub.Disconnect(nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected all channels released, got %d", len(hub.rooms))
	}
	if len(hub.conns) != 0 {
		t.Fatalf("expected connection index cleared")
	}
	if len(hub.info) != 0 {
		t.Fatalf("expected connection info cleared")
	}
}

package services

import (
	"encoding/json"
	"testing"
	"time"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan []byte, within time.Duration) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatalf("client send channel closed unexpectedly")
		}
		return data
	case <-time.After(within):
		t.Fatalf("timed out waiting for a frame")
		return nil // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan []byte, within time.Duration) {
	t.Helper()
	select {
	case data, ok := <-ch:
		if ok {
			t.Fatalf("expected no frame, got %s", data)
		}
	case <-time.After(within):
	}
}

func addTestClient(h *Hub, channel string, userID uint, buffer int) *Client {
	client := &Client{
		hub:      h,
		id:       "test-client",
		send:     make(chan []byte, buffer),
		channels: map[string]bool{channel: true},
		userID:   userID,
	}
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()
	return client
}

func TestHub_BroadcastReachesOnlySubscribedChannel(t *testing.T) {
	h := NewHub(nil, nil)

	roomClient := addTestClient(h, RoomChannel(1), 10, 2)
	legacyClient := addTestClient(h, LegacyCompetitionChannel(1), 11, 2)
	otherRoom := addTestClient(h, RoomChannel(2), 12, 2)

	if err := h.BroadcastToChannel(RoomChannel(1), "competition_started", map[string]interface{}{
		"competition_id": 5,
	}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	frame := recvFrame(t, roomClient.send, 100*time.Millisecond)
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if msg.Type != "competition_started" {
		t.Fatalf("frame type = %q, want competition_started", msg.Type)
	}

	recvNoFrame(t, legacyClient.send, 50*time.Millisecond)
	recvNoFrame(t, otherRoom.send, 50*time.Millisecond)
}

func TestHub_LegacyChannelGetsItsOwnBroadcast(t *testing.T) {
	h := NewHub(nil, nil)
	legacyClient := addTestClient(h, LegacyCompetitionChannel(3), 20, 2)

	h.BroadcastToChannel(LegacyCompetitionChannel(3), "competition_ended", nil)

	frame := recvFrame(t, legacyClient.send, 100*time.Millisecond)
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if msg.Type != "competition_ended" {
		t.Fatalf("frame type = %q, want competition_ended", msg.Type)
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := NewHub(nil, nil)
	slow := addTestClient(h, RoomChannel(1), 30, 1)

	// Fill the buffer, then broadcast once more: the hub must drop the
	// client instead of blocking.
	h.BroadcastToChannel(RoomChannel(1), "score_update", 1)
	h.BroadcastToChannel(RoomChannel(1), "score_update", 2)

	h.mutex.RLock()
	_, stillThere := h.clients[slow]
	h.mutex.RUnlock()
	if stillThere {
		t.Fatalf("slow client was not dropped")
	}
}

func TestHub_ConnectedUsers(t *testing.T) {
	h := NewHub(nil, nil)
	addTestClient(h, RoomChannel(1), 7, 2)
	addTestClient(h, RoomChannel(1), 8, 2)
	addTestClient(h, RoomChannel(2), 9, 2)

	users := h.ConnectedUsers(RoomChannel(1))
	if len(users) != 2 {
		t.Fatalf("connected users = %v, want two of {7,8}", users)
	}
	for _, id := range users {
		if id != 7 && id != 8 {
			t.Fatalf("unexpected user %d on channel", id)
		}
	}
}

package live

import (
	"testing"
	"time"

	"github.com/aspyproxy/aspy/internal/events"
)

func TestHub_ConnectedClientsStartsAtZero(t *testing.T) {
	h := NewHub(100, 10, nil)
	if got := h.ConnectedClients(); got != 0 {
		t.Fatalf("expected 0 connected clients, got %d", got)
	}
}

func TestHub_BroadcastDoesNotBlockWithNoSubscribers(t *testing.T) {
	h := NewHub(100, 10, nil)
	done := make(chan struct{})
	go func() {
		h.Broadcast(events.Track("user1", "sess1", events.Event{Kind: events.KindToolCall}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with no subscribers")
	}
}

func TestHub_RegisterAndUnregisterTrackedViaCount(t *testing.T) {
	h := NewHub(100, 10, nil)
	c := &conn{send: make(chan []byte, clientSendCap)}

	h.registerCh <- c
	if got := h.ConnectedClients(); got != 1 {
		t.Fatalf("expected 1 connected client after register, got %d", got)
	}

	h.unregisterCh <- c
	if got := h.ConnectedClients(); got != 0 {
		t.Fatalf("expected 0 connected clients after unregister, got %d", got)
	}
}

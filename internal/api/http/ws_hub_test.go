package apihttp

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tgstream/internal/domain"
)

func TestBroadcastStatesSkipsWithoutListeners(t *testing.T) {
	h := newWSHub(discard())

	h.BroadcastStates([]domain.StreamState{{StreamName: "stream1"}})
	select {
	case msg := <-h.broadcast:
		t.Fatalf("queued %s with no clients connected", msg)
	default:
	}

	h.count.Store(1)
	h.BroadcastStates([]domain.StreamState{{StreamName: "stream1"}})
	select {
	case msg := <-h.broadcast:
		var decoded wsMessage
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("frame: %v", err)
		}
		if decoded.Type != "streams" {
			t.Errorf("frame type: %q", decoded.Type)
		}
	default:
		t.Fatal("no frame queued despite a connected client")
	}
}

func TestBroadcastStatesConcurrentWithRegistration(t *testing.T) {
	h := newWSHub(discard())
	go h.run()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.BroadcastStates([]domain.StreamState{{StreamName: "stream1"}})
		}
	}()

	for i := 0; i < 200; i++ {
		c := &wsClient{hub: h, send: make(chan []byte, 8)}
		h.register <- c
		h.unregister <- c
	}
	wg.Wait()

	// The hub applies the last unregister asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for h.count.Load() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := h.count.Load(); got != 0 {
		t.Errorf("client count after churn: %d", got)
	}
}

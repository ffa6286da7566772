package websocket

import (
	"testing"
	"time"
)

func TestHub(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Mock client
	client := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}

	// Test registration
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 client after registration, got %d", hub.ClientCount())
	}

	// Test broadcast
	hub.BroadcastJSON(map[string]string{"state": "running"})

	select {
	case received := <-client.send:
		if string(received) != `{"state":"running"}` {
			t.Errorf("Client received wrong message: got %s", received)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Client did not receive broadcast message in time")
	}

	// Test unregistration
	hub.unregister <- client
	// Allow the hub to process the unregister message
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Fatalf("Expected 0 clients after unregistration, got %d", hub.ClientCount())
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte)} // no buffer, never read
	hub.register <- client

	hub.BroadcastJSON(map[string]string{"state": "running"})
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Fatalf("Expected slow client to be dropped, got %d clients", hub.ClientCount())
	}
}

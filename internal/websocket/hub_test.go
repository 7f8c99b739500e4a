package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	// Must not block or panic with nobody listening.
	for i := 0; i < 300; i++ {
		hub.Broadcast(DeliveryEvent{Type: "delivery.success", DeliveryID: "del-1"})
	}

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}
}

func TestHub_ClientReceivesBroadcast(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Registration goes through the hub goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	code := 200
	sent := DeliveryEvent{
		Type:           "delivery.success",
		DeliveryID:     "del-1",
		SubscriptionID: "sub-1",
		Event:          "opportunity.won",
		Attempt:        2,
		StatusCode:     &code,
		Timestamp:      time.Now().UTC(),
	}
	hub.Broadcast(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}

	var got DeliveryEvent
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("broadcast is not valid JSON: %v", err)
	}
	if got.Type != sent.Type || got.DeliveryID != sent.DeliveryID || got.Attempt != sent.Attempt {
		t.Errorf("received %+v, want %+v", got, sent)
	}
	if got.StatusCode == nil || *got.StatusCode != 200 {
		t.Errorf("status code = %v, want 200", got.StatusCode)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

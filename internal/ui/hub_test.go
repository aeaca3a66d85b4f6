package ui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	var ev Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Expected event, got read error: %v", err)
	}
	return ev
}

func TestHub_ReplayAndBroadcast(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	history := NewHistory(100)
	hub := NewHub(feed, history, zerolog.Nop())
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	// Publish before any renderer connects.
	feed.UpdateStatus("🟢 Ready", "#2196F3")
	feed.DisplayMessage("[10:00:00] ASSISTANT: hello", TagAssistant, false)

	deadline := time.Now().Add(2 * time.Second)
	for history.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if history.Len() != 1 {
		t.Fatalf("Expected 1 history line, got %d", history.Len())
	}

	wsURL := strings.Replace(server.URL, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Expected websocket dial to succeed, got %v", err)
	}
	defer conn.Close()

	// Connecting replays the transcript, then the current status.
	ev := readEvent(t, conn)
	if ev.Type != EventMessage || ev.Text != "[10:00:00] ASSISTANT: hello" {
		t.Errorf("Expected transcript replay first, got %+v", ev)
	}
	ev = readEvent(t, conn)
	if ev.Type != EventStatus || ev.Label != "🟢 Ready" {
		t.Errorf("Expected status replay, got %+v", ev)
	}

	// Live events reach the connected renderer.
	feed.SetListening(true)
	ev = readEvent(t, conn)
	if ev.Type != EventListening || !ev.Listening {
		t.Errorf("Expected live listening event, got %+v", ev)
	}

	// Closing the feed stops the hub and disconnects clients.
	feed.Close()
	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected hub to stop after feed close")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed after hub stop")
	}
}

func TestHub_ReplaceLastCollapsesPartials(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	history := NewHistory(100)
	hub := NewHub(feed, history, zerolog.Nop())
	go hub.Run()
	defer feed.Close()

	feed.DisplayMessage("🗣️ wat...", TagPartial, true)
	feed.DisplayMessage("🗣️ water...", TagPartial, true)
	feed.DisplayMessage("🗣️ water puri...", TagPartial, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lines := history.Lines()
		if len(lines) == 1 && lines[0].Text == "🗣️ water puri..." {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected partials collapsed to one line, got %v", history.Lines())
}

package ui

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFeed_DeliversEventsInOrder(t *testing.T) {
	f := NewFeed(zerolog.Nop())

	f.DisplayMessage("hello", TagAssistant, false)
	f.UpdateStatus("🟢 Ready", "#2196F3")
	f.SetListening(true)

	ev := <-f.Events()
	if ev.Type != EventMessage || ev.Text != "hello" || ev.Tag != TagAssistant {
		t.Errorf("Expected message event, got %+v", ev)
	}

	ev = <-f.Events()
	if ev.Type != EventStatus || ev.Label != "🟢 Ready" || ev.Color != "#2196F3" {
		t.Errorf("Expected status event, got %+v", ev)
	}

	ev = <-f.Events()
	if ev.Type != EventListening || !ev.Listening {
		t.Errorf("Expected listening event, got %+v", ev)
	}
}

func TestFeed_NeverBlocksWithoutConsumer(t *testing.T) {
	f := NewFeed(zerolog.Nop())

	start := time.Now()
	for i := 0; i < feedBuffer+100; i++ {
		f.DisplayMessage("overflow", TagSystem, false)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected publishes to never block, took %v", elapsed)
	}
}

func TestFeed_PublishAfterCloseIsSafe(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	f.Close()

	// Must not panic.
	f.DisplayMessage("late", TagSystem, false)
	f.UpdateStatus("late", "#000000")
	f.SetListening(false)

	if _, ok := <-f.Events(); ok {
		t.Error("Expected events channel to be closed and empty")
	}

	// Repeated close is a no-op.
	f.Close()
}

package ui

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const feedBuffer = 256

// Feed is the sink the orchestration core publishes UI updates through. Every
// method is safe to call from any goroutine and never blocks the caller: the
// event is handed to a buffered channel for a single consumer to render, and
// dropped if the consumer has fallen that far behind.
type Feed struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	events chan Event
}

// NewFeed creates a feed for one consumer
func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		logger: logger,
		events: make(chan Event, feedBuffer),
	}
}

// DisplayMessage publishes a transcript line
func (f *Feed) DisplayMessage(text, tag string, replaceLast bool) {
	f.publish(Event{
		Type:        EventMessage,
		Text:        text,
		Tag:         tag,
		ReplaceLast: replaceLast,
		Time:        time.Now(),
	})
}

// UpdateStatus publishes the status indicator label and color
func (f *Feed) UpdateStatus(label, color string) {
	f.publish(Event{
		Type:  EventStatus,
		Label: label,
		Color: color,
		Time:  time.Now(),
	})
}

// SetListening publishes the microphone indicator state
func (f *Feed) SetListening(active bool) {
	f.publish(Event{
		Type:      EventListening,
		Listening: active,
		Time:      time.Now(),
	})
}

// Events is the consumer side of the feed. It is closed by Close.
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Close stops the feed. Publishes after Close are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
}

func (f *Feed) publish(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}

	select {
	case f.events <- ev:
	default:
		f.logger.Debug().Str("type", ev.Type).Msg("UI event dropped, consumer behind")
	}
}

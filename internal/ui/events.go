package ui

import "time"

// Transcript tags understood by renderers
const (
	TagAssistant = "assistant"
	TagUser      = "user"
	TagSystem    = "system"
	TagPartial   = "partial"
	TagEmergency = "emergency"
)

// Event types
const (
	EventMessage   = "message"
	EventStatus    = "status"
	EventListening = "listening"
)

// Event is one renderer instruction. Message events carry transcript lines,
// status events the indicator label and color, listening events the
// microphone state.
type Event struct {
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	ReplaceLast bool      `json:"replace_last,omitempty"`
	Label       string    `json:"label,omitempty"`
	Color       string    `json:"color,omitempty"`
	Listening   bool      `json:"listening,omitempty"`
	Time        time.Time `json:"time"`
}

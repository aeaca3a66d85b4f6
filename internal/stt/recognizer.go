package stt

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of feeding one audio frame to the recognizer
type Result struct {
	// Text is the recognized utterance when Final is true
	Text string

	// Partial is the in-progress hypothesis when Final is false
	Partial string

	// Final indicates the engine finalized an utterance on this frame
	Final bool
}

// Recognizer is the interface for streaming speech recognizers. Callers feed
// PCM frames one at a time and inspect the Result after each frame.
type Recognizer interface {
	// AcceptFrame processes one frame of 16-bit little-endian mono PCM
	AcceptFrame(data []byte) (Result, error)

	// Reset discards any buffered audio and partial hypothesis
	Reset()
}

type finalPayload struct {
	Text string `json:"text"`
}

type partialPayload struct {
	Partial string `json:"partial"`
}

// decodeFinal extracts the finalized text from an engine result payload.
func decodeFinal(raw string) (string, error) {
	var payload finalPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("failed to decode final result: %w", err)
	}
	return payload.Text, nil
}

// decodePartial extracts the running hypothesis from an engine partial payload.
func decodePartial(raw string) (string, error) {
	var payload partialPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("failed to decode partial result: %w", err)
	}
	return payload.Partial, nil
}

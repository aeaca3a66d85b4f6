package listener

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildsafehq/voice-assistant/internal/audio"
	"github.com/wildsafehq/voice-assistant/internal/observability"
	"github.com/wildsafehq/voice-assistant/internal/stt"
)

// Config holds endpointing parameters
type Config struct {
	// MinSpeech is the minimum elapsed time before a final result may
	// short-circuit the listen window
	MinSpeech time.Duration

	// SilenceWindow is how long the partial hypothesis must stay empty
	// after speech before the last stable partial is accepted
	SilenceWindow time.Duration

	// MaxConsecutiveFrameErrors bounds how long a failing device is
	// tolerated before the listen call gives up
	MaxConsecutiveFrameErrors int
}

// DefaultConfig returns the default endpointing parameters
func DefaultConfig() *Config {
	return &Config{
		MinSpeech:                 500 * time.Millisecond,
		SilenceWindow:             2 * time.Second,
		MaxConsecutiveFrameErrors: 25,
	}
}

// Listener turns the raw audio frame stream into single finalized
// utterances using partial-result debouncing and silence endpointing.
type Listener struct {
	source     audio.FrameSource
	recognizer stt.Recognizer
	config     *Config
	logger     zerolog.Logger
}

// NewListener creates a listener over a frame source and recognizer
func NewListener(source audio.FrameSource, recognizer stt.Recognizer, config *Config, logger zerolog.Logger) (*Listener, error) {
	if source == nil {
		return nil, errors.New("frame source is required")
	}
	if recognizer == nil {
		return nil, errors.New("recognizer is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConsecutiveFrameErrors <= 0 {
		return nil, fmt.Errorf("max consecutive frame errors must be positive, got %d",
			config.MaxConsecutiveFrameErrors)
	}

	return &Listener{
		source:     source,
		recognizer: recognizer,
		config:     config,
		logger:     logger,
	}, nil
}

// Listen blocks until an utterance is endpointed or the timeout elapses,
// occupying the calling goroutine for up to the full timeout. onPartial is
// invoked with each changed non-empty hypothesis for live feedback.
//
// Returns the utterance lower-cased and trimmed. An empty string with a nil
// error means nothing qualifying was heard. A non-nil error means the audio
// path is failing persistently, not that speech was absent.
func (l *Listener) Listen(timeout time.Duration, onPartial func(string)) (string, error) {
	start := time.Now()
	l.recognizer.Reset()

	var (
		lastText     string // most recent non-empty final or partial
		lastPartial  string
		silenceStart time.Time
		frameErrors  int
	)

	for time.Since(start) < timeout {
		frame, err := l.source.ReadFrame()
		if err == nil {
			var result stt.Result
			result, err = l.recognizer.AcceptFrame(frame)
			if err == nil {
				frameErrors = 0

				if result.Final {
					text := strings.TrimSpace(result.Text)
					if text != "" {
						if time.Since(start) > l.config.MinSpeech {
							observability.RecordListen("final", time.Since(start).Seconds())
							return normalize(text), nil
						}
						// Too early to trust as a spoken command; hold it
						// in case nothing better arrives.
						lastText = text
					}
					continue
				}

				if result.Partial != lastPartial {
					prior := lastPartial
					lastPartial = result.Partial
					silenceStart = time.Time{}

					if result.Partial != "" {
						lastText = result.Partial
						if onPartial != nil {
							onPartial(result.Partial)
						}
					} else if prior != "" {
						silenceStart = time.Now()
					}
				}

				if !silenceStart.IsZero() && time.Since(silenceStart) > l.config.SilenceWindow && lastText != "" {
					observability.RecordListen("endpointed", time.Since(start).Seconds())
					return normalize(lastText), nil
				}
				continue
			}
		}

		frameErrors++
		l.logger.Warn().Err(err).Msg("Audio processing error")
		if frameErrors >= l.config.MaxConsecutiveFrameErrors {
			observability.RecordListen("error", time.Since(start).Seconds())
			return "", fmt.Errorf("audio input failing persistently: %w", err)
		}
	}

	if lastText != "" {
		observability.RecordListen("timeout", time.Since(start).Seconds())
		return normalize(lastText), nil
	}

	observability.RecordListen("empty", time.Since(start).Seconds())
	return "", nil
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/wildsafehq/voice-assistant/internal/observability"
)

// FrameSource yields successive PCM frames from an audio input. Frames are
// 16-bit little-endian mono byte slices sized by the configured chunk.
type FrameSource interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// CaptureConfig configures the microphone capture stream
type CaptureConfig struct {
	SampleRate int
	ChunkSize  int // samples per frame
	Channels   int
	VAD        *VADConfig
}

// Capture owns the default input device for the process lifetime. It is not
// safe for concurrent readers; the listener path is its only consumer.
type Capture struct {
	stream *portaudio.Stream
	buf    []int16
	vad    *VADDetector
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenCapture initializes portaudio and starts the default input stream.
func OpenCapture(cfg *CaptureConfig, logger zerolog.Logger) (*Capture, error) {
	if cfg == nil {
		return nil, fmt.Errorf("capture config is required")
	}
	if cfg.SampleRate <= 0 || cfg.ChunkSize <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid capture config: rate=%d chunk=%d channels=%d",
			cfg.SampleRate, cfg.ChunkSize, cfg.Channels)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	buf := make([]int16, cfg.ChunkSize)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	logger.Info().
		Int("sample_rate", cfg.SampleRate).
		Int("chunk_size", cfg.ChunkSize).
		Int("channels", cfg.Channels).
		Msg("Audio input initialized")

	return &Capture{
		stream: stream,
		buf:    buf,
		vad:    NewVADDetector(cfg.VAD),
		logger: logger,
	}, nil
}

// ReadFrame blocks until the next frame is captured. Input overflow is
// routine when the recognizer falls behind and is not treated as an error;
// the frame content is still returned.
func (c *Capture) ReadFrame() ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("capture is closed")
	}
	stream := c.stream
	c.mu.Unlock()

	if err := stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			c.logger.Debug().Msg("Input overflow, frame kept")
		} else {
			return nil, fmt.Errorf("failed to read audio frame: %w", err)
		}
	}

	samples := make([]int16, len(c.buf))
	copy(samples, c.buf)

	_, started, ended := c.vad.ProcessFrame(samples)
	observability.SetVoiceActivity(c.vad.Level())
	if started {
		c.logger.Debug().Msg("Voice activity started")
	}
	if ended {
		c.logger.Debug().Msg("Voice activity ended")
	}

	data := SamplesToBytes(samples)
	observability.RecordAudioBytes(len(data))
	return data, nil
}

// Close stops the stream and releases the audio device. Safe to call more
// than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if err := c.stream.Stop(); err != nil {
		firstErr = err
	}
	if err := c.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		c.logger.Error().Err(firstErr).Msg("Audio cleanup error")
		return fmt.Errorf("failed to close capture: %w", firstErr)
	}

	c.logger.Info().Msg("Audio input released")
	return nil
}

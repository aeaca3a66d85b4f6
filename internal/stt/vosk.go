package stt

import (
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog"
)

// VoskRecognizer wraps an offline Vosk model behind the Recognizer interface.
// AcceptFrame and Reset must be called from a single goroutine; the engine
// keeps per-stream decoding state.
type VoskRecognizer struct {
	model  *vosk.VoskModel
	engine *vosk.VoskRecognizer
	logger zerolog.Logger
}

// NewVoskRecognizer loads the model from disk and prepares a recognizer for
// the given sample rate. Model loading reads hundreds of megabytes and can
// take several seconds.
func NewVoskRecognizer(modelPath string, sampleRate int, logger zerolog.Logger) (*VoskRecognizer, error) {
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load speech model from %s: %w", modelPath, err)
	}

	engine, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}

	logger.Info().
		Str("model_path", modelPath).
		Int("sample_rate", sampleRate).
		Msg("Speech model loaded")

	return &VoskRecognizer{
		model:  model,
		engine: engine,
		logger: logger,
	}, nil
}

// AcceptFrame feeds one PCM frame to the engine. A positive return from the
// engine means it finalized an utterance; otherwise the running partial
// hypothesis is returned.
func (r *VoskRecognizer) AcceptFrame(data []byte) (Result, error) {
	state := r.engine.AcceptWaveform(data)
	if state < 0 {
		return Result{}, fmt.Errorf("recognizer rejected frame of %d bytes", len(data))
	}

	if state > 0 {
		text, err := decodeFinal(r.engine.Result())
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Final: true}, nil
	}

	partial, err := decodePartial(r.engine.PartialResult())
	if err != nil {
		return Result{}, err
	}
	return Result{Partial: partial}, nil
}

// Reset discards buffered audio so a new listening window starts clean.
func (r *VoskRecognizer) Reset() {
	r.engine.Reset()
}

// Close releases the engine and model memory.
func (r *VoskRecognizer) Close() error {
	r.engine.Free()
	r.model.Free()
	r.logger.Debug().Msg("Speech model released")
	return nil
}

package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildsafehq/voice-assistant/internal/observability"
	"github.com/wildsafehq/voice-assistant/internal/ui"
)

// ErrBusy is returned by TriggerManual while a capture or command is
// already in flight, or while the assistant is stopping.
var ErrBusy = errors.New("assistant is busy")

// Listener blocks until an utterance is endpointed or the timeout elapses
type Listener interface {
	Listen(timeout time.Duration, onPartial func(string)) (string, error)
}

// Completer turns an utterance and urgency flag into a spoken-ready response
type Completer interface {
	Complete(ctx context.Context, text string, urgent bool) (string, error)
}

// Speaker serializes speech output
type Speaker interface {
	Enqueue(text string)
	Close(timeout time.Duration) error
}

// UI receives transcript lines and indicator updates. Implementations must
// be safe to call from any goroutine.
type UI interface {
	DisplayMessage(text, tag string, replaceLast bool)
	UpdateStatus(label, color string)
	SetListening(active bool)
}

// Config holds orchestration settings
type Config struct {
	// WakeWords shift the assistant into the emergency follow-up flow
	WakeWords []string

	// ListenTimeout bounds each ambient listen in the main loop
	ListenTimeout time.Duration

	// DefaultTimeout bounds a non-urgent manual capture
	DefaultTimeout time.Duration

	// EmergencyTimeout bounds wake-word follow-ups and urgent manual captures
	EmergencyTimeout time.Duration

	// MaxLoopErrors is how many consecutive loop failures end the session
	MaxLoopErrors int

	// ErrorPause is the delay after a loop failure before retrying
	ErrorPause time.Duration

	// PollInterval is how long the loop yields while a command is in flight
	PollInterval time.Duration

	// JoinTimeout bounds each wait during shutdown
	JoinTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 8 * time.Second
	}
	if c.EmergencyTimeout <= 0 {
		c.EmergencyTimeout = 15 * time.Second
	}
	if c.MaxLoopErrors <= 0 {
		c.MaxLoopErrors = 5
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 2 * time.Second
	}
}

// Parts are the collaborators the assistant coordinates. Listener and
// Capture may be nil, which puts the assistant in manual-only mode.
type Parts struct {
	Listener  Listener
	Completer Completer
	Speaker   Speaker
	UI        UI

	// Capture is the audio input released on shutdown
	Capture io.Closer
}

// Assistant owns the listen, classify, act cycle and the mutual exclusion
// between listening and processing.
type Assistant struct {
	config    Config
	listener  Listener
	completer Completer
	speaker   Speaker
	capture   io.Closer
	ui        UI
	logger    zerolog.Logger

	phase    atomic.Int32
	stopping atomic.Bool

	loopDone     chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
}

// New creates an assistant. It does not start listening; call Start.
func New(config Config, parts Parts, logger zerolog.Logger) (*Assistant, error) {
	if parts.Completer == nil {
		return nil, errors.New("completer is required")
	}
	if parts.Speaker == nil {
		return nil, errors.New("speaker is required")
	}
	if parts.UI == nil {
		return nil, errors.New("ui sink is required")
	}
	config.applyDefaults()

	words := make([]string, 0, len(config.WakeWords))
	for _, w := range config.WakeWords {
		words = append(words, normalizeWord(w))
	}
	config.WakeWords = words

	return &Assistant{
		config:    config,
		listener:  parts.Listener,
		completer: parts.Completer,
		speaker:   parts.Speaker,
		capture:   parts.Capture,
		ui:        parts.UI,
		logger:    logger,
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start announces the assistant and launches the listening loop. Without a
// listener, the assistant speaks a warning and serves manual triggers only.
func (a *Assistant) Start() {
	a.say("Advanced Survival Assistant is now active and monitoring for emergencies.")

	if a.listener == nil {
		close(a.loopDone)
		a.say("Voice recognition is unavailable. Manual mode only.")
		a.ui.UpdateStatus("⚠️ Voice Disabled", "#F44336")
		a.logger.Warn().Msg("No audio input, manual mode only")
		return
	}

	go a.run()
	a.ui.UpdateStatus("🟢 Ready", "#2196F3")
}

// run is the orchestration loop: one ambient listen per iteration, with
// back-pressure while a command is in flight.
func (a *Assistant) run() {
	defer close(a.loopDone)

	consecutive := 0
	for !a.stopping.Load() {
		if !a.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseListening)) {
			time.Sleep(a.config.PollInterval)
			continue
		}

		a.ui.SetListening(true)
		utterance, err := a.listener.Listen(a.config.ListenTimeout, a.forwardPartial)
		a.ui.SetListening(false)

		if err == nil {
			if utterance == "" {
				a.phase.Store(int32(PhaseIdle))
				continue
			}

			consecutive = 0
			observability.SetConsecutiveLoopErrors(0)
			a.displayUser(utterance)

			err = a.handleUtterance(utterance)
			if err == nil {
				continue
			}
		} else {
			a.phase.Store(int32(PhaseIdle))
		}

		consecutive++
		observability.SetConsecutiveLoopErrors(consecutive)
		a.logger.Error().Err(err).Int("consecutive", consecutive).Msg("Main loop error")

		if consecutive >= a.config.MaxLoopErrors {
			a.say("I'm experiencing technical difficulties. Please restart the application.")
			return
		}
		time.Sleep(a.config.ErrorPause)
	}
}

// handleUtterance classifies and dispatches. The caller holds the listening
// phase; every path below hands it off or releases it.
func (a *Assistant) handleUtterance(utterance string) error {
	intent := ClassifyIntent(utterance, a.config.WakeWords)
	observability.RecordIntent(intent.String())
	a.logger.Info().Str("intent", intent.String()).Str("utterance", utterance).Msg("Utterance classified")

	switch intent {
	case IntentWakeWord:
		return a.handleWakeWord()
	case IntentEmergency:
		a.dispatch(utterance, true)
	case IntentQuestion:
		a.dispatch(utterance, false)
	case IntentExit:
		a.phase.Store(int32(PhaseIdle))
		a.stopping.Store(true)
		go a.Shutdown()
	default:
		a.phase.Store(int32(PhaseIdle))
	}
	return nil
}

// handleWakeWord runs the follow-up sub-flow: acknowledge, capture with the
// emergency timeout, and treat whatever comes back as an urgent command.
func (a *Assistant) handleWakeWord() error {
	a.say("I'm ready to help with your emergency. Please describe the situation.")

	followUp, err := a.listener.Listen(a.config.EmergencyTimeout, a.forwardPartial)
	if err != nil {
		a.phase.Store(int32(PhaseIdle))
		return fmt.Errorf("follow-up capture failed: %w", err)
	}

	if followUp == "" {
		a.say("I didn't catch that. Please try again or use the emergency voice button.")
		a.phase.Store(int32(PhaseIdle))
		return nil
	}

	a.displayUser(followUp)
	a.dispatch(followUp, true)
	return nil
}

// dispatch hands the command to a background worker. The phase moves
// straight from listening to processing so no ambient listen can slip in
// between, and the worker releases it when the round-trip finishes.
func (a *Assistant) dispatch(command string, urgent bool) {
	a.phase.Store(int32(PhaseProcessing))

	logger := observability.WithCommandID(observability.NewCommandID())
	logger.Info().Bool("urgent", urgent).Str("command", command).Msg("Command accepted")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("Command processing error")
				a.say("I'm experiencing technical difficulties. Please try again.")
			}
			a.phase.Store(int32(PhaseIdle))
			a.ui.UpdateStatus("🟢 Ready", "#2196F3")
		}()

		a.ui.UpdateStatus("🤖 Consulting AI", "#673AB7")

		response, err := a.completer.Complete(context.Background(), command, urgent)
		if err == nil && response != "" {
			a.say(response)
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("Completion failed")
		}

		apology := "I'm having trouble accessing the AI service. Please check the connection."
		if urgent {
			apology += " In a real emergency, please call emergency services immediately."
		}
		a.say(apology)
	}()
}

// TriggerManual starts a one-shot capture, classify-as-given-urgency,
// complete, speak sequence on a background worker. It is rejected with
// ErrBusy while anything else holds the audio path.
func (a *Assistant) TriggerManual(urgent bool) error {
	if a.stopping.Load() {
		observability.RecordManualTrigger(false)
		return ErrBusy
	}
	if !a.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseListening)) {
		observability.RecordManualTrigger(false)
		return ErrBusy
	}
	observability.RecordManualTrigger(true)

	timeout := a.config.DefaultTimeout
	if urgent {
		timeout = a.config.EmergencyTimeout
	}

	go func() {
		a.ui.SetListening(true)
		if urgent {
			a.ui.DisplayMessage("🚨 EMERGENCY MODE - Describe your situation clearly...", ui.TagSystem, false)
		} else {
			a.ui.DisplayMessage("🎤 Listening for your command...", ui.TagSystem, false)
		}

		var command string
		var err error
		if a.listener != nil {
			command, err = a.listener.Listen(timeout, a.forwardPartial)
		}
		a.ui.SetListening(false)

		if err != nil {
			a.logger.Error().Err(err).Msg("Manual capture failed")
			a.phase.Store(int32(PhaseIdle))
			return
		}
		if command == "" {
			a.ui.DisplayMessage("🔇 No clear input detected. Please try again.", ui.TagSystem, false)
			a.phase.Store(int32(PhaseIdle))
			return
		}

		a.displayUser(command)
		a.dispatch(command, urgent)
	}()
	return nil
}

// Shutdown runs the stop sequence once: farewell, join the loop, drain the
// speech worker, release the audio input. Later calls wait for the first to
// finish.
func (a *Assistant) Shutdown() {
	a.shutdownOnce.Do(a.doShutdown)
}

// Done is closed once the stop sequence has finished, whether it was
// triggered by Shutdown or by a spoken exit command.
func (a *Assistant) Done() <-chan struct{} {
	return a.done
}

func (a *Assistant) doShutdown() {
	a.stopping.Store(true)
	a.logger.Info().Msg("Shutting down")

	a.say("Shutting down survival assistant. Stay safe.")

	select {
	case <-a.loopDone:
	case <-time.After(a.config.JoinTimeout):
		a.logger.Warn().Msg("Listening loop did not stop in time")
	}

	if err := a.speaker.Close(a.config.JoinTimeout); err != nil {
		a.logger.Warn().Err(err).Msg("Speech worker did not drain in time")
	}

	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Audio cleanup error")
		}
	}

	a.logger.Info().Msg("Assistant stopped")
	close(a.done)
}

// say displays the line as the assistant and queues it for synthesis.
func (a *Assistant) say(text string) {
	a.ui.DisplayMessage(fmt.Sprintf("[%s] ASSISTANT: %s", time.Now().Format("15:04:05"), text), ui.TagAssistant, false)
	a.speaker.Enqueue(text)
}

func (a *Assistant) displayUser(utterance string) {
	a.ui.DisplayMessage(fmt.Sprintf("[%s] YOU: %s", time.Now().Format("15:04:05"), utterance), ui.TagUser, false)
}

func (a *Assistant) forwardPartial(partial string) {
	a.ui.DisplayMessage(fmt.Sprintf("🗣️ %s...", partial), ui.TagPartial, true)
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

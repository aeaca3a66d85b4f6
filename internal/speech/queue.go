package speech

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildsafehq/voice-assistant/internal/observability"
)

// Synthesizer turns text into audible speech, blocking until playback
// finishes. Implementations do not need to be safe for concurrent use; the
// queue worker is their only caller.
type Synthesizer interface {
	Speak(text string) error
}

type item struct {
	text string
	quit bool
}

// Queue serializes speech output. Callers enqueue text without blocking and
// a single worker drains items in FIFO order, so no two utterances are ever
// spoken concurrently.
type Queue struct {
	synth  Synthesizer
	logger zerolog.Logger

	mu     sync.Mutex
	items  []item
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue creates a speech queue over the given synthesizer
func NewQueue(synth Synthesizer, logger zerolog.Logger) *Queue {
	return &Queue{
		synth:  synth,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine
func (q *Queue) Start() {
	go q.worker()
}

// Enqueue appends text to be spoken after everything already queued. It
// never blocks. Empty text and enqueues after Close are dropped.
func (q *Queue) Enqueue(text string) {
	if text == "" {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item{text: text})
	observability.SetSpeechQueueDepth(len(q.items))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close appends the shutdown sentinel and waits for the worker to reach it,
// bounded by timeout. Items queued before Close are still spoken; a synthesis
// call that outlives the bound is abandoned with an error rather than waited
// on.
func (q *Queue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.items = append(q.items, item{quit: true})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("speech worker did not stop within %v", timeout)
	}
}

func (q *Queue) worker() {
	defer close(q.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		it, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
			case <-ticker.C:
			}
			continue
		}

		if it.quit {
			q.logger.Debug().Msg("Speech worker stopping")
			return
		}

		start := time.Now()
		if err := q.synth.Speak(it.text); err != nil {
			observability.RecordSynthesisError()
			q.logger.Error().Err(err).Msg("Speech synthesis error")
			continue
		}
		observability.RecordSpoken(time.Since(start).Seconds())
	}
}

func (q *Queue) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	observability.SetSpeechQueueDepth(len(q.items))
	return it, true
}

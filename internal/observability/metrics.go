package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Listener metrics
	listensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_listens_total",
		Help: "Total number of listen calls",
	}, []string{"outcome"}) // outcome: "final", "endpointed", "timeout", "empty", "error"

	listenDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_listen_duration_seconds",
		Help:    "Duration of listen calls in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 8, 15, 30},
	})

	// Router metrics
	intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_intents_total",
		Help: "Total number of classified utterances",
	}, []string{"intent"})

	manualTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_manual_triggers_total",
		Help: "Total number of manual voice triggers",
	}, []string{"result"}) // result: "accepted" or "busy"

	// Completion metrics
	completionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_assistant_completion_requests_total",
		Help: "Total number of completion requests",
	}, []string{"status"})

	completionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_completion_retries_total",
		Help: "Total number of completion retry attempts",
	})

	completionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_completion_latency_seconds",
		Help:    "Completion request latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 90.0},
	})

	// Speech output metrics
	speechQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_assistant_speech_queue_depth",
		Help: "Number of speech items waiting to be spoken",
	})

	speechSpoken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_speech_spoken_total",
		Help: "Total number of speech items synthesized",
	})

	synthesisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_synthesis_errors_total",
		Help: "Total number of speech synthesis failures",
	})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_assistant_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 15.0},
	})

	// Loop metrics
	loopErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_assistant_loop_consecutive_errors",
		Help: "Current consecutive orchestration loop error count",
	})

	// Audio metrics
	voiceActivity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_assistant_voice_activity_level",
		Help: "Spectral-flux voice activity level of the last captured frame",
	})

	audioBytesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_assistant_audio_bytes_total",
		Help: "Total audio bytes captured from the input device",
	})
)

// RecordListen records the outcome and duration of one listen call
func RecordListen(outcome string, seconds float64) {
	listensTotal.WithLabelValues(outcome).Inc()
	listenDuration.Observe(seconds)
}

// RecordIntent records a classified utterance
func RecordIntent(intent string) {
	intentsTotal.WithLabelValues(intent).Inc()
}

// RecordManualTrigger records a manual trigger attempt
func RecordManualTrigger(accepted bool) {
	result := "accepted"
	if !accepted {
		result = "busy"
	}
	manualTriggers.WithLabelValues(result).Inc()
}

// RecordCompletion records the final status and latency of a completion call
func RecordCompletion(status string, seconds float64) {
	completionRequests.WithLabelValues(status).Inc()
	completionLatency.Observe(seconds)
}

// RecordCompletionRetry increments the retry counter
func RecordCompletionRetry() {
	completionRetries.Inc()
}

// SetSpeechQueueDepth updates the speech queue depth gauge
func SetSpeechQueueDepth(depth int) {
	speechQueueDepth.Set(float64(depth))
}

// RecordSpoken records one synthesized speech item
func RecordSpoken(seconds float64) {
	speechSpoken.Inc()
	synthesisLatency.Observe(seconds)
}

// RecordSynthesisError increments the synthesis error counter
func RecordSynthesisError() {
	synthesisErrors.Inc()
}

// SetConsecutiveLoopErrors updates the loop error gauge
func SetConsecutiveLoopErrors(count int) {
	loopErrors.Set(float64(count))
}

// SetVoiceActivity updates the voice activity gauge
func SetVoiceActivity(level float64) {
	voiceActivity.Set(level)
}

// RecordAudioBytes records captured audio bytes
func RecordAudioBytes(bytes int) {
	audioBytesCaptured.Add(float64(bytes))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	cli "github.com/spf13/pflag"

	"github.com/wildsafehq/voice-assistant/internal/assistant"
	"github.com/wildsafehq/voice-assistant/internal/audio"
	"github.com/wildsafehq/voice-assistant/internal/completion"
	"github.com/wildsafehq/voice-assistant/internal/config"
	"github.com/wildsafehq/voice-assistant/internal/listener"
	"github.com/wildsafehq/voice-assistant/internal/observability"
	"github.com/wildsafehq/voice-assistant/internal/speech"
	"github.com/wildsafehq/voice-assistant/internal/stt"
	"github.com/wildsafehq/voice-assistant/internal/ui"
)

const version = "1.0.0"

func main() {
	configFile := cli.StringP("config", "c", "", "Configuration file path (overrides ASSISTANT_CONFIG)")
	logLevel := cli.StringP("log-level", "l", "", "Log level (overrides LOG_LEVEL)")
	cli.Parse()

	// Load configuration
	env, err := config.LoadEnv()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *configFile != "" {
		env.ConfigFile = *configFile
	}
	if *logLevel != "" {
		env.LogLevel = *logLevel
	}

	// Initialize structured logger
	observability.InitLogger(env.LogLevel, env.LogPretty)
	logger := observability.GetLogger()

	settings := config.LoadSettings(afero.NewOsFs(), env.ConfigFile, observability.ComponentLogger("config"))

	logger.Info().
		Str("model", settings.ModelName).
		Str("ollama_url", settings.OllamaURL).
		Str("http_addr", env.HTTPAddr).
		Str("log_level", env.LogLevel).
		Msg("Survival assistant starting")

	// Completion client (probes the AI service once, non-fatal)
	client, err := completion.NewClient(completion.Config{
		Endpoint: settings.OllamaURL,
		Model:    settings.ModelName,
	}, observability.ComponentLogger("completion"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Completion client setup failed")
	}

	// Speech output worker
	synth := speech.NewESpeak(settings.TTS.Rate, settings.TTS.Volume, observability.ComponentLogger("tts"))
	queue := speech.NewQueue(synth, observability.ComponentLogger("speech"))
	queue.Start()

	// Transcript feed and websocket hub for renderers
	feed := ui.NewFeed(observability.ComponentLogger("ui"))
	history := ui.NewHistory(settings.UI.MaxChatLines)
	hub := ui.NewHub(feed, history, observability.ComponentLogger("ui"))
	go hub.Run()

	// Voice input; any failure here leaves the assistant in manual-only mode
	parts := assistant.Parts{
		Completer: client,
		Speaker:   queue,
		UI:        feed,
	}
	if voice, closer := buildVoiceInput(settings, logger); voice != nil {
		parts.Listener = voice
		parts.Capture = closer
	}

	a, err := assistant.New(assistant.Config{
		WakeWords:        settings.WakeWords,
		DefaultTimeout:   settings.Audio.DefaultTimeout(),
		EmergencyTimeout: settings.Audio.EmergencyTimeout(),
	}, parts, observability.ComponentLogger("assistant"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Assistant setup failed")
	}
	a.Start()

	// Create HTTP server
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/healthz", observability.HealthCheckHandler(version))

	// Readiness endpoint - the completion probe doubles as the dependency check
	mux.HandleFunc("/readyz", observability.ReadinessHandler(version, map[string]observability.HealthCheckFunc{
		"completion": func(ctx context.Context) (bool, error) {
			if err := client.Probe(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if env.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Transcript websocket and manual controls
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/trigger", handleTrigger(a))
	mux.HandleFunc("/api/shutdown", handleShutdown(a))

	server := &http.Server{
		Addr:         env.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("addr", env.HTTPAddr).
			Str("endpoint", fmt.Sprintf("ws://localhost%s/ws", env.HTTPAddr)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Advertise the transcript feed on the local network
	if env.MDNSEnabled {
		if mdns := advertise(env.HTTPAddr, logger); mdns != nil {
			defer mdns.Shutdown()
		}
	}

	// Wait for an interrupt signal or a spoken exit command
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		a.Shutdown()
	case <-a.Done():
		logger.Info().Msg("Assistant requested exit")
	}

	// Drain the transcript feed so connected renderers see the farewell
	feed.Close()
	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		logger.Warn().Msg("Transcript hub did not drain in time")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Assistant exited gracefully")
}

// buildVoiceInput assembles the capture device, recognizer, and endpointing
// listener. Every failure is logged and collapses to (nil, nil) so the caller
// falls back to manual-only mode instead of aborting startup.
func buildVoiceInput(settings *config.Settings, logger zerolog.Logger) (*listener.Listener, io.Closer) {
	capture, err := audio.OpenCapture(&audio.CaptureConfig{
		SampleRate: settings.Audio.SampleRate,
		ChunkSize:  settings.Audio.ChunkSize,
		Channels:   settings.Audio.Channels,
		VAD:        audio.DefaultVADConfig(),
	}, observability.ComponentLogger("audio"))
	if err != nil {
		logger.Warn().Err(err).Msg("Audio capture unavailable")
		return nil, nil
	}

	recognizer, err := stt.NewVoskRecognizer(settings.VoskModelPath, settings.Audio.SampleRate, observability.ComponentLogger("stt"))
	if err != nil {
		logger.Warn().Err(err).Str("model_path", settings.VoskModelPath).Msg("Speech recognition unavailable")
		if cerr := capture.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("Audio cleanup error")
		}
		return nil, nil
	}

	lst, err := listener.NewListener(capture, recognizer, listener.DefaultConfig(), observability.ComponentLogger("listener"))
	if err != nil {
		logger.Warn().Err(err).Msg("Listener setup failed")
		if cerr := recognizer.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("Recognizer cleanup error")
		}
		if cerr := capture.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("Audio cleanup error")
		}
		return nil, nil
	}

	return lst, voiceCloser{capture: capture, recognizer: recognizer}
}

// voiceCloser releases the capture device and the recognizer together when
// the assistant shuts down.
type voiceCloser struct {
	capture    *audio.Capture
	recognizer *stt.VoskRecognizer
}

func (v voiceCloser) Close() error {
	err := v.capture.Close()
	if rerr := v.recognizer.Close(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// handleTrigger starts a manual capture. POST /api/trigger?urgent=true runs
// the emergency flow; anything already holding the audio path gets a 409.
func handleTrigger(a *assistant.Assistant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		urgent := r.URL.Query().Get("urgent") == "true"
		if err := a.TriggerManual(urgent); err != nil {
			if errors.Is(err, assistant.ErrBusy) {
				http.Error(w, "assistant is busy", http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleShutdown(a *assistant.Assistant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		go a.Shutdown()
		w.WriteHeader(http.StatusAccepted)
	}
}

// advertise registers the assistant over mDNS so renderers on the local
// network can find the transcript feed without configuration.
func advertise(addr string, logger zerolog.Logger) *zeroconf.Server {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("mDNS skipped, cannot determine port")
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("mDNS skipped, cannot determine port")
		return nil
	}

	txt := []string{fmt.Sprintf("version=%s", version), "path=/ws"}
	server, err := zeroconf.Register("survival-assistant", "_voice-assistant._tcp", "local.", port, txt, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("mDNS registration failed")
		return nil
	}

	logger.Info().Int("port", port).Str("service", "_voice-assistant._tcp").Msg("mDNS advertisement active")
	return server
}

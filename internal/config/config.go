package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Env holds process-level settings read from the environment. Everything the
// assistant itself needs lives in the persisted Settings document; Env only
// decides where that document is and how the process presents itself.
type Env struct {
	ConfigFile string `envconfig:"ASSISTANT_CONFIG" default:"assistant_config.json"`

	// HTTP surface (health, metrics, transcript feed, manual triggers)
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8800"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`   // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"` // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`

	// mDNS advertisement of the transcript feed
	MDNSEnabled bool `envconfig:"MDNS_ENABLED" default:"true"`
}

// LoadEnv reads process-level settings, first from a .env file if present,
// then from the environment.
func LoadEnv() (*Env, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}
	return &env, nil
}

// Settings is the persisted assistant configuration document. It is loaded
// once at startup and treated as immutable for the lifetime of the run.
type Settings struct {
	ModelName     string        `json:"model_name"`
	OllamaURL     string        `json:"ollama_url"`
	WakeWords     []string      `json:"wake_words"`
	VoskModelPath string        `json:"vosk_model_path"`
	Audio         AudioSettings `json:"audio_settings"`
	TTS           TTSSettings   `json:"tts_settings"`
	UI            UISettings    `json:"ui_settings"`
}

// AudioSettings configures capture and listen timeouts. Timeouts are seconds.
type AudioSettings struct {
	SampleRate       int `json:"sample_rate"`
	ChunkSize        int `json:"chunk_size"`
	Channels         int `json:"channels"`
	TimeoutDefault   int `json:"timeout_default"`
	TimeoutEmergency int `json:"timeout_emergency"`
}

// DefaultTimeout returns the manual-input listen timeout as a duration.
func (a AudioSettings) DefaultTimeout() time.Duration {
	return time.Duration(a.TimeoutDefault) * time.Second
}

// EmergencyTimeout returns the emergency listen timeout as a duration.
func (a AudioSettings) EmergencyTimeout() time.Duration {
	return time.Duration(a.TimeoutEmergency) * time.Second
}

// TTSSettings configures the speech synthesizer.
type TTSSettings struct {
	Rate   int     `json:"rate"`
	Volume float64 `json:"volume"`
}

// UISettings configures the transcript feed.
type UISettings struct {
	AutoScroll   bool   `json:"auto_scroll"`
	MaxChatLines int    `json:"max_chat_lines"`
	Theme        string `json:"theme"`
}

// DefaultSettings returns the built-in configuration document.
func DefaultSettings() *Settings {
	return &Settings{
		ModelName:     "Android_Artisan/Gemma3-Android:latest",
		OllamaURL:     "http://localhost:11434/api/generate",
		WakeWords:     []string{"survival assistant", "emergency help", "assistant", "help me"},
		VoskModelPath: "./vosk-model-small-en-us-0.15",
		Audio: AudioSettings{
			SampleRate:       16000,
			ChunkSize:        8000,
			Channels:         1,
			TimeoutDefault:   8,
			TimeoutEmergency: 15,
		},
		TTS: TTSSettings{
			Rate:   190,
			Volume: 0.9,
		},
		UI: UISettings{
			AutoScroll:   true,
			MaxChatLines: 1000,
			Theme:        "dark",
		},
	}
}

// LoadSettings loads the assistant document through the layered path:
// built-in defaults, then a recursive merge of the user file, then
// validation. A missing file is created with the defaults. A file that
// cannot be parsed, or that merges into an invalid document, falls back to
// the defaults with a logged warning; it never aborts startup.
func LoadSettings(fs afero.Fs, path string, logger zerolog.Logger) *Settings {
	defaults := DefaultSettings()

	exists, err := afero.Exists(fs, path)
	if err == nil && !exists {
		if saveErr := SaveSettings(fs, path, defaults); saveErr != nil {
			logger.Error().Err(saveErr).Str("path", path).Msg("Failed to write default configuration file")
		} else {
			logger.Info().Str("path", path).Msg("Created default configuration file")
		}
		return defaults
	}

	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to read configuration file, using defaults")
		return defaults
	}

	var user map[string]interface{}
	if err := json.Unmarshal(raw, &user); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Malformed configuration file, using defaults")
		return defaults
	}

	merged, err := mergeOverDefaults(defaults, user)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Configuration file did not merge cleanly, using defaults")
		return defaults
	}

	if err := merged.Validate(); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Invalid configuration values, using defaults")
		return defaults
	}

	return merged
}

// SaveSettings writes the document to disk in the persisted format.
func SaveSettings(fs afero.Fs, path string, s *Settings) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}

// mergeOverDefaults applies user values over the defaults, recursing into
// nested objects so partial overrides keep unrelated defaults intact.
// Scalars and arrays replace wholesale.
func mergeOverDefaults(defaults *Settings, user map[string]interface{}) (*Settings, error) {
	base, err := toMap(defaults)
	if err != nil {
		return nil, err
	}

	deepMerge(base, user)

	data, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var merged Settings
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func toMap(s *Settings) (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func deepMerge(base, update map[string]interface{}) {
	for key, value := range update {
		baseChild, baseOK := base[key].(map[string]interface{})
		updateChild, updateOK := value.(map[string]interface{})
		if baseOK && updateOK {
			deepMerge(baseChild, updateChild)
			continue
		}
		base[key] = value
	}
}

// Validate rejects documents the assistant cannot run with.
func (s *Settings) Validate() error {
	if s.ModelName == "" {
		return fmt.Errorf("model_name must not be empty")
	}
	if s.OllamaURL == "" {
		return fmt.Errorf("ollama_url must not be empty")
	}
	if s.VoskModelPath == "" {
		return fmt.Errorf("vosk_model_path must not be empty")
	}
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio_settings.sample_rate must be positive, got %d", s.Audio.SampleRate)
	}
	if s.Audio.ChunkSize <= 0 {
		return fmt.Errorf("audio_settings.chunk_size must be positive, got %d", s.Audio.ChunkSize)
	}
	if s.Audio.Channels <= 0 {
		return fmt.Errorf("audio_settings.channels must be positive, got %d", s.Audio.Channels)
	}
	if s.Audio.TimeoutDefault <= 0 || s.Audio.TimeoutEmergency <= 0 {
		return fmt.Errorf("audio_settings timeouts must be positive")
	}
	if s.TTS.Rate <= 0 {
		return fmt.Errorf("tts_settings.rate must be positive, got %d", s.TTS.Rate)
	}
	if s.TTS.Volume <= 0 || s.TTS.Volume > 1.0 {
		return fmt.Errorf("tts_settings.volume must be in (0, 1], got %f", s.TTS.Volume)
	}
	if s.UI.MaxChatLines <= 0 {
		return fmt.Errorf("ui_settings.max_chat_lines must be positive, got %d", s.UI.MaxChatLines)
	}
	return nil
}

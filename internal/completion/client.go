package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildsafehq/voice-assistant/internal/observability"
	"github.com/wildsafehq/voice-assistant/internal/resilience"
)

// ErrModelNotFound means the configured model is not registered with the
// completion service. Retrying cannot help; the configuration must change.
var ErrModelNotFound = errors.New("model not found")

var errEmptyResponse = errors.New("empty response from completion service")

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("completion request failed with status %d", e.code)
}

const emergencyPreamble = `You are an emergency survival assistant. Your response must be:
1. IMMEDIATE and ACTIONABLE
2. PRIORITIZED by urgency
3. CLEAR and CONCISE
4. POTENTIALLY LIFE-SAVING

Provide step-by-step emergency guidance. Start with the most critical actions first.`

const advisoryPreamble = `You are a knowledgeable survival assistant. Provide practical, safe, and helpful advice.
Be clear, concise, and prioritize safety in all recommendations.`

type completionRequest struct {
	Model   string            `json:"model"`
	Prompt  string            `json:"prompt"`
	Stream  bool              `json:"stream"`
	Options completionOptions `json:"options"`
}

type completionOptions struct {
	Temperature   float64 `json:"temperature"`
	NumPredict    int     `json:"num_predict"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type completionResponse struct {
	Response string `json:"response"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Config holds completion client settings
type Config struct {
	// Endpoint is the completion URL, e.g. http://localhost:11434/api/generate
	Endpoint string

	// Model is the model identifier sent with every request
	Model string

	// Timeout bounds each individual attempt
	Timeout time.Duration

	// Retry overrides the default attempt budget and inter-attempt pause
	Retry *resilience.RetryConfig
}

// Client issues completion requests with urgency-shaped prompts and bounded
// retries, and cleans responses for direct speech synthesis.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// NewClient creates a completion client and probes the service once. A
// failed probe is logged, not fatal; requests are still attempted later.
func NewClient(config Config, logger zerolog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, errors.New("completion endpoint is required")
	}
	if config.Model == "" {
		return nil, errors.New("model name is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry == nil {
		config.Retry = resilience.DefaultRetryConfig()
	}

	c := &Client{
		endpoint:   config.Endpoint,
		model:      config.Model,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      config.Retry,
		logger:     logger,
	}

	if err := c.Probe(context.Background()); err != nil {
		c.logger.Error().Err(err).Msg("AI service connection failed")
	}
	return c, nil
}

// Probe checks the service metadata endpoint and warns when the configured
// model is not registered. Suitable as a readiness check.
func (c *Client) Probe(ctx context.Context) error {
	tagsURL := strings.Replace(c.endpoint, "/api/generate", "/api/tags", 1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tagsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("completion service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Model listing unavailable")
		return &statusError{code: resp.StatusCode}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to decode model listing: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	registered := false
	for _, m := range tags.Models {
		names = append(names, m.Name)
		if m.Name == c.model {
			registered = true
		}
	}

	if !registered {
		c.logger.Warn().
			Str("model", c.model).
			Strs("available", names).
			Msg("Configured model not found on service")
	} else {
		c.logger.Info().Str("model", c.model).Msg("AI service connected")
	}
	return nil
}

// Complete sends the utterance to the completion service and returns the
// cleaned response. Urgent requests use a directive preamble with low
// temperature and a shorter output budget.
func (c *Client) Complete(ctx context.Context, text string, urgent bool) (string, error) {
	preamble := advisoryPreamble
	options := completionOptions{
		Temperature:   0.3,
		NumPredict:    500,
		TopP:          0.9,
		RepeatPenalty: 1.1,
	}
	if urgent {
		preamble = emergencyPreamble
		options.Temperature = 0.1
		options.NumPredict = 300
	}

	body, err := json.Marshal(completionRequest{
		Model:   c.model,
		Prompt:  fmt.Sprintf("%s\n\nSituation: %s\n\nResponse:", preamble, text),
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	start := time.Now()
	var result string
	attempts := 0

	err = resilience.Retry(func() error {
		attempts++
		out, err := c.attempt(ctx, body)
		if err != nil {
			c.logAttemptFailure(err, attempts)
			return err
		}
		result = out
		return nil
	}, c.retry, classify)

	for i := 1; i < attempts; i++ {
		observability.RecordCompletionRetry()
	}

	if err != nil {
		observability.RecordCompletion("failure", time.Since(start).Seconds())
		return "", err
	}

	observability.RecordCompletion("success", time.Since(start).Seconds())
	return clean(result), nil
}

func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}

	var payload completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	text := strings.TrimSpace(payload.Response)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

func (c *Client) logAttemptFailure(err error, attempt int) {
	switch {
	case isTimeout(err):
		c.logger.Warn().Int("attempt", attempt).Msg("AI request timeout")
	case errors.Is(err, ErrModelNotFound):
		c.logger.Error().Str("model", c.model).Msg("Model not found")
	case errors.Is(err, errEmptyResponse):
		c.logger.Warn().Msg("Empty response from AI")
	default:
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("AI request error")
	}
}

// classify maps attempt failures onto the retry policy: timeouts pause
// before the next try, bad statuses and empty responses retry immediately,
// anything else is terminal.
func classify(err error) resilience.Class {
	if errors.Is(err, ErrModelNotFound) {
		return resilience.ClassTerminal
	}
	if isTimeout(err) {
		return resilience.ClassRetryAfterPause
	}
	var se *statusError
	if errors.As(err, &se) || errors.Is(err, errEmptyResponse) {
		return resilience.ClassRetry
	}
	return resilience.ClassTerminal
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// clean strips markup that reads badly when synthesized and flattens line
// breaks into sentence pauses.
func clean(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "*", "")
	text = strings.ReplaceAll(text, "#", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.ReplaceAll(text, "\n\n", ". ")
	text = strings.ReplaceAll(text, "\n", ". ")
	text = strings.ReplaceAll(text, "..", ".")
	text = strings.ReplaceAll(text, "  ", " ")
	return strings.TrimSpace(text)
}

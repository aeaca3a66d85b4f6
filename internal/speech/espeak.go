package speech

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ESpeak synthesizes speech by shelling out to the espeak command, one
// process per utterance. The espeak amplitude scale runs 0-200, so the
// configured 0-1 volume is mapped onto it.
type ESpeak struct {
	rate      int
	amplitude int
	logger    zerolog.Logger
}

// NewESpeak creates an espeak synthesizer with the given speaking rate in
// words per minute and volume in the range (0, 1].
func NewESpeak(rate int, volume float64, logger zerolog.Logger) *ESpeak {
	return &ESpeak{
		rate:      rate,
		amplitude: int(volume * 200),
		logger:    logger,
	}
}

// Speak blocks until espeak finishes playing the utterance.
func (e *ESpeak) Speak(text string) error {
	cmd := exec.Command("espeak",
		"-s", strconv.Itoa(e.rate),
		"-a", strconv.Itoa(e.amplitude),
		text)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("espeak failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	e.logger.Debug().Int("chars", len(text)).Msg("Utterance spoken")
	return nil
}

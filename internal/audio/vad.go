package audio

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// VADConfig holds configuration for voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for sustaining speech
	FluxThreshold   float64 // spectral flux threshold for confirming onset
	SilenceFrames   int     // consecutive quiet frames to mark end of speech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		FluxThreshold:   2.0,
		SilenceFrames:   4,
	}
}

// VADDetector performs voice activity detection. Energy sustains an active
// segment; spectral flux (novelty against the previous frame's spectrum)
// confirms the onset so steady background noise does not latch it on.
type VADDetector struct {
	config         *VADConfig
	prevSpectrum   []float64
	lastFlux       float64
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{
		config: config,
	}
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	rms := CalculateRMS(samples)
	v.lastFlux = v.spectralFlux(samples)

	frameHasSpeech := rms > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0

		if !v.isSpeaking && v.lastFlux >= v.config.FluxThreshold {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++

		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Level returns the spectral flux of the last processed frame.
func (v *VADDetector) Level() float64 {
	return v.lastFlux
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.prevSpectrum = nil
	v.lastFlux = 0
	v.silenceCounter = 0
	v.isSpeaking = false
}

// spectralFlux measures how much the magnitude spectrum moved since the
// previous frame. Only positive differences count, so decaying sound does
// not register as new activity.
func (v *VADDetector) spectralFlux(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	signal := make([]float64, len(samples))
	for i, s := range samples {
		signal[i] = float64(s) / math.MaxInt16
	}

	spectrum := fft.FFTReal(signal)
	bins := len(spectrum)/2 + 1
	magnitudes := make([]float64, bins)
	for i := 0; i < bins; i++ {
		magnitudes[i] = cmplx.Abs(spectrum[i])
	}

	if v.prevSpectrum == nil || len(v.prevSpectrum) != bins {
		v.prevSpectrum = magnitudes
		return 0
	}

	flux := 0.0
	for i := 0; i < bins; i++ {
		diff := magnitudes[i] - v.prevSpectrum[i]
		if diff > 0 {
			flux += diff * diff
		}
	}
	v.prevSpectrum = magnitudes

	return math.Sqrt(flux / float64(bins))
}

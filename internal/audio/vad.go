package audio

import "math"

// VADConfig holds configuration for energy-based voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Number of consecutive silent chunks that end speech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
	}
}

// VADState is the resumable state of a VADDetector.
type VADState struct {
	Speaking       bool
	SilenceCounter int
}

// VADDetector classifies frames as speech or silence by RMS energy and
// tracks speech start/end with a silence hangover.
type VADDetector struct {
	config *VADConfig
	state  VADState
}

// NewVADDetector creates a detector in the silent state.
func NewVADDetector(config *VADConfig) *VADDetector {
	return RestoreVADDetector(config, VADState{})
}

// RestoreVADDetector creates a detector resuming from a saved state.
func RestoreVADDetector(config *VADConfig, state VADState) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config, state: state}
}

// ProcessFrame processes one frame of samples.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.state.SilenceCounter = 0
		if !v.state.Speaking {
			speechStarted = true
			v.state.Speaking = true
		}
	} else if v.state.Speaking {
		v.state.SilenceCounter++
		if v.state.SilenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.state.Speaking = false
			v.state.SilenceCounter = 0
		}
	}

	return v.state.Speaking, speechStarted, speechEnded
}

// State returns the detector's resumable state.
func (v *VADDetector) State() VADState {
	return v.state
}

// Reset returns the detector to the silent state.
func (v *VADDetector) Reset() {
	v.state = VADState{}
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.state.Speaking
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

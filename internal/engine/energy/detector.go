// Package energy implements a voice-boundary detector based on RMS energy.
// It needs no model and is used when the inference backend offers no VAD.
package energy

import (
	"context"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/engine"
)

// Cache keys holding the detector's per-session state.
const (
	keySpeaking = "energy.speaking"
	keySilence  = "energy.silence"
	keyClock    = "energy.clock_ms"
)

// Detector is an engine.BoundaryDetector. It is stateless itself: all
// session state travels in the cache, so one Detector serves every session.
type Detector struct {
	config *audio.VADConfig
}

// New creates a detector. A nil config uses audio.DefaultVADConfig.
func New(config *audio.VADConfig) *Detector {
	if config == nil {
		config = audio.DefaultVADConfig()
	}
	return &Detector{config: config}
}

// DetectBoundary classifies audio as one frame. A speech start is reported
// at the beginning of the frame that crossed the threshold; an end is
// reported at the end of the frame that completed the silence hangover.
func (d *Detector) DetectBoundary(_ context.Context, pcm []byte, cache engine.Cache) ([]engine.Segment, engine.Cache, error) {
	state := audio.VADState{
		Speaking:       asBool(cache[keySpeaking]),
		SilenceCounter: asInt(cache[keySilence]),
	}
	clock := int64(asInt(cache[keyClock]))

	vad := audio.RestoreVADDetector(d.config, state)
	_, started, ended := vad.ProcessFrame(audio.SamplesFromPCM(pcm))

	frameStart := clock
	clock += audio.DurationMs(len(pcm))

	var segments []engine.Segment
	switch {
	case started:
		segments = append(segments, engine.Segment{StartMs: frameStart, EndMs: -1})
	case ended:
		segments = append(segments, engine.Segment{StartMs: -1, EndMs: clock})
	}

	next := cache.Clone()
	st := vad.State()
	next[keySpeaking] = st.Speaking
	next[keySilence] = st.SilenceCounter
	next[keyClock] = clock
	return segments, next, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asInt accepts the numeric types a cache may hold after a JSON round trip.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

var _ engine.BoundaryDetector = (*Detector)(nil)

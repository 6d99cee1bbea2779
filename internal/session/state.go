// Package session implements the per-connection streaming recognition
// session: typed session state, control-message parsing, buffering,
// voice-boundary segmentation, recognition coordination and result
// emission.
package session

import (
	"maps"
	"strings"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/engine"
)

// Mode selects which recognition passes a session runs.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
	ModeTwoPass Mode = "twoPass"
)

// ParseMode accepts the canonical names plus the "2pass" spelling.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline":
		return ModeOffline, true
	case "online":
		return ModeOnline, true
	case "twopass", "2pass", "two_pass", "two-pass":
		return ModeTwoPass, true
	default:
		return "", false
	}
}

// Streaming reports whether the mode produces low-latency partial results.
func (m Mode) Streaming() bool {
	return m == ModeOnline || m == ModeTwoPass
}

// Refined reports whether the mode runs the refined pass on finalization.
func (m Mode) Refined() bool {
	return m == ModeOffline || m == ModeTwoPass
}

// VADState is the voice-boundary detector's per-session state.
type VADState struct {
	Cache engine.Cache
	Open  bool // a speech segment is in progress
}

// StreamState is the streaming recognizer's per-session state.
type StreamState struct {
	Cache engine.Cache
}

// PuncState is the punctuator's per-session state.
type PuncState struct {
	Cache engine.Cache
}

// Options are the per-session defaults and policy knobs.
type Options struct {
	Mode                Mode
	Label               string
	ChunkIntervalFrames int
	ChunkSize           [3]int
	EncoderLookBack     int
	DecoderLookBack     int
	Hotwords            map[string]int

	MinSegmentMs        int64 // refined pass floor on segment close
	HistoryRetainFrames int   // history kept after a segment closes mid-stream
	HistoryMaxFrames    int   // history ring capacity
	StatusMessages      bool
}

// DefaultOptions returns the built-in session defaults.
func DefaultOptions() Options {
	return Options{
		Mode:                ModeTwoPass,
		Label:               "nextalk",
		ChunkIntervalFrames: 10,
		ChunkSize:           [3]int{5, 10, 5},
		EncoderLookBack:     4,
		DecoderLookBack:     0,
		MinSegmentMs:        300,
		HistoryRetainFrames: 20,
		HistoryMaxFrames:    200,
	}
}

// State is the configuration and engine state of one session. It is owned
// by the session's processing goroutine and never shared.
type State struct {
	ID string

	Mode                Mode
	Label               string
	ChunkIntervalFrames int
	Speaking            bool
	ChunkSize           [3]int
	EncoderLookBack     int
	DecoderLookBack     int
	Hotwords            map[string]int
	ITN                 *bool
	AudioFormat         audio.Format
	AudioSampleRate     int

	VAD    VADState
	Stream StreamState
	Punc   PuncState

	// LocalClockMs is the duration of audio processed since the last stop.
	LocalClockMs int64

	// StopPending is set when speaking goes from true to false and is
	// consumed by the coordinator's next step.
	StopPending bool
}

// NewState creates session state from defaults.
func NewState(id string, opts Options) *State {
	mode := opts.Mode
	if mode == "" {
		mode = ModeTwoPass
	}
	interval := opts.ChunkIntervalFrames
	if interval < 1 {
		interval = 10
	}
	return &State{
		ID:                  id,
		Mode:                mode,
		Label:               opts.Label,
		ChunkIntervalFrames: interval,
		Speaking:            true,
		ChunkSize:           opts.ChunkSize,
		EncoderLookBack:     opts.EncoderLookBack,
		DecoderLookBack:     opts.DecoderLookBack,
		Hotwords:            maps.Clone(opts.Hotwords),
		AudioFormat:         audio.FormatPCM,
		AudioSampleRate:     audio.SampleRate,
	}
}

// Normalizer converts this session's declared input format to canonical PCM.
func (s *State) Normalizer() audio.Normalizer {
	return audio.Normalizer{Format: s.AudioFormat, SampleRate: s.AudioSampleRate}
}

// ITNEnabled reports whether inverse text normalization applies. It is on
// unless the client turned it off.
func (s *State) ITNEnabled() bool {
	return s.ITN == nil || *s.ITN
}

// ChunkParams builds streaming-call parameters from the session settings.
func (s *State) ChunkParams(final bool) engine.ChunkParams {
	return engine.ChunkParams{
		ChunkSize:       s.ChunkSize,
		EncoderLookBack: s.EncoderLookBack,
		DecoderLookBack: s.DecoderLookBack,
		IsFinal:         final,
		Hotwords:        s.Hotwords,
	}
}

// ResetEngineState drops all three engine caches, closes any open segment
// and rewinds the clock.
func (s *State) ResetEngineState() {
	s.VAD = VADState{}
	s.Stream = StreamState{}
	s.Punc = PuncState{}
	s.LocalClockMs = 0
}

// Echo is the session configuration reported in status frames.
type Echo struct {
	Mode                Mode           `json:"mode"`
	Label               string         `json:"label"`
	Speaking            bool           `json:"speaking"`
	ChunkIntervalFrames int            `json:"chunkIntervalFrames"`
	ChunkSize           [3]int         `json:"chunkSize"`
	EncoderLookBack     int            `json:"encoderLookBack"`
	DecoderLookBack     int            `json:"decoderLookBack"`
	Hotwords            map[string]int `json:"hotwords,omitempty"`
	ITN                 bool           `json:"inverseTextNormalization"`
	AudioFormat         audio.Format   `json:"audioFormat"`
	AudioSampleRate     int            `json:"audioSampleRate"`
}

// Echo snapshots the client-visible configuration.
func (s *State) Echo() Echo {
	return Echo{
		Mode:                s.Mode,
		Label:               s.Label,
		Speaking:            s.Speaking,
		ChunkIntervalFrames: s.ChunkIntervalFrames,
		ChunkSize:           s.ChunkSize,
		EncoderLookBack:     s.EncoderLookBack,
		DecoderLookBack:     s.DecoderLookBack,
		Hotwords:            maps.Clone(s.Hotwords),
		ITN:                 s.ITNEnabled(),
		AudioFormat:         s.AudioFormat,
		AudioSampleRate:     s.AudioSampleRate,
	}
}

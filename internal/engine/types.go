package engine

import (
	"context"
	"errors"
	"maps"
)

// ErrUnsupported is returned by a backend that does not implement an operation.
var ErrUnsupported = errors.New("engine: operation not supported")

// Cache is opaque per-session model state. Backends treat the cache they
// receive as read-only and return a new one; callers must thread the
// returned cache into the next call.
type Cache map[string]any

// Clone returns a shallow copy of c. A nil cache clones to an empty one.
func (c Cache) Clone() Cache {
	out := make(Cache, len(c))
	maps.Copy(out, c)
	return out
}

// Segment is a voice-activity boundary in milliseconds on the session's
// local clock. A value of -1 means the offset is absent.
type Segment struct {
	StartMs int64
	EndMs   int64
}

// HasStart reports whether the segment carries a start offset.
func (s Segment) HasStart() bool { return s.StartMs >= 0 }

// HasEnd reports whether the segment carries an end offset.
func (s Segment) HasEnd() bool { return s.EndMs >= 0 }

// ChunkParams parameterise a streaming recognition call.
type ChunkParams struct {
	ChunkSize       [3]int
	EncoderLookBack int
	DecoderLookBack int
	IsFinal         bool
	Hotwords        map[string]int
}

// RefinedRequest is the input of a high-accuracy recognition pass over one
// complete utterance.
type RefinedRequest struct {
	Audio           []byte
	Hotwords        map[string]int
	ITN             bool
	EncoderLookBack int
	DecoderLookBack int
}

// SentenceStamp is one sentence of a refined transcript with its span.
type SentenceStamp struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start"`
	EndMs   int64  `json:"end"`
}

// RefinedResult is the output of RecognizeRefined.
type RefinedResult struct {
	Text           string
	Timestamps     [][2]int64
	SentenceStamps []SentenceStamp
}

// BoundaryDetector finds speech start/end offsets in a chunk of audio.
type BoundaryDetector interface {
	DetectBoundary(ctx context.Context, audio []byte, cache Cache) ([]Segment, Cache, error)
}

// StreamingRecognizer produces low-latency partial text.
type StreamingRecognizer interface {
	RecognizeStreaming(ctx context.Context, audio []byte, cache Cache, params ChunkParams) (string, Cache, error)
}

// RefinedRecognizer produces final text for a complete utterance.
type RefinedRecognizer interface {
	RecognizeRefined(ctx context.Context, req RefinedRequest) (RefinedResult, error)
}

// Punctuator restores punctuation in recognised text.
type Punctuator interface {
	Punctuate(ctx context.Context, text string, cache Cache) (string, Cache, error)
}

// Engine is a complete recognition backend.
type Engine interface {
	BoundaryDetector
	StreamingRecognizer
	RefinedRecognizer
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	Ready(ctx context.Context) error
}

package session

import (
	"context"
	"fmt"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/engine"
)

// Transition is the outcome of one segmenter step.
type Transition struct {
	Opened bool
	Closed bool
	// Backfill is the number of history chunks, including the current one,
	// that belong to a segment opened in this step.
	Backfill int
	// Ignored is set when the detector reported more than one segment.
	Ignored bool
}

// Segmenter tracks whether a speech segment is open by running boundary
// detection over each chunk. Open/closed state and the detector cache live
// in State.VAD.
type Segmenter struct {
	detector engine.BoundaryDetector
}

// NewSegmenter creates a segmenter over detector.
func NewSegmenter(detector engine.BoundaryDetector) *Segmenter {
	return &Segmenter{detector: detector}
}

// Step runs detection over chunk, which must already be counted in
// st.LocalClockMs. The detector cache is always threaded forward, even when
// the reported boundaries are discarded.
func (s *Segmenter) Step(ctx context.Context, st *State, chunk audio.Chunk) (Transition, error) {
	segments, next, err := s.detector.DetectBoundary(ctx, chunk.Data, st.VAD.Cache)
	if err != nil {
		return Transition{}, fmt.Errorf("detect boundary: %w", err)
	}
	st.VAD.Cache = next

	if len(segments) == 0 {
		return Transition{}, nil
	}
	if len(segments) > 1 {
		return Transition{Ignored: true}, nil
	}

	seg := segments[0]
	var t Transition
	if !st.VAD.Open && seg.HasStart() {
		t.Opened = true
		t.Backfill = backfillFrames(st.LocalClockMs, seg.StartMs, chunk.DurationMs)
		st.VAD.Open = true
	}
	if st.VAD.Open && seg.HasEnd() {
		t.Closed = true
		st.VAD.Open = false
	}
	return t, nil
}

// ForceClose closes an open segment. It reports whether one was open.
func (s *Segmenter) ForceClose(st *State) bool {
	wasOpen := st.VAD.Open
	st.VAD.Open = false
	return wasOpen
}

// backfillFrames counts the chunks between the reported start and the
// current clock, which already includes the current chunk.
func backfillFrames(clockMs, startMs, frameMs int64) int {
	if frameMs <= 0 {
		return 1
	}
	n := int((clockMs - startMs) / frameMs)
	if n < 1 {
		n = 1
	}
	return n
}

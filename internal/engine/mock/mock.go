// Package mock provides a recording test double for the engine interfaces.
//
// Engine records every call, can be scripted per operation, and detects
// re-entrant use: if two calls ever overlap, Reentered reports true.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonewx/nextalk-sub001/internal/engine"
)

// BoundaryCall records one DetectBoundary invocation.
type BoundaryCall struct {
	AudioLen int
	Cache    engine.Cache
}

// StreamingCall records one RecognizeStreaming invocation.
type StreamingCall struct {
	AudioLen int
	Cache    engine.Cache
	Params   engine.ChunkParams
}

// PunctuateCall records one Punctuate invocation.
type PunctuateCall struct {
	Text  string
	Cache engine.Cache
}

// Engine is a mock implementation of engine.Engine and engine.Punctuator.
type Engine struct {
	mu sync.Mutex

	// BoundaryFunc scripts DetectBoundary. When nil, no segments are
	// reported and the cache is returned unchanged.
	BoundaryFunc func(audio []byte, cache engine.Cache) ([]engine.Segment, engine.Cache, error)

	// StreamingText and StreamingErr are returned by RecognizeStreaming.
	StreamingText string
	StreamingErr  error

	// RefinedResult and RefinedErr are returned by RecognizeRefined.
	RefinedResult engine.RefinedResult
	RefinedErr    error

	// PunctuateFunc scripts Punctuate. When nil, text is returned unchanged.
	PunctuateFunc func(text string) string

	// ReadyErr is returned by Ready.
	ReadyErr error

	// CallDelay is slept inside every call, outside the record lock.
	CallDelay time.Duration

	// --- Call records ---

	BoundaryCalls  []BoundaryCall
	StreamingCalls []StreamingCall
	RefinedCalls   []engine.RefinedRequest
	PunctuateCalls []PunctuateCall

	inflight  atomic.Int32
	reentered atomic.Bool
}

func (e *Engine) enter() func() {
	if e.inflight.Add(1) > 1 {
		e.reentered.Store(true)
	}
	if e.CallDelay > 0 {
		time.Sleep(e.CallDelay)
	}
	return func() { e.inflight.Add(-1) }
}

// DetectBoundary records the call and applies BoundaryFunc.
func (e *Engine) DetectBoundary(_ context.Context, audio []byte, cache engine.Cache) ([]engine.Segment, engine.Cache, error) {
	defer e.enter()()

	e.mu.Lock()
	e.BoundaryCalls = append(e.BoundaryCalls, BoundaryCall{AudioLen: len(audio), Cache: cache})
	fn := e.BoundaryFunc
	e.mu.Unlock()

	if fn == nil {
		return nil, cache, nil
	}
	return fn(audio, cache)
}

// RecognizeStreaming records the call and returns StreamingText. The
// returned cache counts calls under the "calls" key.
func (e *Engine) RecognizeStreaming(_ context.Context, audio []byte, cache engine.Cache, params engine.ChunkParams) (string, engine.Cache, error) {
	defer e.enter()()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.StreamingCalls = append(e.StreamingCalls, StreamingCall{AudioLen: len(audio), Cache: cache, Params: params})
	if e.StreamingErr != nil {
		return "", cache, e.StreamingErr
	}
	next := cache.Clone()
	n, _ := next["calls"].(int)
	next["calls"] = n + 1
	return e.StreamingText, next, nil
}

// RecognizeRefined records a copy of the request and returns RefinedResult.
func (e *Engine) RecognizeRefined(_ context.Context, req engine.RefinedRequest) (engine.RefinedResult, error) {
	defer e.enter()()

	e.mu.Lock()
	defer e.mu.Unlock()
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	e.RefinedCalls = append(e.RefinedCalls, cp)
	if e.RefinedErr != nil {
		return engine.RefinedResult{}, e.RefinedErr
	}
	return e.RefinedResult, nil
}

// Punctuate records the call and applies PunctuateFunc.
func (e *Engine) Punctuate(_ context.Context, text string, cache engine.Cache) (string, engine.Cache, error) {
	defer e.enter()()

	e.mu.Lock()
	e.PunctuateCalls = append(e.PunctuateCalls, PunctuateCall{Text: text, Cache: cache})
	fn := e.PunctuateFunc
	e.mu.Unlock()

	next := cache.Clone()
	next["punctuated"] = true
	if fn == nil {
		return text, next, nil
	}
	return fn(text), next, nil
}

// Ready returns ReadyErr.
func (e *Engine) Ready(context.Context) error {
	return e.ReadyErr
}

// Reentered reports whether two calls ever overlapped.
func (e *Engine) Reentered() bool {
	return e.reentered.Load()
}

// Counts returns the number of boundary, streaming and refined calls.
func (e *Engine) Counts() (boundary, streaming, refined int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.BoundaryCalls), len(e.StreamingCalls), len(e.RefinedCalls)
}

// Refined returns a copy of the recorded refined requests.
func (e *Engine) Refined() []engine.RefinedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.RefinedRequest(nil), e.RefinedCalls...)
}

// Streaming returns a copy of the recorded streaming calls.
func (e *Engine) Streaming() []StreamingCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StreamingCall(nil), e.StreamingCalls...)
}

// Reset clears all recorded calls.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.BoundaryCalls = nil
	e.StreamingCalls = nil
	e.RefinedCalls = nil
	e.PunctuateCalls = nil
	e.reentered.Store(false)
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.Punctuator    = (*Engine)(nil)
	_ engine.HealthChecker = (*Engine)(nil)
)

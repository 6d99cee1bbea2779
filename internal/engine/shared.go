package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/gonewx/nextalk-sub001/internal/observability"
)

// Operation names used in logs, metrics and spans.
const (
	OpDetectBoundary     = "detect_boundary"
	OpRecognizeStreaming = "recognize_streaming"
	OpRecognizeRefined   = "recognize_refined"
	OpPunctuate          = "punctuate"
)

// Shared is the process-wide handle to a non-reentrant recognition engine.
// Every call from every session runs exclusively: callers queue on a
// single-slot semaphore and the engine never sees two calls at once.
//
// Queueing honours the caller's context. Once a call has started it runs on
// a context detached from cancellation, because the engine cannot be
// interrupted mid-inference; the caller decides whether to use the result.
type Shared struct {
	eng      Engine
	punc     Punctuator
	sem      *semaphore.Weighted
	waitWarn time.Duration
	logger   zerolog.Logger
}

// Option configures a Shared handle.
type Option func(*Shared)

// WithPunctuator enables the punctuation pass.
func WithPunctuator(p Punctuator) Option {
	return func(s *Shared) { s.punc = p }
}

// WithWaitWarning sets how long a caller may queue before the wait is logged
// as degraded. Zero disables the warning.
func WithWaitWarning(d time.Duration) Option {
	return func(s *Shared) { s.waitWarn = d }
}

// WithLogger sets the logger used for degraded-wait warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Shared) { s.logger = l }
}

// NewShared wraps eng for exclusive access.
func NewShared(eng Engine, opts ...Option) *Shared {
	s := &Shared{
		eng:      eng,
		sem:      semaphore.NewWeighted(1),
		waitWarn: 2 * time.Second,
		logger:   observability.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasPunctuator reports whether a punctuation pass is configured.
func (s *Shared) HasPunctuator() bool {
	return s.punc != nil
}

// Ready reports backend readiness when the engine supports health checks.
func (s *Shared) Ready(ctx context.Context) error {
	if hc, ok := s.eng.(HealthChecker); ok {
		return hc.Ready(ctx)
	}
	return nil
}

func (s *Shared) DetectBoundary(ctx context.Context, audio []byte, cache Cache) (segments []Segment, next Cache, err error) {
	err = s.do(ctx, OpDetectBoundary, len(audio), func(ctx context.Context) error {
		segments, next, err = s.eng.DetectBoundary(ctx, audio, cache)
		return err
	})
	return segments, next, err
}

func (s *Shared) RecognizeStreaming(ctx context.Context, audio []byte, cache Cache, params ChunkParams) (text string, next Cache, err error) {
	err = s.do(ctx, OpRecognizeStreaming, len(audio), func(ctx context.Context) error {
		text, next, err = s.eng.RecognizeStreaming(ctx, audio, cache, params)
		return err
	})
	return text, next, err
}

func (s *Shared) RecognizeRefined(ctx context.Context, req RefinedRequest) (res RefinedResult, err error) {
	err = s.do(ctx, OpRecognizeRefined, len(req.Audio), func(ctx context.Context) error {
		res, err = s.eng.RecognizeRefined(ctx, req)
		return err
	})
	return res, err
}

// Punctuate returns text unchanged when no punctuator is configured.
func (s *Shared) Punctuate(ctx context.Context, text string, cache Cache) (out string, next Cache, err error) {
	if s.punc == nil {
		return text, cache, nil
	}
	err = s.do(ctx, OpPunctuate, 0, func(ctx context.Context) error {
		out, next, err = s.punc.Punctuate(ctx, text, cache)
		return err
	})
	return out, next, err
}

func (s *Shared) do(ctx context.Context, op string, audioBytes int, fn func(context.Context) error) error {
	queued := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("engine %s: %w", op, err)
	}
	defer s.sem.Release(1)

	wait := time.Since(queued)
	degraded := s.waitWarn > 0 && wait > s.waitWarn
	observability.RecordEngineWait(wait, degraded)
	if degraded {
		s.logger.Warn().
			Str("op", op).
			Dur("wait", wait).
			Dur("threshold", s.waitWarn).
			Msg("Engine contention: call queued past threshold")
	}

	callCtx, span := observability.StartSpan(context.WithoutCancel(ctx), "engine."+op,
		trace.WithAttributes(
			attribute.Int("audio_bytes", audioBytes),
			attribute.Int64("queue_wait_ms", wait.Milliseconds()),
		))
	defer span.End()

	start := time.Now()
	err := fn(callCtx)
	observability.RecordEngineCall(op, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("engine %s: %w", op, err)
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
)

// Composite assembles an Engine from independent backends, for example the
// sidecar for boundaries and partials with a cloud service for the refined
// pass.
type Composite struct {
	Boundary    BoundaryDetector
	Streaming   StreamingRecognizer
	Refined     RefinedRecognizer
	Punctuation Punctuator // optional
}

// Validate reports missing required backends.
func (c *Composite) Validate() error {
	var errs []error
	if c.Boundary == nil {
		errs = append(errs, errors.New("boundary detector is required"))
	}
	if c.Streaming == nil {
		errs = append(errs, errors.New("streaming recognizer is required"))
	}
	if c.Refined == nil {
		errs = append(errs, errors.New("refined recognizer is required"))
	}
	return errors.Join(errs...)
}

func (c *Composite) DetectBoundary(ctx context.Context, audio []byte, cache Cache) ([]Segment, Cache, error) {
	return c.Boundary.DetectBoundary(ctx, audio, cache)
}

func (c *Composite) RecognizeStreaming(ctx context.Context, audio []byte, cache Cache, params ChunkParams) (string, Cache, error) {
	return c.Streaming.RecognizeStreaming(ctx, audio, cache, params)
}

func (c *Composite) RecognizeRefined(ctx context.Context, req RefinedRequest) (RefinedResult, error) {
	return c.Refined.RecognizeRefined(ctx, req)
}

// Punctuator returns the configured punctuator, which may be nil.
func (c *Composite) Punctuator() Punctuator {
	return c.Punctuation
}

// Ready checks every distinct backend that implements HealthChecker.
func (c *Composite) Ready(ctx context.Context) error {
	seen := make(map[any]bool)
	for _, part := range []any{c.Boundary, c.Streaming, c.Refined, c.Punctuation} {
		if part == nil || seen[part] {
			continue
		}
		seen[part] = true
		if hc, ok := part.(HealthChecker); ok {
			if err := hc.Ready(ctx); err != nil {
				return fmt.Errorf("%T: %w", part, err)
			}
		}
	}
	return nil
}

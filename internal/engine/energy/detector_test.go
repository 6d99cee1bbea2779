package energy

import (
	"context"
	"testing"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/engine"
)

func frame(amplitude int16) []byte {
	samples := make([]int16, 320) // 20ms
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.PCMFromSamples(samples)
}

func TestDetector_StartAndEnd(t *testing.T) {
	d := New(&audio.VADConfig{EnergyThreshold: 500, SilenceFrames: 2})
	ctx := context.Background()
	var cache engine.Cache

	segs, cache, _ := d.DetectBoundary(ctx, frame(10), cache)
	if len(segs) != 0 {
		t.Fatalf("Expected no boundary on silence, got %v", segs)
	}

	segs, cache, _ = d.DetectBoundary(ctx, frame(5000), cache)
	if len(segs) != 1 || segs[0].StartMs != 20 || segs[0].HasEnd() {
		t.Fatalf("Expected start at 20ms, got %v", segs)
	}

	segs, cache, _ = d.DetectBoundary(ctx, frame(10), cache)
	if len(segs) != 0 {
		t.Fatalf("Expected no boundary during hangover, got %v", segs)
	}

	segs, _, _ = d.DetectBoundary(ctx, frame(10), cache)
	if len(segs) != 1 || segs[0].EndMs != 80 || segs[0].HasStart() {
		t.Fatalf("Expected end at 80ms, got %v", segs)
	}
}

func TestDetector_CacheIsNotMutated(t *testing.T) {
	d := New(nil)
	in := engine.Cache{}

	_, out, _ := d.DetectBoundary(context.Background(), frame(5000), in)
	if len(in) != 0 {
		t.Errorf("Expected input cache untouched, got %v", in)
	}
	if out[keySpeaking] != true {
		t.Errorf("Expected speaking state in returned cache, got %v", out)
	}
}

func TestDetector_EmptyCacheResetsClock(t *testing.T) {
	d := New(nil)
	_, _, _ = d.DetectBoundary(context.Background(), frame(10), nil)

	segs, _, _ := d.DetectBoundary(context.Background(), frame(5000), nil)
	if len(segs) != 1 || segs[0].StartMs != 0 {
		t.Errorf("Expected start at 0 with a fresh cache, got %v", segs)
	}
}

func TestAsInt(t *testing.T) {
	if asInt(int64(7)) != 7 || asInt(float64(3)) != 3 || asInt("x") != 0 {
		t.Error("Unexpected asInt conversion")
	}
}

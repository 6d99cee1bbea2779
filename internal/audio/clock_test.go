package audio

import "testing"

func TestDurationMs(t *testing.T) {
	tests := []struct {
		bytes int
		want  int64
	}{
		{0, 0},
		{-4, 0},
		{31, 0},
		{32, 1},
		{33, 1},
		{640, 20},
		{3200, 100},
		{9600, 300},
	}

	for _, tt := range tests {
		if got := DurationMs(tt.bytes); got != tt.want {
			t.Errorf("DurationMs(%d): expected %d, got %d", tt.bytes, tt.want, got)
		}
	}
}

func TestDurationMs_Monotonic(t *testing.T) {
	prev := DurationMs(0)
	for n := 1; n < 4096; n++ {
		got := DurationMs(n)
		if got < prev {
			t.Fatalf("DurationMs not monotonic at %d: %d < %d", n, got, prev)
		}
		if got != int64(n/32) {
			t.Fatalf("DurationMs(%d): expected %d, got %d", n, n/32, got)
		}
		prev = got
	}
}

func TestNewChunk(t *testing.T) {
	c := NewChunk(make([]byte, 1920))
	if c.DurationMs != 60 {
		t.Errorf("Expected duration 60ms, got %d", c.DurationMs)
	}
}

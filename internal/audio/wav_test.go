package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pcm := PCMFromSamples([]int16{0, 100, -100, 32767, -32768, 42})
	if err := WriteWAV(f, pcm, SampleRate); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	f.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		t.Fatal("Expected a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Format.SampleRate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, buf.Format.SampleRate)
	}
	if len(buf.Data) != 6 || buf.Data[1] != 100 || buf.Data[4] != -32768 {
		t.Errorf("Unexpected decoded samples: %v", buf.Data)
	}
}

func TestWriteWAV_Unaligned(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := WriteWAV(f, []byte{1}, SampleRate); err == nil {
		t.Error("Expected error for unaligned PCM")
	}
}

package audio

// Canonical session audio format: mono, signed 16-bit little-endian PCM at 16 kHz.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	Channels       = 1

	// BytesPerMs is the number of canonical PCM bytes in one millisecond of audio.
	BytesPerMs = SampleRate * BytesPerSample * Channels / 1000
)

// DurationMs maps a raw chunk length in bytes to its duration in milliseconds.
// Partial milliseconds are truncated.
func DurationMs(byteLen int) int64 {
	if byteLen <= 0 {
		return 0
	}
	return int64(byteLen / BytesPerMs)
}

// Chunk is one received audio message in canonical format.
type Chunk struct {
	Data       []byte
	DurationMs int64
}

// NewChunk wraps data and derives its duration.
func NewChunk(data []byte) Chunk {
	return Chunk{Data: data, DurationMs: DurationMs(len(data))}
}

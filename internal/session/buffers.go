package session

import "github.com/gonewx/nextalk-sub001/internal/audio"

// Buffers are the three audio accumulators of a session.
type Buffers struct {
	// History holds recent chunks regardless of voice activity, used to
	// backfill the start of a segment the detector reports late.
	History *audio.ChunkRing
	// Utterance holds the audio of the current segment.
	Utterance audio.ChunkBuffer
	// Streaming holds audio not yet sent to the streaming recognizer.
	Streaming audio.ChunkBuffer
}

// NewBuffers creates empty buffers with a history ring of historyMax chunks.
func NewBuffers(historyMax int) *Buffers {
	return &Buffers{History: audio.NewChunkRing(historyMax)}
}

// Backfill returns the newest n history chunks, clamped to what is
// available. At least the newest chunk is returned when history is not empty.
func (b *Buffers) Backfill(n int) []audio.Chunk {
	if n < 1 {
		n = 1
	}
	return b.History.Last(n)
}

// Reset clears all three buffers.
func (b *Buffers) Reset() {
	b.History.Clear()
	b.Utterance.Clear()
	b.Streaming.Clear()
}

// Empty reports whether all three buffers are empty.
func (b *Buffers) Empty() bool {
	return b.History.Len() == 0 && b.Utterance.Len() == 0 && b.Streaming.Len() == 0
}

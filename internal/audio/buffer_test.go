package audio

import (
	"bytes"
	"testing"
)

func chunkOf(b byte) Chunk {
	return NewChunk(bytes.Repeat([]byte{b}, 64))
}

func TestChunkRing_Push(t *testing.T) {
	r := NewChunkRing(3)

	r.Push(chunkOf(1))
	r.Push(chunkOf(2))
	if r.Len() != 2 {
		t.Errorf("Expected length 2, got %d", r.Len())
	}

	r.Push(chunkOf(3))
	r.Push(chunkOf(4))
	if r.Len() != 3 {
		t.Errorf("Expected length capped at 3, got %d", r.Len())
	}

	last := r.Last(3)
	for i, want := range []byte{2, 3, 4} {
		if last[i].Data[0] != want {
			t.Errorf("Expected chunk %d at position %d, got %d", want, i, last[i].Data[0])
		}
	}
}

func TestChunkRing_LastClamps(t *testing.T) {
	r := NewChunkRing(5)
	r.Push(chunkOf(1))
	r.Push(chunkOf(2))

	if got := r.Last(10); len(got) != 2 {
		t.Errorf("Expected 2 chunks, got %d", len(got))
	}
	if got := r.Last(0); got != nil {
		t.Errorf("Expected nil for Last(0), got %v", got)
	}
	if got := r.Last(1); got[0].Data[0] != 2 {
		t.Errorf("Expected newest chunk 2, got %d", got[0].Data[0])
	}
}

func TestChunkRing_Trim(t *testing.T) {
	r := NewChunkRing(30)
	for i := 0; i < 25; i++ {
		r.Push(chunkOf(byte(i)))
	}

	r.Trim(20)
	if r.Len() != 20 {
		t.Fatalf("Expected 20 chunks after trim, got %d", r.Len())
	}
	if first := r.Last(20)[0].Data[0]; first != 5 {
		t.Errorf("Expected oldest retained chunk 5, got %d", first)
	}

	r.Trim(50)
	if r.Len() != 20 {
		t.Errorf("Expected trim above length to be a no-op, got %d", r.Len())
	}
}

func TestChunkRing_WrapAroundTrim(t *testing.T) {
	r := NewChunkRing(4)
	for i := 0; i < 7; i++ {
		r.Push(chunkOf(byte(i)))
	}

	r.Trim(2)
	last := r.Last(2)
	if last[0].Data[0] != 5 || last[1].Data[0] != 6 {
		t.Errorf("Expected [5 6], got [%d %d]", last[0].Data[0], last[1].Data[0])
	}
}

func TestChunkRing_Clear(t *testing.T) {
	r := NewChunkRing(3)
	r.Push(chunkOf(1))
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Expected empty ring after clear, got %d", r.Len())
	}
	if r.Capacity() != 3 {
		t.Errorf("Expected capacity 3 after clear, got %d", r.Capacity())
	}
}

func TestChunkBuffer_AppendPrepend(t *testing.T) {
	var b ChunkBuffer
	b.Append(chunkOf(3), chunkOf(4))
	b.Prepend([]Chunk{chunkOf(1), chunkOf(2)})

	if b.Len() != 4 {
		t.Errorf("Expected 4 chunks, got %d", b.Len())
	}
	if b.DurationMs() != 8 {
		t.Errorf("Expected 8ms, got %d", b.DurationMs())
	}
	if b.Size() != 256 {
		t.Errorf("Expected 256 bytes, got %d", b.Size())
	}

	data := b.Bytes()
	for i, want := range []byte{1, 2, 3, 4} {
		if data[i*64] != want {
			t.Errorf("Expected byte %d at chunk %d, got %d", want, i, data[i*64])
		}
	}
}

func TestChunkBuffer_Clear(t *testing.T) {
	var b ChunkBuffer
	b.Append(chunkOf(1))
	b.Clear()

	if b.Len() != 0 || b.DurationMs() != 0 || b.Size() != 0 {
		t.Errorf("Expected empty buffer after clear, got len=%d duration=%d size=%d", b.Len(), b.DurationMs(), b.Size())
	}
	if len(b.Bytes()) != 0 {
		t.Error("Expected no bytes after clear")
	}
}

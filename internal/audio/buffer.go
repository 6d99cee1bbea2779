package audio

// ChunkRing is a bounded ring of the most recent chunks. When full, pushing a
// chunk evicts the oldest one.
//
// ChunkRing is not safe for concurrent use; it is owned by a single session.
type ChunkRing struct {
	chunks []Chunk
	start  int
	count  int
}

// NewChunkRing creates a ring holding at most capacity chunks.
func NewChunkRing(capacity int) *ChunkRing {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkRing{chunks: make([]Chunk, capacity)}
}

// Push appends c, evicting the oldest chunk when the ring is full.
func (r *ChunkRing) Push(c Chunk) {
	size := len(r.chunks)
	if r.count < size {
		r.chunks[(r.start+r.count)%size] = c
		r.count++
		return
	}
	r.chunks[r.start] = c
	r.start = (r.start + 1) % size
}

// Len returns the number of chunks currently held.
func (r *ChunkRing) Len() int {
	return r.count
}

// Capacity returns the maximum number of chunks the ring holds.
func (r *ChunkRing) Capacity() int {
	return len(r.chunks)
}

// Last returns the newest n chunks in arrival order. n is clamped to Len.
func (r *ChunkRing) Last(n int) []Chunk {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Chunk, n)
	size := len(r.chunks)
	first := r.start + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.chunks[(first+i)%size]
	}
	return out
}

// Trim keeps only the newest keep chunks.
func (r *ChunkRing) Trim(keep int) {
	if keep < 0 {
		keep = 0
	}
	if keep >= r.count {
		return
	}
	kept := r.Last(keep)
	r.Clear()
	for _, c := range kept {
		r.Push(c)
	}
}

// Clear drops every chunk.
func (r *ChunkRing) Clear() {
	for i := range r.chunks {
		r.chunks[i] = Chunk{}
	}
	r.start = 0
	r.count = 0
}

// ChunkBuffer accumulates chunks without bound until cleared.
type ChunkBuffer struct {
	chunks     []Chunk
	durationMs int64
	size       int
}

// Append adds chunks to the end of the buffer.
func (b *ChunkBuffer) Append(chunks ...Chunk) {
	for _, c := range chunks {
		b.chunks = append(b.chunks, c)
		b.durationMs += c.DurationMs
		b.size += len(c.Data)
	}
}

// Prepend inserts chunks, in order, before the current contents.
func (b *ChunkBuffer) Prepend(chunks []Chunk) {
	if len(chunks) == 0 {
		return
	}
	merged := make([]Chunk, 0, len(chunks)+len(b.chunks))
	merged = append(merged, chunks...)
	merged = append(merged, b.chunks...)
	b.chunks = merged
	for _, c := range chunks {
		b.durationMs += c.DurationMs
		b.size += len(c.Data)
	}
}

// Len returns the number of chunks held.
func (b *ChunkBuffer) Len() int {
	return len(b.chunks)
}

// Size returns the number of audio bytes held.
func (b *ChunkBuffer) Size() int {
	return b.size
}

// DurationMs returns the summed duration of the held chunks.
func (b *ChunkBuffer) DurationMs() int64 {
	return b.durationMs
}

// Bytes concatenates the held chunks into one contiguous slice.
func (b *ChunkBuffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c.Data...)
	}
	return out
}

// Clear drops every chunk.
func (b *ChunkBuffer) Clear() {
	b.chunks = nil
	b.durationMs = 0
	b.size = 0
}

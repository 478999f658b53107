package turn

import "vchat/audio"

// Buffer holds the fragments captured since the last flush.
type Buffer struct {
	frags [][]byte
	size  int
}

func (b *Buffer) Append(f audio.Fragment) {
	if len(f.Data) == 0 {
		return
	}
	b.frags = append(b.frags, f.Data)
	b.size += len(f.Data)
}

// Len is the number of buffered fragments.
func (b *Buffer) Len() int { return len(b.frags) }

// Size is the number of buffered bytes.
func (b *Buffer) Size() int { return b.size }

// Drain returns the fragments concatenated in capture order and empties
// the buffer.
func (b *Buffer) Drain() []byte {
	out := make([]byte, 0, b.size)
	for _, f := range b.frags {
		out = append(out, f...)
	}
	b.frags = nil
	b.size = 0
	return out
}

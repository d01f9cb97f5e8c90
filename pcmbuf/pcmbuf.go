// Package pcmbuf implements the interleaved float32 PCM accumulator every
// codec decoder needs: variable-size codec frames rarely align with the
// caller's requested chunk size, so decoded samples are appended here and
// drained front-to-back as callers ask for them (spec section 3, "PCM
// buffer").
package pcmbuf

// Buffer is an ordered float32 accumulator. It is not safe for concurrent
// use; callers serialize access the same way they serialize the rest of
// a Decoder's state.
type Buffer struct {
	samples []float32
}

// Append adds samples to the tail of the buffer.
func (b *Buffer) Append(samples []float32) {
	b.samples = append(b.samples, samples...)
}

// Len returns the number of buffered samples (not frames).
func (b *Buffer) Len() int { return len(b.samples) }

// Frames returns the number of complete frames buffered for the given
// channel count.
func (b *Buffer) Frames(channels int) int {
	if channels <= 0 {
		return 0
	}

	return len(b.samples) / channels
}

// Drain copies up to len(dst) samples from the head of the buffer into
// dst and erases them, returning the number of samples copied.
func (b *Buffer) Drain(dst []float32) int {
	n := copy(dst, b.samples)
	b.samples = b.samples[n:]

	return n
}

// Clear empties the buffer, as Seek and Flush require.
func (b *Buffer) Clear() {
	b.samples = b.samples[:0]
}

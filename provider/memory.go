package provider

import (
	"io"
	"sync"
)

// MemoryProvider is a growable byte buffer used as a FIFO: Write appends,
// Read copies and removes from the head. It backs the transmuxer's
// in-memory hand-off between the DASH→HLS transmux primitive and the
// inner MP2TS decoder (spec section 4.D).
type MemoryProvider struct {
	path string

	mu  sync.Mutex
	buf []byte
}

// NewMemoryProvider creates an empty MemoryProvider. path is cosmetic
// (used only by Path(), e.g. the transmuxer's synthetic route).
func NewMemoryProvider(path string) *MemoryProvider {
	return &MemoryProvider{path: path}
}

func (p *MemoryProvider) Load(_ func(error), onDone func(bool)) {
	onDone(true)
}

// Write appends data to the tail of the FIFO, satisfying io.Writer so a
// transmux.Transmuxer can write straight into a MemoryProvider.
func (p *MemoryProvider) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)

	return len(data), nil
}

func (p *MemoryProvider) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return 0, io.EOF
	}

	n := copy(buf, p.buf)
	p.buf = p.buf[n:]

	return n, nil
}

// Seek always fails: the FIFO has no addressable positions once bytes
// have been drained.
func (p *MemoryProvider) Seek(int64, Whence) (int64, error) {
	return -1, ErrSeekUnsupported
}

func (p *MemoryProvider) Tell() (int64, error) {
	return 0, nil
}

// EOF reports whether the buffer is empty.
func (p *MemoryProvider) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.buf) == 0
}

// Size is always unknown for a FIFO.
func (p *MemoryProvider) Size() int64 { return UnknownSize }

func (p *MemoryProvider) Path() string { return p.path }
func (p *MemoryProvider) Name() string { return MemoryProviderName }

// Flush discards all buffered bytes.
func (p *MemoryProvider) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = p.buf[:0]
}

// Len reports the number of unread bytes currently buffered.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.buf)
}

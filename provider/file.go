package provider

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileProvider reads from a local path opened read-only.
type FileProvider struct {
	path string

	mu   sync.Mutex
	file *os.File
	size int64
	eof  bool
}

// NewFileProvider creates a FileProvider for path. Load must be called
// before Read.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Load(onError func(error), onDone func(bool)) {
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		f, err := os.Open(p.path)
		if err != nil {
			onError(fmt.Errorf("opening %s: %w", p.path, err))
			onDone(false)

			return
		}

		size, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			onError(fmt.Errorf("sizing %s: %w", p.path, err))
			onDone(false)

			return
		}

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			onError(fmt.Errorf("rewinding %s: %w", p.path, err))
			onDone(false)

			return
		}

		p.file = f
		p.size = size

		onDone(true)
	}()
}

// Read returns bytesRead*len(buf)/len(buf) — i.e. the raw byte count —
// matching spec section 9's open question (a): the historical library
// contract returned bytes_read*size rather than bytes_read*elem_size,
// which only matches Go's plain byte-count Read when every caller treats
// elem_size as 1 byte, exactly as every caller in this module does.
func (p *FileProvider) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, errors.New("provider: file not loaded")
	}

	n, err := p.file.Read(buf)
	if errors.Is(err, io.EOF) {
		p.eof = true
	}

	return n, err
}

func (p *FileProvider) Seek(offset int64, whence Whence) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, errors.New("provider: file not loaded")
	}

	var w int

	switch whence {
	case SeekSet:
		w = io.SeekStart
	case SeekCurrent:
		w = io.SeekCurrent
	case SeekEnd:
		w = io.SeekEnd
	}

	off, err := p.file.Seek(offset, w)
	if err == nil {
		p.eof = false
	}

	return off, err
}

func (p *FileProvider) Tell() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, errors.New("provider: file not loaded")
	}

	return p.file.Seek(0, io.SeekCurrent)
}

func (p *FileProvider) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.eof
}

func (p *FileProvider) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.size
}

func (p *FileProvider) Path() string { return p.path }
func (p *FileProvider) Name() string { return "file" }

// Close releases the underlying file handle.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}

	err := p.file.Close()
	p.file = nil

	return err
}

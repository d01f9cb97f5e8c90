package detect_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/mycophonic/pinna/detect"
)

// seeker wraps a []byte in an io.ReadSeeker via bytes.Reader, matching
// what Identify expects.
func seeker(data []byte) io.ReadSeeker { return bytes.NewReader(data) }

func padTo(data []byte, n int) []byte {
	if len(data) >= n {
		return data
	}

	return append(append([]byte(nil), data...), make([]byte, n-len(data))...)
}

func TestIdentifyFLAC(t *testing.T) {
	t.Parallel()

	got, err := detect.Identify(seeker(padTo([]byte("fLaC"), 12)))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.FLAC {
		t.Errorf("Identify() = %v, want FLAC", got)
	}
}

func TestIdentifyVorbis(t *testing.T) {
	t.Parallel()

	got, err := detect.Identify(seeker(padTo([]byte("OggS"), 12)))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.Vorbis {
		t.Errorf("Identify() = %v, want Vorbis", got)
	}
}

func TestIdentifyWAV(t *testing.T) {
	t.Parallel()

	header := append([]byte("RIFF"), []byte{0, 0, 0, 0}...)
	header = append(header, []byte("WAVE")...)

	got, err := detect.Identify(seeker(padTo(header, 12)))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.WAV {
		t.Errorf("Identify() = %v, want WAV", got)
	}
}

func TestIdentifyALAC(t *testing.T) {
	t.Parallel()

	header := append([]byte{0, 0, 0, 0}, []byte("ftyp")...)

	got, err := detect.Identify(seeker(padTo(header, 12)))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.ALAC {
		t.Errorf("Identify() = %v, want ALAC", got)
	}
}

func TestIdentifyMP3ID3(t *testing.T) {
	t.Parallel()

	got, err := detect.Identify(seeker(padTo([]byte("ID3"), 12)))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.MP3 {
		t.Errorf("Identify() = %v, want MP3", got)
	}
}

func TestIdentifyMP3SyncWord(t *testing.T) {
	t.Parallel()

	header := padTo([]byte{0xFF, 0xE0}, 12)

	got, err := detect.Identify(seeker(header))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.MP3 {
		t.Errorf("Identify() = %v, want MP3", got)
	}
}

func TestIdentifyAACADTS(t *testing.T) {
	t.Parallel()

	header := padTo([]byte{0xFF, 0xF1}, 12)

	got, err := detect.Identify(seeker(header))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.AAC {
		t.Errorf("Identify() = %v, want AAC", got)
	}
}

func TestIdentifyUnknown(t *testing.T) {
	t.Parallel()

	got, err := detect.Identify(seeker(padTo([]byte("junk"), 12)))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}

	if got != detect.Unknown {
		t.Errorf("Identify() = %v, want Unknown", got)
	}
}

func TestIdentifyResetsPosition(t *testing.T) {
	t.Parallel()

	r := seeker(padTo([]byte("fLaC"), 32))

	if _, err := detect.Identify(r); err != nil {
		t.Fatalf("Identify: %v", err)
	}

	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if pos != 0 {
		t.Errorf("reader position after Identify = %d, want 0", pos)
	}
}

func TestSniffRestoresPositionAndPriorReads(t *testing.T) {
	t.Parallel()

	data := padTo([]byte("OggS"), 32)
	r := &sniffableBuffer{data: data}

	// Advance the cursor before sniffing, so the test can check that Sniff
	// restores the caller's position.
	buf := make([]byte, 4)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}

	got := detect.Sniff(r)
	if got != detect.Vorbis {
		t.Errorf("Sniff() = %v, want Vorbis", got)
	}

	if r.pos != 4 {
		t.Errorf("position after Sniff = %d, want 4 (restored)", r.pos)
	}
}

func TestSniffUnknownOnShortBuffer(t *testing.T) {
	t.Parallel()

	r := &sniffableBuffer{data: []byte{0x01}}

	if got := detect.Sniff(r); got != detect.Unknown {
		t.Errorf("Sniff() = %v, want Unknown", got)
	}
}

type sniffableBuffer struct {
	data []byte
	pos  int64
}

func (b *sniffableBuffer) Read(buf []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}

	n := copy(buf, b.data[b.pos:])
	b.pos += int64(n)

	return n, nil
}

func (b *sniffableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = offset
	case io.SeekCurrent:
		b.pos += offset
	case io.SeekEnd:
		b.pos = int64(len(b.data)) + offset
	}

	return b.pos, nil
}

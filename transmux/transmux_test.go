package transmux_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
	"github.com/mycophonic/pinna/transmux"
)

// buildSidxBuffer lays out a minimal 'sidx' box followed by raw segment
// bytes, in exactly the byte order mp4box's scanner expects (see
// mp4box/scanner_test.go for the field-by-field derivation).
func buildSidxBuffer(timescale uint32, segments [][]byte) []byte {
	entryCount := len(segments)

	buf := []byte("sidx")
	buf = append(buf, make([]byte, 8)...)

	ts := make([]byte, 4)
	binary.BigEndian.PutUint32(ts, timescale)
	buf = append(buf, ts...)

	buf = append(buf, make([]byte, 10)...)

	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(entryCount))
	buf = append(buf, count...)

	for _, seg := range segments {
		entry := make([]byte, 12)
		binary.BigEndian.PutUint32(entry[4:8], 2048) // subsegment_duration, timescale units
		binary.BigEndian.PutUint32(entry[8:12], uint32(len(seg)))
		buf = append(buf, entry...)
	}

	for _, seg := range segments {
		buf = append(buf, seg...)
	}

	return buf
}

func newLoadedDecoder(t *testing.T) *transmux.Decoder {
	t.Helper()

	seg0 := make([]byte, 16)
	seg1 := make([]byte, 16)

	for i := range seg0 {
		seg0[i] = 0xAA
		seg1[i] = 0xBB
	}

	full := buildSidxBuffer(44100, [][]byte{seg0, seg1})

	src := &memSrc{data: full}
	registry := provider.NewRegistry(nil)

	buildInner := func(_ provider.DataProvider) (pinna.Decoder, error) {
		return newFakeInnerDecoder(44100, 2), nil
	}

	dec := transmux.New(src, passthroughTransmuxer{}, buildInner, registry, nil, 0)

	errCh := make(chan error, 1)
	doneCh := make(chan bool, 1)

	dec.Load(func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
		errCh <- pinna.NewError(domain, code, nil)
	}, func(ok bool) { doneCh <- ok })

	select {
	case err := <-errCh:
		t.Fatalf("Load onError: %v", err)
	case ok := <-doneCh:
		if !ok {
			t.Fatal("Load did not succeed")
		}
	}

	return dec
}

func decodeSync(t *testing.T, dec *transmux.Decoder, frames int) (int64, int) {
	t.Helper()

	var (
		frameIndex int64
		frameCount int
	)

	dec.Decode(frames, func(fi int64, fc int, _ []float32) {
		frameIndex = fi
		frameCount = fc
	}, true)

	return frameIndex, frameCount
}

func TestDecoderSampleRateChannelsFrames(t *testing.T) {
	t.Parallel()

	dec := newLoadedDecoder(t)

	if dec.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %v, want 44100", dec.SampleRate())
	}

	if dec.Channels() != 2 {
		t.Errorf("Channels() = %d, want 2", dec.Channels())
	}

	// Two 2048-frame segments (timescale == sample rate) minus the
	// 1024-frame priming trim applied to segment 0.
	if want := int64(1024 + 2048); dec.Frames() != want {
		t.Errorf("Frames() = %d, want %d", dec.Frames(), want)
	}
}

func TestDecoderDecodeAcrossSegments(t *testing.T) {
	t.Parallel()

	dec := newLoadedDecoder(t)

	frameIndex, frameCount := decodeSync(t, dec, 500)
	if frameIndex != 0 || frameCount != 500 {
		t.Fatalf("first decode = (%d, %d), want (0, 500)", frameIndex, frameCount)
	}

	// This crosses into segment 1, exercising pullSegmentLocked's
	// segment-boundary lookup.
	frameIndex, frameCount = decodeSync(t, dec, 1000)
	if frameIndex != 500 || frameCount != 1000 {
		t.Fatalf("second decode = (%d, %d), want (500, 1000)", frameIndex, frameCount)
	}

	if dec.CurrentFrameIndex() != 1500 {
		t.Fatalf("CurrentFrameIndex() = %d, want 1500", dec.CurrentFrameIndex())
	}
}

func TestDecoderSeekWithinBuffer(t *testing.T) {
	t.Parallel()

	dec := newLoadedDecoder(t)

	if _, frameCount := decodeSync(t, dec, 1500); frameCount != 1500 {
		t.Fatalf("decode returned %d frames, want 1500", frameCount)
	}

	if err := dec.Seek(2000); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if dec.CurrentFrameIndex() != 2000 {
		t.Fatalf("CurrentFrameIndex() after Seek = %d, want 2000", dec.CurrentFrameIndex())
	}
}

func TestDecoderSeekOutsideBufferReloads(t *testing.T) {
	t.Parallel()

	dec := newLoadedDecoder(t)

	if _, frameCount := decodeSync(t, dec, 100); frameCount != 100 {
		t.Fatalf("decode returned %d frames, want 100", frameCount)
	}

	if err := dec.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if dec.CurrentFrameIndex() != 0 {
		t.Fatalf("CurrentFrameIndex() after Seek = %d, want 0", dec.CurrentFrameIndex())
	}

	frameIndex, frameCount := decodeSync(t, dec, 50)
	if frameIndex != 0 || frameCount != 50 {
		t.Fatalf("decode after seek = (%d, %d), want (0, 50)", frameIndex, frameCount)
	}
}

func TestDecoderEOFAtEndOfIndex(t *testing.T) {
	t.Parallel()

	dec := newLoadedDecoder(t)

	if err := dec.Seek(3072); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	_, frameCount := decodeSync(t, dec, 100)
	if frameCount != 0 {
		t.Fatalf("decode past end returned %d frames, want 0", frameCount)
	}

	if !dec.EOF() {
		t.Fatal("EOF() = false, want true")
	}
}

// passthroughTransmuxer writes each segment's raw bytes straight into
// out, standing in for a real DASH-fragment-to-MPEG2TS conversion whose
// implementation is out of scope here.
type passthroughTransmuxer struct{}

func (passthroughTransmuxer) Transmux(segment []byte, out io.Writer) error {
	_, err := out.Write(segment)

	return err
}

// fakeInnerDecoder is a pinna.Decoder that ignores whatever bytes its
// DataProvider carries and simply produces a fixed sample rate/channel
// count worth of zero-value frames on demand, exercising transmux.Decoder's
// segment-driving logic independent of any real codec.
type fakeInnerDecoder struct {
	sampleRate  float64
	channels    int
	pos         int64
	totalFrames int64
	eof         bool
}

func newFakeInnerDecoder(sampleRate float64, channels int) *fakeInnerDecoder {
	return &fakeInnerDecoder{sampleRate: sampleRate, channels: channels, totalFrames: 1_000_000}
}

func (f *fakeInnerDecoder) Load(_ pinna.OnError, onDone pinna.OnDone) { onDone(true) }
func (f *fakeInnerDecoder) SampleRate() float64                      { return f.sampleRate }
func (f *fakeInnerDecoder) Channels() int                            { return f.channels }
func (f *fakeInnerDecoder) CurrentFrameIndex() int64                 { return f.pos }
func (f *fakeInnerDecoder) Frames() int64                            { return f.totalFrames }
func (f *fakeInnerDecoder) EOF() bool                                { return f.eof }
func (f *fakeInnerDecoder) Path() string                             { return "fake" }
func (f *fakeInnerDecoder) Name() string                             { return "fake" }

func (f *fakeInnerDecoder) Seek(frameIndex int64) error {
	f.pos = frameIndex
	f.eof = false

	return nil
}

func (f *fakeInnerDecoder) Flush() {}

func (f *fakeInnerDecoder) Decode(frames int, cb pinna.DecodeCallback, _ bool) {
	remaining := f.totalFrames - f.pos
	n := int64(frames)

	if n > remaining {
		n = remaining
	}

	samples := make([]float32, int(n)*f.channels)

	frameIndex := f.pos
	f.pos += n

	if f.pos >= f.totalFrames {
		f.eof = true
	}

	cb(frameIndex, int(n), samples)
}

// memSrc is a minimal provider.DataProvider over a fixed byte slice.
type memSrc struct {
	data []byte
	pos  int64
}

func (s *memSrc) Read(buf []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}

	n := copy(buf, s.data[s.pos:])
	s.pos += int64(n)

	return n, nil
}

func (s *memSrc) Seek(offset int64, whence provider.Whence) (int64, error) {
	switch whence {
	case provider.SeekSet:
		s.pos = offset
	case provider.SeekCurrent:
		s.pos += offset
	case provider.SeekEnd:
		s.pos = int64(len(s.data)) + offset
	}

	return s.pos, nil
}

func (s *memSrc) Tell() (int64, error) { return s.pos, nil }
func (s *memSrc) EOF() bool            { return s.pos >= int64(len(s.data)) }
func (s *memSrc) Size() int64          { return int64(len(s.data)) }
func (s *memSrc) Load(_ func(error), onDone func(bool)) { onDone(true) }
func (s *memSrc) Path() string { return "test" }
func (s *memSrc) Name() string { return "test" }

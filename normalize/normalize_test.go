package normalize_test

import (
	"testing"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/normalize"
)

// fakeMonoDecoder emits one sample per frame whose value is the frame's
// absolute index, so remix/decode bookkeeping can be checked exactly.
type fakeMonoDecoder struct {
	sampleRate  float64
	pos         int64
	totalFrames int64
	eof         bool
}

func (f *fakeMonoDecoder) Load(_ pinna.OnError, onDone pinna.OnDone) { onDone(true) }
func (f *fakeMonoDecoder) SampleRate() float64                      { return f.sampleRate }
func (f *fakeMonoDecoder) Channels() int                            { return 1 }
func (f *fakeMonoDecoder) CurrentFrameIndex() int64                 { return f.pos }
func (f *fakeMonoDecoder) Frames() int64                            { return f.totalFrames }
func (f *fakeMonoDecoder) EOF() bool                                { return f.eof }
func (f *fakeMonoDecoder) Path() string                             { return "fake://mono" }
func (f *fakeMonoDecoder) Name() string                             { return "fakemono" }
func (f *fakeMonoDecoder) Flush()                                   {}

func (f *fakeMonoDecoder) Seek(frameIndex int64) error {
	f.pos = frameIndex
	f.eof = false

	return nil
}

func (f *fakeMonoDecoder) Decode(frames int, cb pinna.DecodeCallback, _ bool) {
	remaining := f.totalFrames - f.pos
	n := int64(frames)
	if n > remaining {
		n = remaining
	}

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(f.pos + int64(i))
	}

	frameIndex := f.pos
	f.pos += n

	if f.pos >= f.totalFrames {
		f.eof = true
	}

	cb(frameIndex, int(n), samples)
}

func syncNormalizeLoad(t *testing.T, dec *normalize.Decoder) {
	t.Helper()

	done := make(chan bool, 1)
	dec.Load(func(_ pinna.ErrorDomain, _ pinna.ErrorCode) {
		t.Fatalf("Load: unexpected error callback")
	}, func(ok bool) { done <- ok })

	if !<-done {
		t.Fatal("Load did not succeed")
	}
}

func TestDecoderUpmixMonoToStereoNoResample(t *testing.T) {
	t.Parallel()

	inner := &fakeMonoDecoder{sampleRate: 44100, totalFrames: 10000}
	dec := normalize.New(inner, 2, 44100)
	syncNormalizeLoad(t, dec)

	if dec.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %v, want 44100", dec.SampleRate())
	}

	if dec.Channels() != 2 {
		t.Errorf("Channels() = %d, want 2", dec.Channels())
	}

	var (
		frameIndex int64
		frameCount int
		out        []float32
	)

	dec.Decode(10, func(fi int64, fc int, samples []float32) {
		frameIndex = fi
		frameCount = fc
		out = samples
	}, true)

	if frameIndex != 0 {
		t.Errorf("frameIndex = %d, want 0", frameIndex)
	}

	if frameCount != 10 {
		t.Fatalf("frameCount = %d, want 10", frameCount)
	}

	if len(out) != 20 {
		t.Fatalf("len(out) = %d, want 20", len(out))
	}

	for i := 0; i < 10; i++ {
		l, r := out[i*2], out[i*2+1]
		want := float32(i)

		if l != want || r != want {
			t.Errorf("frame %d = (%v, %v), want (%v, %v)", i, l, r, want, want)
		}
	}

	if dec.CurrentFrameIndex() != 10 {
		t.Errorf("CurrentFrameIndex() = %d, want 10", dec.CurrentFrameIndex())
	}
}

func TestDecoderFramesPassthroughWhenRatesMatch(t *testing.T) {
	t.Parallel()

	inner := &fakeMonoDecoder{sampleRate: 44100, totalFrames: 5000}
	dec := normalize.New(inner, 2, 44100)
	syncNormalizeLoad(t, dec)

	if dec.Frames() != 5000 {
		t.Errorf("Frames() = %d, want 5000", dec.Frames())
	}
}

func TestDecoderSeekTranslatesToInnerFrame(t *testing.T) {
	t.Parallel()

	inner := &fakeMonoDecoder{sampleRate: 44100, totalFrames: 10000}
	dec := normalize.New(inner, 2, 44100)
	syncNormalizeLoad(t, dec)

	if err := dec.Seek(100); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if dec.CurrentFrameIndex() != 100 {
		t.Errorf("CurrentFrameIndex() = %d, want 100", dec.CurrentFrameIndex())
	}

	var frameIndex int64

	dec.Decode(1, func(fi int64, _ int, _ []float32) { frameIndex = fi }, true)

	if frameIndex != 100 {
		t.Errorf("frameIndex after seek = %d, want 100", frameIndex)
	}
}

func TestDecoderEOFAfterInnerExhausted(t *testing.T) {
	t.Parallel()

	inner := &fakeMonoDecoder{sampleRate: 44100, totalFrames: 5}
	dec := normalize.New(inner, 1, 44100)
	syncNormalizeLoad(t, dec)

	var frameCount int

	dec.Decode(5, func(_ int64, fc int, _ []float32) { frameCount = fc }, true)

	if frameCount != 5 {
		t.Fatalf("frameCount = %d, want 5", frameCount)
	}

	dec.Decode(5, func(_ int64, fc int, _ []float32) { frameCount = fc }, true)

	if frameCount != 0 {
		t.Errorf("frameCount after exhaustion = %d, want 0", frameCount)
	}

	if !dec.EOF() {
		t.Error("EOF() = false, want true after inner decoder is exhausted")
	}
}

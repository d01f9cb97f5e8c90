package main

import (
	"path/filepath"
	"testing"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
	"github.com/mycophonic/pinna/wav"
)

// fakeDecoder emits deterministic samples until totalFrames is exhausted.
type fakeDecoder struct {
	sampleRate  float64
	channels    int
	pos         int64
	totalFrames int64
}

func (f *fakeDecoder) Load(_ pinna.OnError, onDone pinna.OnDone) { onDone(true) }
func (f *fakeDecoder) SampleRate() float64                      { return f.sampleRate }
func (f *fakeDecoder) Channels() int                             { return f.channels }
func (f *fakeDecoder) CurrentFrameIndex() int64                  { return f.pos }
func (f *fakeDecoder) Frames() int64                             { return f.totalFrames }
func (f *fakeDecoder) EOF() bool                                 { return f.pos >= f.totalFrames }
func (f *fakeDecoder) Path() string                              { return "fake://decode-test" }
func (f *fakeDecoder) Name() string                              { return "fake" }
func (f *fakeDecoder) Flush()                                    {}

func (f *fakeDecoder) Seek(frameIndex int64) error {
	f.pos = frameIndex

	return nil
}

func (f *fakeDecoder) Decode(frames int, cb pinna.DecodeCallback, _ bool) {
	remaining := f.totalFrames - f.pos
	n := int64(frames)
	if n > remaining {
		n = remaining
	}

	samples := make([]float32, n*int64(f.channels))
	for i := range samples {
		samples[i] = 1
	}

	frameIndex := f.pos
	f.pos += n

	cb(frameIndex, int(n), samples)
}

func TestDrainDecoderReadsUntilEOF(t *testing.T) {
	t.Parallel()

	dec := &fakeDecoder{sampleRate: 44100, channels: 2, totalFrames: 10000}

	samples := drainDecoder(dec, 0)
	if len(samples) != 10000*2 {
		t.Fatalf("len(samples) = %d, want %d", len(samples), 10000*2)
	}
}

func TestDrainDecoderRespectsDurationLimit(t *testing.T) {
	t.Parallel()

	dec := &fakeDecoder{sampleRate: 1000, channels: 1, totalFrames: 10000}

	samples := drainDecoder(dec, 2) // 2 seconds at 1000Hz = 2000 frames
	if len(samples) != 2000 {
		t.Fatalf("len(samples) = %d, want 2000", len(samples))
	}
}

func TestDrainDecoderZeroFrameDecoder(t *testing.T) {
	t.Parallel()

	dec := &fakeDecoder{sampleRate: 44100, channels: 1, totalFrames: 0}

	samples := drainDecoder(dec, 0)
	if len(samples) != 0 {
		t.Fatalf("len(samples) = %d, want 0", len(samples))
	}
}

func TestWriteWAVRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, -0.2, 0.3, -0.4}
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.wav")

	if err := writeWAV(outPath, samples, 2, 44100); err != nil {
		t.Fatalf("writeWAV: %v", err)
	}

	dp := provider.NewFileProvider(outPath)
	defer dp.Close()

	loadDone := make(chan bool, 1)
	dp.Load(func(err error) { t.Fatalf("provider Load: %v", err) }, func(ok bool) { loadDone <- ok })

	if !<-loadDone {
		t.Fatal("provider Load did not succeed")
	}

	dec := wav.New(dp)

	decDone := make(chan bool, 1)
	dec.Load(func(_ pinna.ErrorDomain, _ pinna.ErrorCode) {
		t.Fatalf("wav Load: unexpected error")
	}, func(ok bool) { decDone <- ok })

	if !<-decDone {
		t.Fatal("wav decoder Load did not succeed")
	}

	if dec.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %v, want 44100", dec.SampleRate())
	}

	if dec.Channels() != 2 {
		t.Errorf("Channels() = %d, want 2", dec.Channels())
	}
}

package wav_test

import (
	"bytes"
	"math"
	"os"
	"testing"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
	"github.com/mycophonic/pinna/wav"
)

func syncLoad(t *testing.T, dp provider.DataProvider) {
	t.Helper()

	done := make(chan bool, 1)
	dp.Load(func(err error) { t.Fatalf("provider Load: %v", err) }, func(ok bool) { done <- ok })

	if !<-done {
		t.Fatal("provider Load did not succeed")
	}
}

func syncDecoderLoad(t *testing.T, dec pinna.Decoder) {
	t.Helper()

	done := make(chan bool, 1)

	dec.Load(func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
		t.Fatalf("decoder Load: domain=%v code=%v", domain, code)
	}, func(ok bool) { done <- ok })

	if !<-done {
		t.Fatal("decoder Load did not succeed")
	}
}

func decodeAll(dec pinna.Decoder) []float32 {
	var out []float32

	for {
		var (
			frameCount int
			samples    []float32
		)

		dec.Decode(1024, func(_ int64, fc int, s []float32) {
			frameCount = fc
			samples = s
		}, true)

		out = append(out, samples...)

		if frameCount == 0 || dec.EOF() {
			break
		}
	}

	return out
}

func newMemoryDP(t *testing.T, data []byte) provider.DataProvider {
	t.Helper()

	mem := provider.NewMemoryProvider(provider.MemoryProviderName)

	if _, err := mem.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	syncLoad(t, mem)

	return mem
}

func TestDecodePCM16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []float32{0, 0.5, -0.5, 0.25, -0.25, 1, -1, 0}

	var buf bytes.Buffer
	if err := wav.Encode(&buf, samples, 2, 44100, pinna.Depth16); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := wav.New(newMemoryDP(t, buf.Bytes()))
	syncDecoderLoad(t, dec)

	if dec.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %v, want 44100", dec.SampleRate())
	}

	if dec.Channels() != 2 {
		t.Errorf("Channels() = %d, want 2", dec.Channels())
	}

	if dec.Frames() != 4 {
		t.Errorf("Frames() = %d, want 4", dec.Frames())
	}

	got := decodeAll(dec)
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}

	for i, want := range samples {
		if math.Abs(float64(got[i]-want)) > 1e-4 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want)
		}
	}

	if !dec.EOF() {
		t.Error("EOF() = false after draining all frames")
	}
}

func TestDecodeIEEEFloatRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, -0.2, 0.3, -0.4}

	var buf bytes.Buffer
	if err := wav.Encode(&buf, samples, 1, 22050, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := wav.New(newMemoryDP(t, buf.Bytes()))
	syncDecoderLoad(t, dec)

	got := decodeAll(dec)
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}

	for i, want := range samples {
		if got[i] != want {
			t.Errorf("sample %d = %v, want exactly %v (IEEE float round-trips exactly)", i, got[i], want)
		}
	}
}

func TestDecodeNotRIFF(t *testing.T) {
	t.Parallel()

	dec := wav.New(newMemoryDP(t, []byte("not a riff file at all, padded")))

	done := make(chan bool, 1)

	var gotErr bool

	dec.Load(func(pinna.ErrorDomain, pinna.ErrorCode) { gotErr = true }, func(ok bool) { done <- ok })

	if ok := <-done; ok {
		t.Fatal("Load succeeded for a non-RIFF buffer")
	}

	if !gotErr {
		t.Fatal("onError was not called")
	}
}

func TestSeekComputesByteOffset(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 10*2)
	for i := range samples {
		samples[i] = float32(i) * 0.01 // small, well within [-1, 1]
	}

	var buf bytes.Buffer
	if err := wav.Encode(&buf, samples, 2, 44100, pinna.Depth16); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dp := provider.NewFileProvider(writeTempFile(t, buf.Bytes()))
	defer dp.Close()

	syncLoad(t, dp)

	dec := wav.New(dp)
	syncDecoderLoad(t, dec)

	if err := dec.Seek(5); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if dec.CurrentFrameIndex() != 5 {
		t.Fatalf("CurrentFrameIndex() = %d, want 5", dec.CurrentFrameIndex())
	}

	var samplesOut []float32

	dec.Decode(1, func(_ int64, _ int, s []float32) { samplesOut = s }, true)

	want := []float32{0.10, 0.11} // frame 5, both channels
	if len(samplesOut) != 2 {
		t.Fatalf("Decode after Seek(5) returned %d samples, want 2", len(samplesOut))
	}

	for i, w := range want {
		if math.Abs(float64(samplesOut[i]-w)) > 1e-4 {
			t.Errorf("sample %d = %v, want %v", i, samplesOut[i], w)
		}
	}
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()

	dir := t.TempDir()
	path := dir + "/seek.wav"

	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	return path
}

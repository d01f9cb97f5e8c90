package alac

import (
	"math"
	"testing"

	mp4 "github.com/abema/go-mp4"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

func TestLookupSamplesPerChunk(t *testing.T) {
	t.Parallel()

	entries := []mp4.StscEntry{
		{FirstChunk: 1, SamplesPerChunk: 10},
		{FirstChunk: 3, SamplesPerChunk: 20},
		{FirstChunk: 5, SamplesPerChunk: 5},
	}

	cases := map[uint32]uint32{
		1: 10,
		2: 10,
		3: 20,
		4: 20,
		5: 5,
		9: 5,
	}

	for chunk, want := range cases {
		if got := lookupSamplesPerChunk(entries, chunk); got != want {
			t.Errorf("lookupSamplesPerChunk(%d) = %d, want %d", chunk, got, want)
		}
	}
}

func TestLookupSamplesPerChunkEmpty(t *testing.T) {
	t.Parallel()

	if got := lookupSamplesPerChunk(nil, 1); got != 0 {
		t.Errorf("lookupSamplesPerChunk(nil, 1) = %d, want 0", got)
	}
}

func TestBytesToFloat32SixteenBit(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0x80, 0xFF, 0x7F} // -32768, 32767 (little-endian int16)

	out := bytesToFloat32(raw, 2, pinna.Depth16.MaxValue())
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}

	if math.Abs(float64(out[0])-(-32768.0/32767.0)) > 1e-4 {
		t.Errorf("out[0] = %v, want ~-1.0", out[0])
	}

	if math.Abs(float64(out[1])-1.0) > 1e-4 {
		t.Errorf("out[1] = %v, want ~1.0", out[1])
	}
}

func TestBytesToFloat32TwentyFourBitSignExtension(t *testing.T) {
	t.Parallel()

	// 0xFFFFFF is -1 in 24-bit two's complement, little-endian bytes.
	raw := []byte{0xFF, 0xFF, 0xFF}

	out := bytesToFloat32(raw, 3, pinna.Depth24.MaxValue())
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}

	want := float32(-1.0 / 8388607.0)
	if math.Abs(float64(out[0]-want)) > 1e-6 {
		t.Errorf("out[0] = %v, want %v", out[0], want)
	}
}

// Constructing a genuine M4A/ALAC container by hand isn't something we can
// do with confidence, so PullDecoder.Load's container-walking path is only
// exercised negatively here: garbage input must fail cleanly through the
// same onError/onDone contract every other codec-library-wrapping decoder
// in this module honors.
func TestPullDecoderLoadRejectsGarbageInput(t *testing.T) {
	t.Parallel()

	mem := provider.NewMemoryProvider(provider.MemoryProviderName)
	if _, err := mem.Write([]byte("not an mp4 container, just some bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loadDone := make(chan bool, 1)
	mem.Load(func(err error) { t.Fatalf("provider Load: %v", err) }, func(ok bool) { loadDone <- ok })

	if !<-loadDone {
		t.Fatal("provider Load did not succeed")
	}

	dec := New(mem)

	var gotDomain pinna.ErrorDomain

	done := make(chan bool, 1)
	dec.Load(func(domain pinna.ErrorDomain, _ pinna.ErrorCode) {
		gotDomain = domain
	}, func(ok bool) { done <- ok })

	if ok := <-done; ok {
		t.Fatal("Load succeeded on a non-MP4 input")
	}

	if gotDomain != pinna.DomainCouldNotDecodeHeader {
		t.Errorf("domain = %v, want DomainCouldNotDecodeHeader", gotDomain)
	}

	if dec.Name() != "alac" {
		t.Errorf("Name() = %q, want %q", dec.Name(), "alac")
	}
}

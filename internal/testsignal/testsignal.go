// Package testsignal generates synthetic PCM content for package-local
// tests, generalizing the teacher's generateWhiteNoise xorshift helper
// (tests/synthetic_decode_test.go) from raw-integer-PCM byte slices to
// interleaved float32 frames, and adding a WAV-container wrapper so
// codec tests can exercise a real DataProvider without shelling out to
// ffmpeg or another external binary.
package testsignal

import (
	"bytes"
	"math"
	"os"
	"path/filepath"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/wav"
)

// WhiteNoise generates deterministic pseudo-random interleaved float32
// samples in [-1, 1) using the teacher's xorshift64 PRNG, seeded
// identically on every call so tests are reproducible without storing
// fixtures.
func WhiteNoise(sampleRate, channels, durationSec int) []float32 {
	numSamples := sampleRate * durationSec * channels
	samples := make([]float32, numSamples)

	seed := uint64(0x12345678)

	for i := range numSamples {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17

		samples[i] = float32(int32(seed%2_000_000)-1_000_000) / 1_000_000
	}

	return samples
}

// SineWave generates a single-frequency sine tone at the given
// amplitude (0, 1], interleaved across channels identically.
func SineWave(sampleRate, channels, durationSec int, freqHz, amplitude float64) []float32 {
	frameCount := sampleRate * durationSec
	samples := make([]float32, frameCount*channels)

	for frame := range frameCount {
		v := float32(amplitude * math.Sin(2*math.Pi*freqHz*float64(frame)/float64(sampleRate)))

		for ch := range channels {
			samples[frame*channels+ch] = v
		}
	}

	return samples
}

// WAVBytes wraps samples in a WAV container at the given bit depth,
// returning the encoded bytes ready to hand to a provider.MemoryProvider
// or write to a temp file.
func WAVBytes(samples []float32, channels int, sampleRate float64, depth pinna.BitDepth) ([]byte, error) {
	var buf bytes.Buffer

	if err := wav.Encode(&buf, samples, channels, sampleRate, depth); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteWAVFile encodes samples as WAV and writes it to name inside dir,
// returning the full path, for tests that need a provider.FileProvider
// rather than an in-memory one.
func WriteWAVFile(dir, name string, samples []float32, channels int, sampleRate float64, depth pinna.BitDepth) (string, error) {
	data, err := WAVBytes(samples, channels, sampleRate, depth)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

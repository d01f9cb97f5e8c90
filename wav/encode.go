package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/mycophonic/pinna"
)

// Encode writes interleaved float32 PCM as a WAV file. The CLI (spec
// section 6) always writes IEEE-float (format 3) so that no precision is
// lost re-quantizing a decoder's float output; Encode also accepts
// integer PCM depths for callers that want a conventional WAVEFORMATEX
// file.
func Encode(w io.Writer, samples []float32, channels int, sampleRate float64, depth pinna.BitDepth) error {
	if depth == 0 {
		return encodeIEEEFloat(w, samples, channels, sampleRate)
	}

	switch depth {
	case pinna.Depth16, pinna.Depth24, pinna.Depth32:
		// valid.
	default:
		return fmt.Errorf("%w: %d (must be 16, 24, or 32)", ErrInvalidBitDepth, depth)
	}

	pcm := quantize(samples, depth)
	bitsPerSample := uint16(depth)
	channels16 := uint16(channels) //nolint:gosec // channel counts are small by construction

	byteRate := uint32(sampleRate) * uint32(channels16) * uint32(bitsPerSample) / 8
	blockAlign := channels16 * bitsPerSample / 8
	dataSize := uint32(len(pcm)) //nolint:gosec // WAV data chunks are bounded well under 4GiB in practice

	if channels16 > 2 || bitsPerSample > 16 {
		return writeExtensible(w, pcm, channels16, uint32(sampleRate), bitsPerSample, byteRate, blockAlign, dataSize, guidPCM)
	}

	return writeSimple(w, pcm, channels16, uint32(sampleRate), bitsPerSample, byteRate, blockAlign, dataSize, formatPCM)
}

func encodeIEEEFloat(w io.Writer, samples []float32, channels int, sampleRate float64) error {
	channels16 := uint16(channels) //nolint:gosec // channel counts are small by construction
	bitsPerSample := uint16(32)

	pcm := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(pcm[i*4:i*4+4], math.Float32bits(s))
	}

	byteRate := uint32(sampleRate) * uint32(channels16) * uint32(bitsPerSample) / 8
	blockAlign := channels16 * bitsPerSample / 8
	dataSize := uint32(len(pcm)) //nolint:gosec // WAV data chunks are bounded well under 4GiB in practice

	return writeSimple(w, pcm, channels16, uint32(sampleRate), bitsPerSample, byteRate, blockAlign, dataSize, formatIEEEFloat)
}

func quantize(samples []float32, depth pinna.BitDepth) []byte {
	sampleSize := int(depth.BytesPerSample())
	maxVal := depth.MaxValue()
	out := make([]byte, len(samples)*sampleSize)

	for i, s := range samples {
		v := int64(float64(s) * maxVal)
		off := i * sampleSize

		switch sampleSize {
		case 2:
			binary.LittleEndian.PutUint16(out[off:off+2], uint16(int16(v)))
		case 3:
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
			out[off+2] = byte(v >> 16)
		case 4:
			binary.LittleEndian.PutUint32(out[off:off+4], uint32(int32(v)))
		}
	}

	return out
}

func writeSimple(
	w io.Writer,
	pcm []byte,
	channels uint16,
	sampleRate uint32,
	bitsPerSample uint16,
	byteRate uint32,
	blockAlign uint16,
	dataSize uint32,
	audioFormat uint16,
) error {
	var header [44]byte

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], dataSize+36)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], audioFormat)
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wav: writing header: %w", err)
	}

	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("wav: writing PCM data: %w", err)
	}

	return nil
}

func writeExtensible(
	w io.Writer,
	pcm []byte,
	channels uint16,
	sampleRate uint32,
	bitsPerSample uint16,
	byteRate uint32,
	blockAlign uint16,
	dataSize uint32,
	subFormat [16]byte,
) error {
	fmtChunkSize := uint32(40)
	headerSize := 12 + 8 + fmtChunkSize + 8
	fileSize := headerSize + dataSize - 8

	var header [68]byte

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], fileSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkSize)

	binary.LittleEndian.PutUint16(header[20:22], formatExtensible)
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	binary.LittleEndian.PutUint16(header[36:38], 22)

	binary.LittleEndian.PutUint16(header[38:40], bitsPerSample)
	binary.LittleEndian.PutUint32(header[40:44], channelMask(channels))
	copy(header[44:60], subFormat[:])

	copy(header[60:64], "data")
	binary.LittleEndian.PutUint32(header[64:68], dataSize)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wav: writing header: %w", err)
	}

	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("wav: writing PCM data: %w", err)
	}

	return nil
}

// channelMask returns standard channel mask for common configurations.
func channelMask(channels uint16) uint32 {
	switch channels {
	case 1:
		return 0x4 // FC
	case 2:
		return 0x3 // FL | FR
	case 4:
		return 0x33 // FL | FR | BL | BR
	case 6:
		return 0x3F // FL | FR | FC | LFE | BL | BR (5.1)
	case 8:
		return 0x63F // 7.1
	default:
		return 0 // Unspecified
	}
}

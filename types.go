// Package pinna decodes compressed audio into a uniform stream of
// interleaved 32-bit floating point PCM frames.
package pinna

import (
	"errors"
	"fmt"
)

// BitDepth represents the native bit depth of PCM audio samples as observed
// by a codec decoder before conversion to the public float32 output stream.
type BitDepth uint

// Standard PCM bit depths.
const (
	Depth4  BitDepth = 4
	Depth8  BitDepth = 8
	Depth12 BitDepth = 12
	Depth16 BitDepth = 16
	Depth20 BitDepth = 20
	Depth24 BitDepth = 24
	Depth32 BitDepth = 32
)

// BytesPerSample returns the number of bytes needed to store one sample.
// Sub-byte depths (4-bit) are stored in 1 byte (sign-extended).
// 12-bit samples are stored in 2 bytes (sign-extended to 16-bit).
// 20-bit samples are stored in 3 bytes (sign-extended to 24-bit).
func (d BitDepth) BytesPerSample() int {
	switch d {
	case Depth4, Depth8:
		return 1
	case Depth12, Depth16:
		return 2
	case Depth20, Depth24:
		return 3
	case Depth32:
		return 4
	default:
		panic(fmt.Sprintf("pinna: BytesPerSample called with unsupported bit depth %d", d))
	}
}

// MaxValue returns the largest magnitude representable at this bit depth,
// used to convert a native integer sample to a float32 in [-1, 1].
func (d BitDepth) MaxValue() float64 {
	switch d {
	case Depth4:
		return 7
	case Depth8:
		return 127
	case Depth12:
		return 2047
	case Depth16:
		return 32767
	case Depth20:
		return 524287
	case Depth24:
		return 8388607
	case Depth32:
		return 2147483647
	default:
		panic(fmt.Sprintf("pinna: MaxValue called with unsupported bit depth %d", d))
	}
}

// PCMFormat describes the native format of PCM audio data as a codec
// decoder observes it, before normalization to the target output format.
type PCMFormat struct {
	SampleRate int
	BitDepth   BitDepth
	Channels   uint
}

var errUnsupportedBitDepth = errors.New("unsupported bit depth")

// ToBitDepth converts a numeric bit depth to the BitDepth type.
func ToBitDepth(bps uint8) (BitDepth, error) {
	switch BitDepth(bps) {
	case Depth4:
		return Depth4, nil
	case Depth8:
		return Depth8, nil
	case Depth12:
		return Depth12, nil
	case Depth16:
		return Depth16, nil
	case Depth20:
		return Depth20, nil
	case Depth24:
		return Depth24, nil
	case Depth32:
		return Depth32, nil
	default:
		return 0, fmt.Errorf("%d-bit: %w", bps, errUnsupportedBitDepth)
	}
}

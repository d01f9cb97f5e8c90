// Package wav implements the WAV codec decoder and encoder as described
// in spec section 4.C.2, generalized from the teacher's whole-buffer
// Decode/Encode pair into a pull-based pinna.Decoder that reads exactly
// the bytes each Decode call needs directly from the DataProvider (WAV's
// fixed-size-frame layout makes this cheaper than an intermediate PCM
// buffer).
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

// WAV format constants.
const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// GUID for PCM in WAVEFORMATEXTENSIBLE.
//
//nolint:gochecknoglobals
var guidPCM = [16]byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71,
}

var (
	ErrNotRIFF         = errors.New("wav: not RIFF")
	ErrNotWAV          = errors.New("wav: not WAVE")
	ErrUnsupportedFmt  = errors.New("wav: unsupported format")
	ErrNoFmtChunk      = errors.New("wav: missing fmt chunk")
	ErrNoDataChunk     = errors.New("wav: missing data chunk")
	ErrInvalidBitDepth = errors.New("wav: invalid bit depth")
)

// Decoder reads PCM or IEEE-float WAV data directly from a DataProvider
// at computed byte offsets, per spec section 4.C.2's
// data_offset + frame_index * sample_size * channels addressing.
type Decoder struct {
	dp provider.DataProvider

	mu           sync.Mutex
	audioFormat  uint16
	depth        pinna.BitDepth
	channels     int
	rate         float64
	dataOffset   int64
	dataSize     int64
	frames       int64
	curFrame     int64
	eof          bool
}

// New creates a WAV Decoder over dp. Load must be called before Decode.
func New(dp provider.DataProvider) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := d.readHeader(); err != nil {
			var derr *pinna.DecoderError
			if errors.As(err, &derr) {
				onError(derr.Domain, derr.Code)
			} else {
				onError(pinna.DomainChunkError, pinna.CodeMalformed)
			}

			onDone(false)

			return
		}

		frameSize := int64(d.depth.BytesPerSample()) * int64(d.channels)
		if frameSize > 0 {
			d.frames = d.dataSize / frameSize
		}

		onDone(true)
	}()
}

func (d *Decoder) readHeader() error {
	var riff [12]byte

	if _, err := readFull(d.dp, riff[:]); err != nil {
		return pinna.NewError(pinna.DomainNotRIFF, pinna.CodeIO, err)
	}

	if string(riff[0:4]) != "RIFF" {
		return pinna.NewError(pinna.DomainNotRIFF, pinna.CodeMalformed, ErrNotRIFF)
	}

	if string(riff[8:12]) != "WAVE" {
		return pinna.NewError(pinna.DomainNotWAV, pinna.CodeMalformed, ErrNotWAV)
	}

	fmtFound, dataFound := false, false

	for !dataFound {
		var chunkHeader [8]byte

		if _, err := readFull(d.dp, chunkHeader[:]); err != nil {
			break
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			if err := d.parseFmtChunk(chunkSize); err != nil {
				return err
			}

			fmtFound = true

		case "data":
			pos, err := d.dp.Tell()
			if err != nil {
				return pinna.NewError(pinna.DomainChunkError, pinna.CodeIO, err)
			}

			d.dataOffset = pos
			d.dataSize = chunkSize
			dataFound = true

		default:
			if _, err := d.dp.Seek(chunkSize, provider.SeekCurrent); err != nil {
				return pinna.NewError(pinna.DomainChunkError, pinna.CodeIO, err)
			}
		}

		if chunkSize%2 == 1 && chunkID != "data" {
			if _, err := d.dp.Seek(1, provider.SeekCurrent); err != nil {
				return pinna.NewError(pinna.DomainChunkError, pinna.CodeIO, err)
			}
		}
	}

	if !fmtFound {
		return pinna.NewError(pinna.DomainChunkError, pinna.CodeMalformed, ErrNoFmtChunk)
	}

	if !dataFound {
		return pinna.NewError(pinna.DomainChunkError, pinna.CodeMalformed, ErrNoDataChunk)
	}

	return nil
}

func (d *Decoder) parseFmtChunk(size int64) error {
	if size < 16 {
		return pinna.NewError(pinna.DomainChunkError, pinna.CodeMalformed, ErrUnsupportedFmt)
	}

	var buf [40]byte

	toRead := min(size, 40)

	if _, err := readFull(d.dp, buf[:toRead]); err != nil {
		return pinna.NewError(pinna.DomainChunkError, pinna.CodeIO, err)
	}

	if size > 40 {
		if _, err := d.dp.Seek(size-40, provider.SeekCurrent); err != nil {
			return pinna.NewError(pinna.DomainChunkError, pinna.CodeIO, err)
		}
	} else if size%2 == 1 {
		if _, err := d.dp.Seek(1, provider.SeekCurrent); err != nil {
			return pinna.NewError(pinna.DomainChunkError, pinna.CodeIO, err)
		}
	}

	audioFormat := binary.LittleEndian.Uint16(buf[0:2])
	channels := binary.LittleEndian.Uint16(buf[2:4])
	sampleRate := binary.LittleEndian.Uint32(buf[4:8])
	bitsPerSample := binary.LittleEndian.Uint16(buf[14:16])

	switch audioFormat {
	case formatPCM, formatIEEEFloat:
		// supported directly.
	case formatExtensible:
		if size < 40 {
			return pinna.NewError(pinna.DomainChunkError, pinna.CodeMalformed, ErrUnsupportedFmt)
		}

		var subFormat [16]byte

		copy(subFormat[:], buf[24:40])

		switch subFormat {
		case guidPCM:
			audioFormat = formatPCM
		default:
			return pinna.NewError(pinna.DomainChunkError, pinna.CodeUnsupported, ErrUnsupportedFmt)
		}
	default:
		return pinna.NewError(pinna.DomainChunkError, pinna.CodeUnsupported, ErrUnsupportedFmt)
	}

	depth, err := pinna.ToBitDepth(uint8(bitsPerSample))
	if err != nil {
		return pinna.NewError(pinna.DomainChunkError, pinna.CodeUnsupported, fmt.Errorf("%w: %d", ErrInvalidBitDepth, bitsPerSample))
	}

	d.audioFormat = audioFormat
	d.channels = int(channels)
	d.rate = float64(sampleRate)
	d.depth = depth

	return nil
}

func (d *Decoder) SampleRate() float64      { return d.rate }
func (d *Decoder) Channels() int            { return d.channels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) Frames() int64            { return d.frames }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "wav" }

// Seek computes data_offset + frame_index * sample_size * channels and
// seeks the underlying provider there, per spec section 4.C.
func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	frameSize := int64(d.depth.BytesPerSample()) * int64(d.channels)
	offset := d.dataOffset + frameIndex*frameSize

	if _, err := d.dp.Seek(offset, provider.SeekSet); err != nil {
		return fmt.Errorf("wav: seek: %w", err)
	}

	d.curFrame = frameIndex
	d.eof = false

	return nil
}

// Flush is a no-op: WAV decode holds no library-internal state and no
// intermediate PCM buffer to reset.
func (d *Decoder) Flush() {}

func (d *Decoder) Decode(frames int, cb pinna.DecodeCallback, synchronous bool) {
	run := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.decodeLocked(frames, cb)
	}

	if synchronous {
		run()

		return
	}

	go run()
}

func (d *Decoder) decodeLocked(frames int, cb pinna.DecodeCallback) {
	frameIndex := d.curFrame
	sampleSize := int(d.depth.BytesPerSample())
	frameSize := sampleSize * d.channels

	remainingFrames := d.frames - d.curFrame
	if remainingFrames < 0 {
		remainingFrames = 0
	}

	wantFrames := frames
	if int64(wantFrames) > remainingFrames {
		wantFrames = int(remainingFrames)
	}

	if wantFrames <= 0 {
		d.eof = true
		cb(frameIndex, 0, nil)

		return
	}

	raw := make([]byte, wantFrames*frameSize)

	n, err := readFull(d.dp, raw)
	if err != nil && n == 0 {
		d.eof = true
		cb(frameIndex, 0, nil)

		return
	}

	gotFrames := n / frameSize
	raw = raw[:gotFrames*frameSize]

	samples := d.convert(raw, sampleSize)

	d.curFrame += int64(gotFrames)
	if d.curFrame >= d.frames {
		d.eof = true
	}

	cb(frameIndex, gotFrames, samples)
}

func (d *Decoder) convert(raw []byte, sampleSize int) []float32 {
	count := len(raw) / sampleSize
	out := make([]float32, count)

	if d.audioFormat == formatIEEEFloat && sampleSize == 4 {
		for i := 0; i < count; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
			out[i] = math.Float32frombits(bits)
		}

		return out
	}

	maxVal := d.depth.MaxValue()

	for i := 0; i < count; i++ {
		off := i * sampleSize

		var raw32 int64

		switch sampleSize {
		case 1:
			// Unsigned 8-bit PCM: center on 128.
			out[i] = (float32(raw[off]) - 128) / 128

			continue
		case 2:
			raw32 = int64(int16(binary.LittleEndian.Uint16(raw[off : off+2])))
		case 3:
			b := raw[off : off+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16

			if v&0x800000 != 0 {
				v |= -0x1000000 // sign-extend 24-bit
			}

			raw32 = int64(v)
		case 4:
			raw32 = int64(int32(binary.LittleEndian.Uint32(raw[off : off+4])))
		}

		out[i] = float32(float64(raw32) / maxVal)
	}

	return out
}

// readFull reads exactly len(buf) bytes from dp, or as many as are
// available before EOF, returning the count actually read.
func readFull(dp provider.DataProvider, buf []byte) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := dp.Read(buf[total:])
		total += n

		if err != nil {
			return total, err
		}

		if n == 0 {
			return total, errors.New("wav: short read")
		}
	}

	return total, nil
}

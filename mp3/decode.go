// Package mp3 implements the MP3 codec decoder as a pull-based
// pinna.Decoder over github.com/hajimehoshi/go-mp3's streaming Decoder,
// generalized from the teacher's whole-file ReadAll usage. It backs the
// LGPL fallback layer of the factory chain (spec section 4.G) on
// platforms without a native AAC/MP3 media framework.
package mp3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/pcmbuf"
	"github.com/mycophonic/pinna/provider"
)

// channels is fixed: go-mp3 always decodes to interleaved stereo.
const channels = 2

// decodeBlockBytes is the scratch read size per underlying codec step.
const decodeBlockBytes = 32 * 1024

// Decoder pulls MP3 frames from a DataProvider and produces interleaved
// float32 PCM.
type Decoder struct {
	dp provider.DataProvider

	mu      sync.Mutex
	decoder *gomp3.Decoder
	rate    float64
	frames  int64

	pcm      pcmbuf.Buffer
	curFrame int64
	eof      bool
}

// New creates an MP3 Decoder over dp. Load must be called before
// Decode.
func New(dp provider.DataProvider) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		decoder, err := gomp3.NewDecoder(provider.ReadSeeker(d.dp))
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		d.decoder = decoder
		d.rate = float64(decoder.SampleRate())

		if length := decoder.Length(); length > 0 {
			d.frames = length / (2 * channels) // 16-bit stereo bytes per frame
		} else {
			d.frames = pinna.UnknownFrames
		}

		onDone(true)
	}()
}

func (d *Decoder) SampleRate() float64      { return d.rate }
func (d *Decoder) Channels() int            { return channels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) Frames() int64            { return d.frames }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "mp3" }

// Seek uses go-mp3's byte-offset seek, translating frames to the
// underlying PCM byte offset it expects.
func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.decoder == nil {
		return errors.New("mp3: not loaded")
	}

	byteOffset := frameIndex * 2 * channels

	if _, err := d.decoder.Seek(byteOffset, io.SeekStart); err != nil {
		return fmt.Errorf("mp3: seek: %w", err)
	}

	d.pcm.Clear()
	d.curFrame = frameIndex
	d.eof = false

	return nil
}

func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pcm.Clear()
}

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
	need := frames * channels
	chunk := make([]byte, decodeBlockBytes)

	for d.pcm.Len() < need && !d.eof {
		n, err := d.decoder.Read(chunk)
		if n > 0 {
			d.pcm.Append(int16BytesToFloat32(chunk[:n]))
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				break
			}

			d.eof = true

			break
		}
	}

	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*channels])
}

func int16BytesToFloat32(raw []byte) []float32 {
	count := len(raw) / 2
	out := make([]float32, count)

	for i := 0; i < count; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		out[i] = float32(v) / 32768
	}

	return out
}

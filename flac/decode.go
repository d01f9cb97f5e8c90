// Package flac implements the FLAC codec decoder: a pull-based
// pinna.Decoder wrapping github.com/mewkiz/flac's frame-by-frame stream
// API, generalized from the teacher's whole-file decode.go into the
// packet-pump / PCM-buffer / seek contract spec section 4.C.1 describes.
package flac

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	goflac "github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/internal/logging"
	"github.com/mycophonic/pinna/pcmbuf"
	"github.com/mycophonic/pinna/provider"
)

//nolint:gochecknoglobals
var supportedBitDepths = []pinna.BitDepth{
	pinna.Depth4, pinna.Depth8, pinna.Depth12, pinna.Depth16,
	pinna.Depth20, pinna.Depth24, pinna.Depth32,
}

// ErrBitDepth is returned when a FLAC stream has an unsupported bit
// depth.
var ErrBitDepth = errors.New("flac: unsupported bit depth")

// Decoder pulls FLAC frames from a DataProvider and produces interleaved
// float32 PCM.
type Decoder struct {
	dp provider.DataProvider

	mu       sync.Mutex
	stream   *goflac.Stream
	depth    pinna.BitDepth
	channels int
	rate     float64
	frames   int64

	pcm      pcmbuf.Buffer
	curFrame int64
	eof      bool
	loadFail bool
}

// New creates a FLAC Decoder over dp. Load must be called before Decode.
func New(dp provider.DataProvider) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		stream, err := goflac.NewSeek(provider.ReadSeeker(d.dp))
		if err != nil {
			d.loadFail = true
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		info := stream.Info
		depth := pinna.BitDepth(info.BitsPerSample)

		if !slices.Contains(supportedBitDepths, depth) {
			d.loadFail = true
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported)
			onDone(false)

			return
		}

		d.stream = stream
		d.depth = depth
		d.channels = int(info.NChannels)
		d.rate = float64(info.SampleRate)

		if info.NSamples > 0 {
			d.frames = int64(info.NSamples)
		} else {
			d.frames = pinna.UnknownFrames
		}

		onDone(true)
	}()
}

func (d *Decoder) SampleRate() float64      { return d.rate }
func (d *Decoder) Channels() int            { return d.channels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) Frames() int64            { return d.frames }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "flac" }

// Seek translates frameIndex into a FLAC sample number and asks the
// stream to seek to it (mewkiz/flac's Stream.Seek is frame-accurate),
// resetting the PCM buffer as spec section 4.C requires.
func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return errors.New("flac: not loaded")
	}

	if _, err := d.stream.Seek(uint64(frameIndex)); err != nil { //nolint:gosec // frameIndex is caller-controlled, non-negative by contract
		return fmt.Errorf("flac: seek: %w", err)
	}

	d.pcm.Clear()
	d.curFrame = frameIndex
	d.eof = false

	return nil
}

// Flush resets the PCM buffer without moving CurrentFrameIndex. FLAC's
// stateless block decode needs no library-side reset.
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
	need := frames * d.channels

	for d.pcm.Len() < need && !d.eof {
		fr, err := d.stream.ParseNext()
		if err != nil {
			if errors.Is(err, frame.ErrInvalidSync) {
				logging.Recovered("flac", "corrupted-frame", err)

				continue
			}

			d.eof = true

			break
		}

		d.appendFrame(fr)
	}

	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / d.channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*d.channels])
}

func (d *Decoder) appendFrame(fr *frame.Frame) {
	blockSize := int(fr.BlockSize)
	scratch := make([]float32, blockSize*d.channels)
	maxVal := d.depth.MaxValue()

	for i := 0; i < blockSize; i++ {
		for ch := 0; ch < d.channels; ch++ {
			scratch[i*d.channels+ch] = float32(float64(fr.Subframes[ch].Samples[i]) / maxVal)
		}
	}

	d.pcm.Append(scratch)
}

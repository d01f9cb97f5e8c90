// Package vorbis implements the Ogg Vorbis codec decoder as a pull-based
// pinna.Decoder over github.com/jfreymuth/oggvorbis's streaming Reader,
// generalized from the teacher's whole-file ReadAll usage.
package vorbis

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/oggvorbis"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/pcmbuf"
	"github.com/mycophonic/pinna/provider"
)

// decodeBlockFrames is the number of frames pulled from the library per
// underlying codec step, matching spec section 4.C's "run one codec
// step" — oggvorbis.Reader.Read fills whatever buffer it is given, so
// this is a scratch-buffer size rather than a hard packet boundary.
const decodeBlockFrames = 4096

// Decoder pulls Vorbis packets from a DataProvider and produces
// interleaved float32 PCM.
type Decoder struct {
	dp provider.DataProvider

	mu       sync.Mutex
	reader   *oggvorbis.Reader
	channels int
	rate     float64
	frames   int64

	pcm      pcmbuf.Buffer
	curFrame int64
	eof      bool
}

// New creates a Vorbis Decoder over dp. Load must be called before
// Decode.
func New(dp provider.DataProvider) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		reader, err := oggvorbis.NewReader(provider.ReadSeeker(d.dp))
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		d.reader = reader
		d.channels = reader.Channels()
		d.rate = float64(reader.SampleRate())

		if length := reader.Length(); length > 0 {
			d.frames = length
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
func (d *Decoder) Name() string             { return "vorbis" }

// Seek uses oggvorbis.Reader's native sample-accurate seek.
func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader == nil {
		return errors.New("vorbis: not loaded")
	}

	if err := d.reader.SetPosition(frameIndex); err != nil {
		return fmt.Errorf("vorbis: seek: %w", err)
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
	need := frames * d.channels
	scratch := make([]float32, decodeBlockFrames*d.channels)

	for d.pcm.Len() < need && !d.eof {
		n, err := d.reader.Read(scratch)
		if n > 0 {
			d.pcm.Append(scratch[:n])
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				// oggvorbis surfaces recoverable page errors (missing
				// pages, corrupted packets) the same way as EOF; treat
				// anything short of a clean EOF as "stalled" per spec
				// section 4.C step 4.
				break
			}

			d.eof = true

			break
		}
	}

	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / d.channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*d.channels])
}

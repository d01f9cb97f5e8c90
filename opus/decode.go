// Package opus implements the Opus codec decoder as a pull-based
// pinna.Decoder. Packets are demuxed from their Ogg container with
// internal/oggpage and decoded with the pure-Go
// github.com/thesyncim/gopus decoder (grounded on
// other_examples/thesyncim-gopus, chosen over a cgo binding to keep the
// module's audio-decode stack entirely cgo-free outside the
// platform-specific aac package).
package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/thesyncim/gopus"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/internal/oggpage"
	"github.com/mycophonic/pinna/pcmbuf"
	"github.com/mycophonic/pinna/provider"
)

// outputSampleRate is fixed at 48000 Hz: Opus always decodes at 48kHz
// regardless of the stream's nominal input rate (spec section 4.C.1).
const outputSampleRate = 48000

// maxFrameSamples is the largest Opus frame size (60ms at 48kHz).
const maxFrameSamples = 5760

var (
	// ErrNotOpus describes a stream whose first Ogg packet is not an
	// OpusHead. Load does not return it; it reports that case as
	// (DomainCouldNotDecodeHeader, CodeMalformed) through its error
	// callback.
	ErrNotOpus = errors.New("opus: not an Opus stream")
)

// Decoder pulls Opus packets from a DataProvider and produces
// interleaved float32 PCM at 48kHz.
type Decoder struct {
	dp provider.DataProvider

	mu       sync.Mutex
	pages    *oggpage.Reader
	dec      *gopus.Decoder
	channels int
	preSkip  int
	frames   int64

	pcm         pcmbuf.Buffer
	curFrame    int64
	eof         bool
	skippedPre  bool
}

// New creates an Opus Decoder over dp. Load must be called before
// Decode.
func New(dp provider.DataProvider) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		d.pages = oggpage.NewReader(provider.ReadSeeker(d.dp))

		head, err := d.pages.ReadPacket()
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		if len(head) < 19 || string(head[0:8]) != "OpusHead" {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		d.channels = int(head[9])
		d.preSkip = int(binary.LittleEndian.Uint16(head[10:12]))

		// Comment header ("OpusTags"); discard.
		if _, err := d.pages.ReadPacket(); err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		dec, err := gopus.NewDecoderDefault(outputSampleRate, d.channels)
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported)
			onDone(false)

			return
		}

		d.dec = dec
		d.frames = pinna.UnknownFrames

		onDone(true)
	}()
}

func (d *Decoder) SampleRate() float64      { return outputSampleRate }
func (d *Decoder) Channels() int            { return d.channels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) Frames() int64            { return d.frames }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "opus" }

// Seek has no cheap native support in the Ogg-Opus container without a
// page index, so it rewinds the provider and steps forward, matching
// spec section 4.C's "codecs without native seeking" strategy.
func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.dp.Seek(0, provider.SeekSet); err != nil {
		return fmt.Errorf("opus: rewind: %w", err)
	}

	d.pages = oggpage.NewReader(provider.ReadSeeker(d.dp))
	if _, err := d.pages.ReadPacket(); err != nil { // OpusHead
		return fmt.Errorf("opus: re-reading header: %w", err)
	}

	if _, err := d.pages.ReadPacket(); err != nil { // OpusTags
		return fmt.Errorf("opus: re-reading comment header: %w", err)
	}

	d.pcm.Clear()
	d.curFrame = 0
	d.eof = false
	d.skippedPre = false

	for d.curFrame < frameIndex && !d.eof {
		d.stepOnce()
		if d.pcm.Frames(d.channels) > 0 {
			step := min(int64(d.pcm.Frames(d.channels)), frameIndex-d.curFrame)
			d.pcm.Drain(make([]float32, step*int64(d.channels)))
			d.curFrame += step
		}
	}

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

	for d.pcm.Len() < need && !d.eof {
		d.stepOnce()
	}

	d.applyPreSkip()

	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / d.channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*d.channels])
}

// stepOnce decodes one Opus packet and appends its output to the PCM
// buffer, or sets eof.
func (d *Decoder) stepOnce() {
	packet, err := d.pages.ReadPacket()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			// Corrupt page: treat as EOF per spec section 4.C step 4
			// (decoding has stalled).
			_ = err
		}

		d.eof = true

		return
	}

	samples, err := d.dec.Decode(packet, maxFrameSamples)
	if err != nil {
		// Recoverable per-packet hiccup: skip and continue.
		return
	}

	f32 := make([]float32, len(samples))
	for i, s := range samples {
		f32[i] = float32(s)
	}

	d.pcm.Append(f32)
}

// applyPreSkip discards the encoder's pre-skip samples from the leading
// output the first time samples become available, the Opus analogue of
// spec section 4.C's priming-frame trim.
func (d *Decoder) applyPreSkip() {
	if d.skippedPre || d.preSkip == 0 {
		return
	}

	skip := d.preSkip * d.channels
	if d.pcm.Len() < skip {
		return
	}

	d.pcm.Drain(make([]float32, skip))
	d.skippedPre = true
}

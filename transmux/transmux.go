// Package transmux implements the DASH-to-HLS Transmuxer Decoder (spec
// section 4.D): a pinna.Decoder that presents fragmented-MP4 DASH
// content as ordinary decoded PCM by pulling one SIDX-indexed segment at
// a time from a source DataProvider, converting each segment's bytes to
// MPEG-2 transport stream through a Transmuxer, and driving an inner
// codec decoder over the transmuxed bytes through an owned in-memory
// FIFO.
//
// The DASH→HLS byte conversion itself and the inner MP2TS-aware codec
// decoder it feeds are both out of this module's scope (spec section 1)
// — Transmuxer and InnerDecoderFactory are the seams a caller plugs a
// concrete implementation into, the same way decrypt.Decryptor stands in
// for a CDM session.
package transmux

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/decrypt"
	"github.com/mycophonic/pinna/mp4box"
	"github.com/mycophonic/pinna/pcmbuf"
	"github.com/mycophonic/pinna/provider"
)

const (
	defaultIndexRangeBytes = 500 * 1024
	maxIndexRangeBytes     = 1024 * 1024

	// primingFrames matches spec section 4.C's AAC priming trim. The
	// inner decoder reads from a MemoryProvider and so suppresses its
	// own trim (its upstream provider's Name() is
	// provider.MemoryProviderName); the transmuxer applies it once
	// instead, exactly where the real encoder priming lives: the start
	// of the first segment.
	primingFrames = 1024
)

// Transmuxer converts one DASH fragment's raw bytes into a byte stream
// an inner decoder can consume, writing the result into out.
// *provider.MemoryProvider satisfies io.Writer directly through its
// Write method, so DefaultTransmuxer and any caller-supplied
// implementation can write straight into the Decoder's owned FIFO.
type Transmuxer interface {
	Transmux(segment []byte, out io.Writer) error
}

// InnerDecoderFactory builds the codec decoder that consumes the
// transmuxed bytes.
type InnerDecoderFactory func(dp provider.DataProvider) (pinna.Decoder, error)

var (
	// ErrNoSegments is returned when the SIDX index describes zero
	// segments.
	ErrNoSegments = errors.New("transmux: sidx index has no segments")
)

type segmentRef struct {
	byteStart int64
	byteEnd   int64
	duration  uint64
}

// Decoder is the pinna.Decoder implementing spec section 4.D's
// segment-driven pull.
type Decoder struct {
	src         provider.DataProvider
	transmuxer  Transmuxer
	buildInner  InnerDecoderFactory
	registry    *provider.Registry
	decryptor   decrypt.Decryptor
	indexHint   int
	syntheticID int64

	mu sync.Mutex

	timescale      uint32
	index          []segmentRef
	scanner        *mp4box.Scanner
	mem            *provider.MemoryProvider
	inner          pinna.Decoder
	loadedSegment  int
	trimmedPriming bool

	pcm      pcmbuf.Buffer
	curFrame int64
	eof      bool
}

// New creates a Decoder pulling DASH fragments from src. registry is
// used only for the synthetic memory-provider hand-off described below;
// decryptor may be nil for content that carries no CENC protection.
// indexRangeHint overrides the default 500KB SIDX probe size (0 keeps
// the default) — spec section 4.D describes this value as coming from a
// JSON manifest's seekTable.index_range field, which callers parse
// upstream of this package.
func New(src provider.DataProvider, tm Transmuxer, buildInner InnerDecoderFactory, registry *provider.Registry, decryptor decrypt.Decryptor, indexRangeHint int) *Decoder {
	return &Decoder{
		src:           src,
		transmuxer:    tm,
		buildInner:    buildInner,
		registry:      registry,
		decryptor:     decryptor,
		indexHint:     indexRangeHint,
		loadedSegment: -1,
	}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := d.buildIndexLocked(); err != nil {
			onError(pinna.DomainTransmuxFailure, pinna.CodeMalformed)
			onDone(false)

			return
		}

		d.mem = provider.NewMemoryProvider(provider.MemoryProviderName)
		d.scanner = mp4box.NewScanner(d.src)

		if err := d.loadSegmentLocked(0); err != nil {
			onError(pinna.TransmuxFailureDomain(1), pinna.CodeIO)
			onDone(false)

			return
		}

		if err := d.attachInnerDecoderLocked(); err != nil {
			onError(pinna.TransmuxFailureDomain(2), pinna.CodeMalformed)
			onDone(false)

			return
		}

		// Segment 0 was loaded only to prime the inner decoder's
		// header parse (spec section 4.D: "seeks back to 0 and
		// flushes both the memory provider and inner decoder").
		d.mem.Flush()
		d.inner.Flush()
		d.loadedSegment = -1
		d.curFrame = 0

		onDone(true)
	}()
}

// buildIndexLocked reads the SIDX index range from src, doubling the
// read size up to maxIndexRangeBytes when the box isn't fully captured
// by the first read, and turns it into a byte-range/duration table.
func (d *Decoder) buildIndexLocked() error {
	indexRange := d.indexHint
	if indexRange <= 0 {
		indexRange = defaultIndexRangeBytes
	}

	var (
		sidx *mp4box.SidxInfo
		err  error
	)

	for {
		sidx, err = mp4box.ParseSidxUpfront(d.src, indexRange)
		if err == nil {
			break
		}

		if !errors.Is(err, mp4box.ErrBufferShort) || indexRange >= maxIndexRangeBytes {
			return fmt.Errorf("transmux: reading sidx index: %w", err)
		}

		indexRange *= 2
		if indexRange > maxIndexRangeBytes {
			indexRange = maxIndexRangeBytes
		}
	}

	if len(sidx.Entries) == 0 {
		return ErrNoSegments
	}

	bounds := sidx.SegmentBoundaries()
	d.index = make([]segmentRef, len(sidx.Entries))

	for i, e := range sidx.Entries {
		d.index[i] = segmentRef{
			byteStart: bounds[i],
			byteEnd:   bounds[i+1],
			duration:  uint64(e.SubsegmentDuration),
		}
	}

	d.timescale = sidx.Timescale

	return nil
}

// loadSegmentLocked reads segment i's raw bytes from src, applies CENC
// decryption if configured, and transmuxes the result into d.mem.
func (d *Decoder) loadSegmentLocked(i int) error {
	seg := d.index[i]

	raw := make([]byte, seg.byteEnd-seg.byteStart)

	if _, err := d.src.Seek(seg.byteStart, provider.SeekSet); err != nil {
		return fmt.Errorf("transmux: seeking to segment %d: %w", i, err)
	}

	if _, err := io.ReadFull(provider.ReadSeeker(d.src), raw); err != nil {
		return fmt.Errorf("transmux: reading segment %d: %w", i, err)
	}

	if err := d.scanner.OnRead(raw, seg.byteStart); err != nil {
		return fmt.Errorf("transmux: scanning segment %d: %w", i, err)
	}

	if d.decryptor != nil {
		d.decryptSegmentLocked(raw, i)
	}

	if err := d.transmuxer.Transmux(raw, d.mem); err != nil {
		return fmt.Errorf("transmux: transmuxing segment %d: %w", i, err)
	}

	d.loadedSegment = i

	return nil
}

// decryptSegmentLocked applies CENC decryption to raw in place. The
// scanner exposes exact per-sample IVs (keyed by trun entry index), but
// locating each sample's byte range within raw requires the trun
// per-sample size table, which this scanner does not extract (spec
// section 4.D.bis only asks for the trun sample *count*, used to derive
// packets_per_moof). Content using a single constant IV per fragment —
// the common case for audio CENC 'cbcs'/'cenc' streams — still decrypts
// correctly under whole-buffer CTR; content with a distinct IV per
// sample within one fragment would need that additional table.
func (d *Decoder) decryptSegmentLocked(raw []byte, i int) {
	kid, ok := d.scanner.KeyID()
	if !ok {
		return
	}

	iv, ok := d.scanner.IV(i)
	if !ok {
		return
	}

	if err := d.decryptor.Decrypt(decrypt.KeyID(kid), iv[:], raw); err != nil {
		// Ciphertext is left unchanged on failure (spec section 4.E);
		// the inner codec will typically fail to parse it or produce
		// silence.
		return
	}
}

// RegisterInnerFactory registers mem as the sole DataProvider a Registry
// resolves for a fresh synthetic path, implementing the "synthetic path
// routes via a temporarily-registered data-provider creator" mechanism
// (spec section 4.D). It returns the synthetic path and an unregister
// func the caller must invoke once done constructing the inner decoder.
func RegisterInnerFactory(registry *provider.Registry, mem *provider.MemoryProvider, syntheticID int64) (path string, unregister func()) {
	path = fmt.Sprintf("transmux-memory:%d", syntheticID)

	handle := registry.Register(func(p string) provider.DataProvider {
		if p == path {
			return mem
		}

		return nil
	})

	return path, func() { registry.Unregister(handle) }
}

// attachInnerDecoderLocked builds the inner decoder over d.mem, routed
// through RegisterInnerFactory so that construction goes through the
// same path-based lookup any other decoder would.
func (d *Decoder) attachInnerDecoderLocked() error {
	d.syntheticID++

	syntheticPath, unregister := RegisterInnerFactory(d.registry, d.mem, d.syntheticID)
	defer unregister()

	dp, err := d.registry.Create(syntheticPath)
	if err != nil {
		return fmt.Errorf("transmux: resolving synthetic path: %w", err)
	}

	d.inner, err = d.buildInner(dp)
	if err != nil {
		return fmt.Errorf("transmux: building inner decoder: %w", err)
	}

	var (
		loadErr error
		done    = make(chan bool, 1)
	)

	d.inner.Load(func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
		loadErr = pinna.NewError(domain, code, nil)
	}, func(ok bool) {
		done <- ok
	})

	if ok := <-done; !ok {
		if loadErr != nil {
			return loadErr
		}

		return errors.New("transmux: inner decoder load failed")
	}

	return nil
}

func (d *Decoder) SampleRate() float64 {
	if d.inner == nil {
		return 0
	}

	return d.inner.SampleRate()
}

func (d *Decoder) Channels() int {
	if d.inner == nil {
		return 0
	}

	return d.inner.Channels()
}

func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.src.Path() }
func (d *Decoder) Name() string             { return "transmux" }

// segmentFrames converts segment i's timescale-relative duration into a
// frame count at the inner decoder's sample rate, matching scenario S6's
// "sum over segments of duration/timescale * sample_rate".
func (d *Decoder) segmentFrames(i int) int64 {
	seg := d.index[i]

	frames := int64(float64(seg.duration) / float64(d.timescale) * d.inner.SampleRate())
	if i == 0 {
		frames -= primingFrames
		if frames < 0 {
			frames = 0
		}
	}

	return frames
}

// Frames returns the sum of every segment's frame count minus the
// segment-0 priming trim.
func (d *Decoder) Frames() int64 {
	if d.inner == nil || d.timescale == 0 {
		return pinna.UnknownFrames
	}

	var total int64

	for i := range d.index {
		total += d.segmentFrames(i)
	}

	return total
}

// segmentForFrame finds the segment covering frame, in post-priming-trim
// frame-index space.
func (d *Decoder) segmentForFrame(frame int64) (int, bool) {
	var cum int64

	for i := range d.index {
		n := d.segmentFrames(i)

		if frame < cum+n {
			return i, true
		}

		cum += n
	}

	return 0, false
}

func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	channels := d.Channels()
	if channels == 0 {
		return errors.New("transmux: seek before load")
	}

	bufferedFrames := int64(d.pcm.Len()) / int64(channels)
	bufferStart := d.curFrame
	bufferEnd := bufferStart + bufferedFrames

	if frameIndex >= bufferStart && frameIndex < bufferEnd {
		discard := int((frameIndex - bufferStart) * int64(channels))

		tmp := make([]float32, d.pcm.Len())
		d.pcm.Drain(tmp)
		d.pcm.Append(tmp[discard:])
		d.curFrame = frameIndex

		return nil
	}

	d.pcm.Clear()
	d.curFrame = frameIndex
	d.loadedSegment = -1
	d.eof = false

	return nil
}

func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inner != nil {
		d.inner.Flush()
	}

	if d.mem != nil {
		d.mem.Flush()
	}

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
	channels := d.Channels()
	frameIndex := d.curFrame
	need := frames * channels

	for d.pcm.Len() < need && !d.eof {
		if !d.pullSegmentLocked() {
			break
		}
	}

	// Hand back up to the requested frame count; the frames returned may
	// span a segment boundary.
	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*channels])
}

// pullSegmentLocked ensures the segment covering the next required frame
// is loaded, drives the inner decoder to exhaustion for that segment's
// duration, and appends the result to d.pcm. It returns false when no
// further segment exists.
func (d *Decoder) pullSegmentLocked() bool {
	channels := d.Channels()
	nextFrame := d.curFrame + int64(d.pcm.Len())/int64(channels)

	segIdx, ok := d.segmentForFrame(nextFrame)
	if !ok {
		d.eof = true

		return false
	}

	if segIdx != d.loadedSegment {
		if err := d.loadSegmentLocked(segIdx); err != nil {
			d.eof = true

			return false
		}
	}

	target := int(d.segmentFrames(segIdx))
	if segIdx == 0 && !d.trimmedPriming {
		target += primingFrames
	}

	collected := d.exhaustInnerLocked(target)

	if segIdx == 0 && !d.trimmedPriming {
		trim := primingFrames * channels
		if trim > len(collected) {
			trim = len(collected)
		}

		collected = collected[trim:]
		d.trimmedPriming = true
	}

	d.pcm.Append(collected)

	return len(collected) > 0
}

// exhaustInnerLocked pulls from the inner decoder, one-shot, until it
// has produced targetFrames frames or reports EOF for this segment's
// worth of transmuxed bytes.
func (d *Decoder) exhaustInnerLocked(targetFrames int) []float32 {
	var (
		collected []float32
		got       int
	)

	for got < targetFrames {
		remaining := targetFrames - got

		done := make(chan struct{})

		var (
			frameCount int
			samples    []float32
		)

		d.inner.Decode(remaining, func(_ int64, fc int, s []float32) {
			frameCount = fc
			samples = append([]float32(nil), s...)
			close(done)
		}, true)
		<-done

		if frameCount == 0 {
			break
		}

		collected = append(collected, samples...)
		got += frameCount

		if d.inner.EOF() {
			break
		}
	}

	return collected
}

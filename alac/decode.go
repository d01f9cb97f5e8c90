// Package alac implements the ALAC codec decoder: a pull-based
// pinna.Decoder wrapping the packet-level Decoder below (Apple's
// reference bitstream engine, unchanged) around an
// github.com/abema/go-mp4 M4A sample table walk, generalized from the
// teacher's whole-file Decode into the packet-pump contract spec section
// 4 asks every codec decoder to expose. ALAC support is a supplemented
// feature: the distilled spec's codec list omits it, but the original
// AudioConverter-backed decoder this module descends from supports ALAC
// on Apple platforms via the same code path as AAC, so it earns a home
// here as an LGPL-layer fallback ahead of the general MP4 demuxer.
package alac

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	mp4 "github.com/abema/go-mp4"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

// PullDecoder adapts the packet-level Decoder to pinna.Decoder, reading
// samples on demand from the MP4 sample table instead of decoding the
// whole track up front.
type PullDecoder struct {
	dp provider.DataProvider

	mu      sync.Mutex
	rs      io.ReadSeeker
	dec     *Decoder
	config  Config
	samples []sampleInfo
	format  pinna.PCMFormat

	curFrame     int64
	packetCursor int
	eof          bool
}

// New creates an ALAC PullDecoder over dp. Load must be called before
// Decode.
func New(dp provider.DataProvider) *PullDecoder {
	return &PullDecoder{dp: dp}
}

func (d *PullDecoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		d.rs = provider.ReadSeeker(d.dp)

		cookie, samples, err := findALACTrack(d.rs)
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		config, err := ParseConfig(cookie)
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		dec, err := NewDecoder(config)
		if err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported)
			onDone(false)

			return
		}

		d.dec = dec
		d.config = config
		d.samples = samples
		d.format = dec.Format()

		onDone(true)
	}()
}

func (d *PullDecoder) SampleRate() float64      { return float64(d.format.SampleRate) }
func (d *PullDecoder) Channels() int            { return int(d.format.Channels) }
func (d *PullDecoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *PullDecoder) EOF() bool                { return d.eof }
func (d *PullDecoder) Path() string             { return d.dp.Path() }
func (d *PullDecoder) Name() string             { return "alac" }

// Frames returns the total frame count, computed from every packet but
// the last decoding to a full frame_length block.
func (d *PullDecoder) Frames() int64 {
	if len(d.samples) == 0 {
		return pinna.UnknownFrames
	}

	return int64(len(d.samples)-1)*int64(d.config.FrameLength) + int64(d.config.FrameLength)
}

// Seek finds the packet index whose cumulative frame count covers
// frameIndex; ALAC packets are fixed-length except for a possibly
// shorter final one, so this is a direct index computation.
func (d *PullDecoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	packetIndex := frameIndex / int64(d.config.FrameLength)
	if packetIndex < 0 || packetIndex > int64(len(d.samples)) {
		return errors.New("alac: seek out of range")
	}

	d.curFrame = packetIndex * int64(d.config.FrameLength)
	d.eof = packetIndex >= int64(len(d.samples))
	d.packetCursor = int(packetIndex)

	return nil
}

func (d *PullDecoder) Flush() {}

func (d *PullDecoder) Decode(frames int, cb pinna.DecodeCallback, synchronous bool) {
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

func (d *PullDecoder) decodeLocked(frames int, cb pinna.DecodeCallback) {
	frameIndex := d.curFrame
	channels := int(d.format.Channels)
	bps := d.format.BitDepth.BytesPerSample()
	maxVal := d.format.BitDepth.MaxValue()

	out := make([]float32, 0, frames*channels)

	for len(out) < frames*channels && d.packetCursor < len(d.samples) {
		s := d.samples[d.packetCursor]
		packet := make([]byte, s.size)

		if _, err := d.rs.Seek(int64(s.offset), io.SeekStart); err != nil {
			d.eof = true

			break
		}

		if _, err := io.ReadFull(d.rs, packet); err != nil {
			d.eof = true

			break
		}

		decoded, err := d.dec.DecodePacket(packet)
		if err != nil {
			d.packetCursor++

			continue
		}

		out = append(out, bytesToFloat32(decoded, bps, maxVal)...)
		d.packetCursor++
	}

	if d.packetCursor >= len(d.samples) {
		d.eof = true
	}

	if len(out) > frames*channels {
		out = out[:frames*channels]
	}

	frameCount := len(out) / channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out)
}

func bytesToFloat32(raw []byte, bps int, maxVal float64) []float32 {
	count := len(raw) / bps
	out := make([]float32, count)

	for i := 0; i < count; i++ {
		off := i * bps

		var v int64

		switch bps {
		case 1:
			v = int64(int8(raw[off]))
		case 2:
			v = int64(int16(binary.LittleEndian.Uint16(raw[off : off+2])))
		case 3:
			b := raw[off : off+3]
			iv := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16

			if iv&0x800000 != 0 {
				iv |= -0x1000000
			}

			v = int64(iv)
		case 4:
			v = int64(int32(binary.LittleEndian.Uint32(raw[off : off+4])))
		}

		out[i] = float32(float64(v) / maxVal)
	}

	return out
}

// sampleInfo holds the byte offset and size of a single encoded ALAC packet
// within the MP4 container.
type sampleInfo struct {
	offset uint64
	size   uint32
}

// findALACTrack walks the MP4 box tree to locate the first track containing
// an ALAC sample entry. It returns the magic cookie and a flat sample table.
func findALACTrack(rs io.ReadSeeker) ([]byte, []sampleInfo, error) {
	stbls, err := mp4.ExtractBox(rs, nil, mp4.BoxPath{
		mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeMdia(),
		mp4.BoxTypeMinf(), mp4.BoxTypeStbl(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading container structure: %w", err)
	}

	for _, stbl := range stbls {
		cookie, err := extractCookie(rs, stbl)
		if err != nil {
			continue // not an ALAC track
		}

		samples, err := buildSampleTable(rs, stbl)
		if err != nil {
			return nil, nil, fmt.Errorf("building sample table: %w", err)
		}

		return cookie, samples, nil
	}

	return nil, nil, errNoALACTrack
}

const (
	alacFourCC            = "alac"
	sampleEntryHeaderSize = 8  // box header: size(4) + type(4)
	sampleEntryBaseSize   = 28 // standard AudioSampleEntry fields
	sampleEntryV1Extra    = 16 // QuickTime version 1 extra fields
	stsdPayloadHeader     = 8  // version(1) + flags(3) + entryCount(4)
)

// extractCookie reads the stsd box from stbl, finds an 'alac' sample entry,
// and extracts the raw magic cookie (ALACSpecificConfig, possibly wrapped in
// 'frma'+'alac' atoms which ParseConfig handles).
func extractCookie(rs io.ReadSeeker, stbl *mp4.BoxInfo) ([]byte, error) {
	stsds, err := mp4.ExtractBox(rs, stbl, mp4.BoxPath{mp4.BoxTypeStsd()})
	if err != nil || len(stsds) == 0 {
		return nil, errNoALACTrack
	}

	stsd := stsds[0]
	payloadSize := int(stsd.Size - stsd.HeaderSize)
	data := make([]byte, payloadSize)

	if _, err := rs.Seek(int64(stsd.Offset+stsd.HeaderSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to stsd payload: %w", err)
	}

	if _, err := io.ReadFull(rs, data); err != nil {
		return nil, fmt.Errorf("reading stsd payload: %w", err)
	}

	if len(data) < stsdPayloadHeader {
		return nil, errNoALACTrack
	}

	entryCount := binary.BigEndian.Uint32(data[4:8])
	pos := stsdPayloadHeader

	for range entryCount {
		if pos+sampleEntryHeaderSize > len(data) {
			break
		}

		entrySize := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		if entrySize < sampleEntryHeaderSize+sampleEntryBaseSize || pos+entrySize > len(data) {
			pos += entrySize

			continue
		}

		if string(data[pos+4:pos+8]) != alacFourCC {
			pos += entrySize

			continue
		}

		// Found ALAC sample entry. Determine cookie start from QT version field.
		// Layout after 8-byte box header: reserved(6) + dataRefIdx(2) + version(2) + ...
		// Version is at offset 8 within the payload (i.e., pos + headerSize + 8).
		version := binary.BigEndian.Uint16(data[pos+sampleEntryHeaderSize+8 : pos+sampleEntryHeaderSize+10])

		skip := sampleEntryHeaderSize + sampleEntryBaseSize
		if version == 1 {
			skip += sampleEntryV1Extra
		}

		cookieStart := pos + skip
		cookieEnd := pos + entrySize

		if cookieStart >= cookieEnd {
			return nil, errInvalidCookie
		}

		return data[cookieStart:cookieEnd], nil
	}

	return nil, errNoALACTrack
}

// buildSampleTable constructs a flat list of sample offsets and sizes from
// the stco/co64, stsc, and stsz boxes within the given stbl box.
func buildSampleTable(rs io.ReadSeeker, stbl *mp4.BoxInfo) ([]sampleInfo, error) {
	chunkOffsets, err := readChunkOffsets(rs, stbl)
	if err != nil {
		return nil, err
	}

	stscEntries, err := readStsc(rs, stbl)
	if err != nil {
		return nil, err
	}

	entrySizes, constantSize, sampleCount, err := readStsz(rs, stbl)
	if err != nil {
		return nil, err
	}

	samples := make([]sampleInfo, 0, sampleCount)
	sampleIdx := 0

	for chunkIdx := range chunkOffsets {
		spc := lookupSamplesPerChunk(stscEntries, uint32(chunkIdx+1)) // stsc uses 1-based chunk numbers
		offset := chunkOffsets[chunkIdx]

		for s := uint32(0); s < spc && sampleIdx < int(sampleCount); s++ {
			var size uint32
			if constantSize != 0 {
				size = constantSize
			} else {
				size = entrySizes[sampleIdx]
			}

			samples = append(samples, sampleInfo{offset: offset, size: size})
			offset += uint64(size)
			sampleIdx++
		}
	}

	return samples, nil
}

func readChunkOffsets(rs io.ReadSeeker, stbl *mp4.BoxInfo) ([]uint64, error) {
	// Try 32-bit stco first.
	if boxes, err := mp4.ExtractBoxWithPayload(rs, stbl,
		mp4.BoxPath{mp4.BoxTypeStco()}); err == nil && len(boxes) > 0 {
		if stco, ok := boxes[0].Payload.(*mp4.Stco); ok {
			offsets := make([]uint64, len(stco.ChunkOffset))
			for i, off := range stco.ChunkOffset {
				offsets[i] = uint64(off)
			}

			return offsets, nil
		}
	}

	// Fall back to 64-bit co64.
	boxes, err := mp4.ExtractBoxWithPayload(rs, stbl, mp4.BoxPath{mp4.BoxTypeCo64()})
	if err != nil || len(boxes) == 0 {
		return nil, errors.New("alac: no chunk offset box (stco/co64)")
	}

	co64, ok := boxes[0].Payload.(*mp4.Co64)
	if !ok {
		return nil, errors.New("alac: invalid co64 payload")
	}

	return co64.ChunkOffset, nil
}

func readStsc(rs io.ReadSeeker, stbl *mp4.BoxInfo) ([]mp4.StscEntry, error) {
	boxes, err := mp4.ExtractBoxWithPayload(rs, stbl, mp4.BoxPath{mp4.BoxTypeStsc()})
	if err != nil || len(boxes) == 0 {
		return nil, errors.New("alac: no stsc box")
	}

	stsc, ok := boxes[0].Payload.(*mp4.Stsc)
	if !ok {
		return nil, errors.New("alac: invalid stsc payload")
	}

	return stsc.Entries, nil
}

func readStsz(rs io.ReadSeeker, stbl *mp4.BoxInfo) ([]uint32, uint32, uint32, error) {
	boxes, err := mp4.ExtractBoxWithPayload(rs, stbl, mp4.BoxPath{mp4.BoxTypeStsz()})
	if err != nil || len(boxes) == 0 {
		return nil, 0, 0, errors.New("alac: no stsz box")
	}

	stsz, ok := boxes[0].Payload.(*mp4.Stsz)
	if !ok {
		return nil, 0, 0, errors.New("alac: invalid stsz payload")
	}

	return stsz.EntrySize, stsz.SampleSize, stsz.SampleCount, nil
}

// lookupSamplesPerChunk finds the samples-per-chunk count for a 1-based
// chunk number from the stsc run-length table.
func lookupSamplesPerChunk(entries []mp4.StscEntry, chunkNumber uint32) uint32 {
	var spc uint32

	for _, e := range entries {
		if e.FirstChunk > chunkNumber {
			break
		}

		spc = e.SamplesPerChunk
	}

	return spc
}

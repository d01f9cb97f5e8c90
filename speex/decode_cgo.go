//go:build with_speex

package speex

/*
#cgo LDFLAGS: -lspeex
#include <speex/speex.h>
#include <speex/speex_header.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	void            *state;
	SpeexBits        bits;
	SpeexHeader     *header;
} speex_ctx;

static speex_ctx *speex_ctx_open(const char *packet, int packetSize) {
	SpeexHeader *hdr = speex_packet_to_header((char *)packet, packetSize);
	if (hdr == NULL) {
		return NULL;
	}

	const SpeexMode *mode = speex_lib_get_mode(hdr->mode);
	if (mode == NULL) {
		free(hdr);
		return NULL;
	}

	speex_ctx *ctx = (speex_ctx *)malloc(sizeof(speex_ctx));
	ctx->header = hdr;
	ctx->state = speex_decoder_init(mode);
	speex_bits_init(&ctx->bits);

	int enh = 1;
	speex_decoder_ctl(ctx->state, SPEEX_SET_ENH, &enh);

	return ctx;
}

// speex_ctx_decode decodes one Speex frame into out (frame_size floats
// per channel already accounted for by the caller). Returns 0 on
// success, nonzero when the bitstream signals end-of-stream.
static int speex_ctx_decode(speex_ctx *ctx, const char *packet, int packetSize, float *out) {
	speex_bits_read_from(&ctx->bits, (char *)packet, packetSize);
	return speex_decode(ctx->state, &ctx->bits, out);
}

static int speex_ctx_frame_size(speex_ctx *ctx) {
	int frameSize = 0;
	speex_decoder_ctl(ctx->state, SPEEX_GET_FRAME_SIZE, &frameSize);
	return frameSize;
}

static void speex_ctx_close(speex_ctx *ctx) {
	if (ctx == NULL) {
		return;
	}
	speex_bits_destroy(&ctx->bits);
	speex_decoder_destroy(ctx->state);
	free(ctx->header);
	free(ctx);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/internal/oggpage"
	"github.com/mycophonic/pinna/pcmbuf"
	"github.com/mycophonic/pinna/provider"
)

// Decoder pulls Speex packets out of their Ogg container and decodes
// them with libspeex. Speex has no native frame count or seek table
// (spec section 4.C.1), so Frames reports pinna.UnknownFrames and Seek
// rewinds and steps forward.
type Decoder struct {
	dp provider.DataProvider

	mu        sync.Mutex
	pages     *oggpage.Reader
	ctx       *C.speex_ctx
	channels  int
	rate      float64
	frameSize int

	pcm      pcmbuf.Buffer
	curFrame int64
	eof      bool
}

// New creates a Speex Decoder over dp. Load must be called before
// Decode.
func New(dp provider.DataProvider) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := d.openHeader(); err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		// Comment header; discard.
		if _, err := d.pages.ReadPacket(); err != nil {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeMalformed)
			onDone(false)

			return
		}

		onDone(true)
	}()
}

func (d *Decoder) openHeader() error {
	d.pages = oggpage.NewReader(provider.ReadSeeker(d.dp))

	packet, err := d.pages.ReadPacket()
	if err != nil {
		return fmt.Errorf("speex: reading header packet: %w", err)
	}

	cpacket := C.CBytes(packet)
	defer C.free(cpacket)

	ctx := C.speex_ctx_open((*C.char)(cpacket), C.int(len(packet)))
	if ctx == nil {
		return errors.New("speex: could not parse header")
	}

	d.ctx = ctx
	d.channels = int(ctx.header.nb_channels)
	d.rate = float64(ctx.header.rate)
	d.frameSize = int(C.speex_ctx_frame_size(ctx))

	if d.channels == 0 {
		d.channels = 1
	}

	return nil
}

func (d *Decoder) SampleRate() float64      { return d.rate }
func (d *Decoder) Channels() int            { return d.channels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) Frames() int64            { return pinna.UnknownFrames }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "speex" }

// Seek rewinds the provider and steps the decoder forward until the
// cumulative frame count reaches frameIndex, per spec section 4.C's
// strategy for codecs without native seeking.
func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.dp.Seek(0, provider.SeekSet); err != nil {
		return fmt.Errorf("speex: rewind: %w", err)
	}

	C.speex_ctx_close(d.ctx)
	d.ctx = nil

	if err := d.openHeader(); err != nil {
		return fmt.Errorf("speex: re-reading header: %w", err)
	}

	if _, err := d.pages.ReadPacket(); err != nil { // comment header
		return fmt.Errorf("speex: re-reading comment header: %w", err)
	}

	d.pcm.Clear()
	d.curFrame = 0
	d.eof = false

	for d.curFrame < frameIndex && !d.eof {
		d.stepOnce()

		if have := d.pcm.Frames(d.channels); have > 0 {
			step := min(int64(have), frameIndex-d.curFrame)
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

	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / d.channels
	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*d.channels])
}

func (d *Decoder) stepOnce() {
	packet, err := d.pages.ReadPacket()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			// Corrupt page: treat as stalled decode, same as EOF.
			_ = err
		}

		d.eof = true

		return
	}

	out := make([]C.float, d.frameSize*d.channels)

	cpacket := C.CBytes(packet)
	rc := C.speex_ctx_decode(d.ctx, (*C.char)(cpacket), C.int(len(packet)), (*C.float)(unsafe.Pointer(&out[0])))
	C.free(cpacket)

	if rc != 0 {
		d.eof = true

		return
	}

	f32 := make([]float32, len(out))
	for i, s := range out {
		f32[i] = float32(s) / 32768.0
	}

	d.pcm.Append(f32)
}

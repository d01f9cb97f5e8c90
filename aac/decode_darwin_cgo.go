//go:build with_aac && darwin

package aac

/*
#cgo LDFLAGS: -framework AudioToolbox -framework CoreFoundation
#include <AudioToolbox/AudioToolbox.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	const char *data;
	int64_t     size;
} aac_reader;

static OSStatus aac_read_proc(
	void   *inClientData,
	SInt64  inPosition,
	UInt32  requestCount,
	void   *buffer,
	UInt32 *actualCount
) {
	aac_reader *r = (aac_reader *)inClientData;
	if (inPosition >= r->size) {
		*actualCount = 0;
		return noErr;
	}
	int64_t available = r->size - inPosition;
	UInt32 toRead = requestCount;
	if ((int64_t)toRead > available) {
		toRead = (UInt32)available;
	}
	memcpy(buffer, r->data + inPosition, toRead);
	*actualCount = toRead;
	return noErr;
}

static SInt64 aac_get_size_proc(void *inClientData) {
	aac_reader *r = (aac_reader *)inClientData;
	return (SInt64)r->size;
}

// aac_file_type maps this package's SourceFormat to the AudioFileTypeID
// AudioFileOpenWithCallbacks needs to parse the bytes it is actually
// given: a raw ADTS elementary stream, a raw MP3 elementary stream, and
// an M4A/MP4 container each need a different hint, and passing the
// wrong one makes AudioFileOpenWithCallbacks fail outright rather than
// silently misdecode.
static AudioFileTypeID aac_file_type(int format) {
	switch (format) {
	case 1: // formatMP3
		return kAudioFileMP3Type;
	case 2: // formatM4A
		return kAudioFileM4AType;
	default: // formatADTS
		return kAudioFileAAC_ADTSType;
	}
}

// decode_aac decodes format (an aac.SourceFormat value) from an
// in-memory buffer via AudioToolbox's ExtAudioFile.
// On success (return 0), caller must free(*outBuf).
static int decode_aac(
	const char *data, int64_t dataSize, int format,
	char **outBuf, int64_t *outBufSize,
	int *outSampleRate, int *outChannels
) {
	aac_reader reader;
	reader.data = data;
	reader.size = dataSize;

	AudioFileID audioFile = NULL;
	OSStatus status = AudioFileOpenWithCallbacks(
		&reader,
		aac_read_proc,
		NULL,
		aac_get_size_proc,
		NULL,
		aac_file_type(format),
		&audioFile
	);
	if (status != noErr) return (int)status;

	ExtAudioFileRef extFile = NULL;
	status = ExtAudioFileWrapAudioFileID(audioFile, false, &extFile);
	if (status != noErr) {
		AudioFileClose(audioFile);
		return (int)status;
	}

	// Query source format for sample rate and channel count.
	AudioStreamBasicDescription srcFormat;
	UInt32 propSize = sizeof(srcFormat);
	status = ExtAudioFileGetProperty(
		extFile, kExtAudioFileProperty_FileDataFormat, &propSize, &srcFormat
	);
	if (status != noErr) {
		ExtAudioFileDispose(extFile);
		AudioFileClose(audioFile);
		return (int)status;
	}

	*outSampleRate = (int)srcFormat.mSampleRate;
	*outChannels   = (int)srcFormat.mChannelsPerFrame;

	// Client format: 16-bit signed integer, little-endian (native on macOS), interleaved.
	AudioStreamBasicDescription clientFormat;
	memset(&clientFormat, 0, sizeof(clientFormat));
	clientFormat.mSampleRate       = srcFormat.mSampleRate;
	clientFormat.mFormatID         = kAudioFormatLinearPCM;
	clientFormat.mFormatFlags      = kAudioFormatFlagIsSignedInteger | kAudioFormatFlagIsPacked;
	clientFormat.mBitsPerChannel   = 16;
	clientFormat.mChannelsPerFrame = srcFormat.mChannelsPerFrame;
	clientFormat.mBytesPerFrame    = 2 * srcFormat.mChannelsPerFrame;
	clientFormat.mFramesPerPacket  = 1;
	clientFormat.mBytesPerPacket   = clientFormat.mBytesPerFrame;

	status = ExtAudioFileSetProperty(
		extFile, kExtAudioFileProperty_ClientDataFormat, sizeof(clientFormat), &clientFormat
	);
	if (status != noErr) {
		ExtAudioFileDispose(extFile);
		AudioFileClose(audioFile);
		return (int)status;
	}

	// Total frame count for buffer allocation.
	SInt64 totalFrames = 0;
	propSize = sizeof(totalFrames);
	status = ExtAudioFileGetProperty(
		extFile, kExtAudioFileProperty_FileLengthFrames, &propSize, &totalFrames
	);
	if (status != noErr || totalFrames <= 0) {
		ExtAudioFileDispose(extFile);
		AudioFileClose(audioFile);
		return status != noErr ? (int)status : -1;
	}

	int64_t bufSize = totalFrames * clientFormat.mBytesPerFrame;
	char *buf = (char *)malloc(bufSize);
	if (!buf) {
		ExtAudioFileDispose(extFile);
		AudioFileClose(audioFile);
		return -1;
	}

	// Read all decoded PCM frames.
	int64_t framesRead = 0;
	while (framesRead < totalFrames) {
		UInt32 frameCount = (UInt32)(totalFrames - framesRead);

		AudioBufferList bufList;
		bufList.mNumberBuffers = 1;
		bufList.mBuffers[0].mNumberChannels = srcFormat.mChannelsPerFrame;
		bufList.mBuffers[0].mDataByteSize   = frameCount * clientFormat.mBytesPerFrame;
		bufList.mBuffers[0].mData           = buf + framesRead * clientFormat.mBytesPerFrame;

		status = ExtAudioFileRead(extFile, &frameCount, &bufList);
		if (status != noErr) {
			free(buf);
			ExtAudioFileDispose(extFile);
			AudioFileClose(audioFile);
			return (int)status;
		}
		if (frameCount == 0) break;
		framesRead += frameCount;
	}

	*outBuf     = buf;
	*outBufSize = framesRead * clientFormat.mBytesPerFrame;

	ExtAudioFileDispose(extFile);
	AudioFileClose(audioFile);
	return 0;
}
*/
import "C"

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

// primingFrames returns the number of leading samples this format's
// encoder look-ahead injects, discarded per spec section 4.C's
// junk-frame trim: AAC's SBR/LC encoders prime a full 1024-sample
// frame, while LAME's MP3 encoder delay is 275 samples.
func primingFrames(format SourceFormat) int {
	if format == FormatMP3 {
		return 275
	}

	return 1024
}

// Decoder wraps CoreAudio's ExtAudioFile decode (which decodes an
// entire container eagerly, with no incremental packet API exposed to
// cgo without a much larger AudioConverter binding) behind the
// pull-based pinna.Decoder contract: Load performs the eager decode once
// on a worker goroutine, and Decode/Seek slice the resulting PCM buffer.
type Decoder struct {
	dp     provider.DataProvider
	format SourceFormat

	mu       sync.Mutex
	pcm      []float32
	channels int
	rate     float64
	curFrame int64
	eof      bool
	trimmed  bool
}

// New creates a Decoder over dp that opens the underlying bytes as
// format. Load must be called before Decode.
func New(dp provider.DataProvider, format SourceFormat) *Decoder {
	return &Decoder{dp: dp, format: format}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		data, err := io.ReadAll(provider.ReadSeeker(d.dp))
		if err != nil || len(data) == 0 {
			onError(pinna.DomainCouldNotReadFile, pinna.CodeIO)
			onDone(false)

			return
		}

		cData := C.CBytes(data)
		defer C.free(cData)

		var (
			outBuf     *C.char
			outSize    C.int64_t
			sampleRate C.int
			channels   C.int
		)

		result := C.decode_aac(
			(*C.char)(cData), C.int64_t(len(data)), C.int(d.format),
			&outBuf, &outSize,
			&sampleRate, &channels,
		)
		if result != 0 {
			onError(pinna.DomainCouldNotDecodeHeader, pinna.ErrorCode(result))
			onDone(false)

			return
		}

		defer C.free(unsafe.Pointer(outBuf))

		raw := C.GoBytes(unsafe.Pointer(outBuf), C.int(outSize))

		d.channels = int(channels)
		d.rate = float64(sampleRate)
		d.pcm = int16BytesToFloat32(raw)
		d.trimPriming()

		onDone(true)
	}()
}

// trimPriming discards the encoder's leading priming samples, once,
// right after decode.
func (d *Decoder) trimPriming() {
	if d.trimmed || d.channels == 0 {
		return
	}

	skip := primingFrames(d.format) * d.channels
	if skip > len(d.pcm) {
		skip = len(d.pcm)
	}

	d.pcm = d.pcm[skip:]
	d.trimmed = true
}

func (d *Decoder) SampleRate() float64      { return d.rate }
func (d *Decoder) Channels() int            { return d.channels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "aac" }

func (d *Decoder) Frames() int64 {
	if d.channels == 0 {
		return pinna.UnknownFrames
	}

	return int64(len(d.pcm) / d.channels)
}

func (d *Decoder) EOF() bool { return d.eof }

func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frameIndex < 0 || frameIndex > d.Frames() {
		return fmt.Errorf("aac: seek out of range: %d", frameIndex)
	}

	d.curFrame = frameIndex
	d.eof = false

	return nil
}

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
	start := int(d.curFrame) * d.channels
	end := start + frames*d.channels

	if end > len(d.pcm) {
		end = len(d.pcm)
	}

	if start >= end {
		d.eof = true
		cb(frameIndex, 0, nil)

		return
	}

	out := d.pcm[start:end]
	frameCount := len(out) / d.channels
	d.curFrame += int64(frameCount)

	if int(d.curFrame)*d.channels >= len(d.pcm) {
		d.eof = true
	}

	cb(frameIndex, frameCount, out)
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

package pinna

// UnknownFrames is returned by Decoder.Frames when the total frame count
// cannot be determined without decoding the entire stream.
const UnknownFrames int64 = -1

// UnknownSize is returned by a DataProvider's Size when the underlying
// byte source has no known length (a live HTTP stream without
// Content-Length, for instance).
const UnknownSize int64 = -1

// DecodeCallback receives one decoded block. frameIndex is the index of the
// first frame in the block (the value current_frame_index held before the
// call that produced it); frameCount is the number of frames actually
// produced (may be less than requested at EOF); samples is
// channels*frameCount interleaved float32 values.
type DecodeCallback func(frameIndex int64, frameCount int, samples []float32)

// OnError reports an asynchronous failure. Domain is a
// "com.nativeformat.<subsystem>.<kind>"-style string; code is small and
// subsystem-local.
type OnError func(domain ErrorDomain, code ErrorCode)

// OnDone reports completion of an asynchronous Load. success is false
// whenever OnError has also fired for the same call.
type OnDone func(success bool)

// Decoder is a pull-based source of interleaved float32 PCM frames.
//
// Load must be called exactly once before any other method and must
// complete (successfully or not) before the first Decode. After a
// successful Load, SampleRate and Channels are fixed for the lifetime of
// the Decoder. CurrentFrameIndex always names the frame that the next
// Decode call will begin producing. Seek and Flush never change
// SampleRate or Channels. All methods are safe to call from multiple
// goroutines; a single internal mutex serializes them, so concurrent
// calls queue rather than race, but a caller wanting deterministic
// ordering must serialize its own calls (chain from within a callback,
// or use synchronous decodes).
type Decoder interface {
	// Load prepares the decoder for decoding, reading and validating
	// container/codec headers as needed. onDone(false) is always called
	// when Load fails, alongside exactly one onError call naming why.
	Load(onError OnError, onDone OnDone)

	// SampleRate returns the decoder's fixed output sample rate in Hz.
	// Valid only after a successful Load.
	SampleRate() float64

	// Channels returns the decoder's fixed output channel count. Valid
	// only after a successful Load.
	Channels() int

	// CurrentFrameIndex returns the index of the next frame that Decode
	// will produce.
	CurrentFrameIndex() int64

	// Frames returns the total frame count, or UnknownFrames if it
	// cannot be determined without decoding the whole stream.
	Frames() int64

	// EOF reports whether the decoder has nothing further to produce.
	EOF() bool

	// Seek repositions CurrentFrameIndex, discarding any buffered
	// samples that no longer apply.
	Seek(frameIndex int64) error

	// Decode requests up to frames frames. If synchronous is false, the
	// work runs on a detached goroutine and cb fires from it; if true,
	// cb fires on the caller's goroutine before Decode returns.
	Decode(frames int, cb DecodeCallback, synchronous bool)

	// Flush discards buffered-but-undelivered samples and resets codec
	// library internal state without changing CurrentFrameIndex.
	Flush()

	// Path returns the resource identifier this decoder was created
	// from.
	Path() string

	// Name returns a short tag identifying the decoder implementation
	// ("flac", "vorbis", "wav", ...).
	Name() string
}

// Package normalize implements the Normalization Decoder (spec section
// 4.F): a pinna.Decoder that wraps an inner decoder and remixes its
// channel layout, then resamples to a target sample rate, using
// github.com/tphakala/go-audio-resampler's pure-Go polyphase engine —
// one mono Engine per target channel, since the library's streaming
// Process/Flush API operates on a single channel at a time.
package normalize

import (
	"sync"

	"github.com/tphakala/go-audio-resampler"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/pcmbuf"
)

// pullBlockFrames is how many native frames are pulled from the inner
// decoder per resample/remix step.
const pullBlockFrames = 4096

// Decoder wraps an inner pinna.Decoder, remixing to targetChannels and
// resampling to targetRate.
type Decoder struct {
	inner pinna.Decoder

	targetChannels int
	targetRate     float64

	mu        sync.Mutex
	engines   []*resampler.SimpleResamplerFloat32 // len == targetChannels, nil entries when rates match
	pcm       pcmbuf.Buffer
	curFrame  int64
	eof       bool
}

// New wraps inner so that it produces targetChannels channels at
// targetRate. If inner already matches, callers should skip wrapping
// entirely (spec section 4.G, "Normalization layer skips wrapping when
// the wrapped decoder's (sr, ch) already equal the target") — New does
// not perform that check itself, since the decision needs inner's
// post-Load sample rate/channels, which aren't known until Load
// completes.
func New(inner pinna.Decoder, targetChannels int, targetRate float64) *Decoder {
	return &Decoder{inner: inner, targetChannels: targetChannels, targetRate: targetRate}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	d.inner.Load(onError, func(success bool) {
		if !success {
			onDone(false)

			return
		}

		d.mu.Lock()
		defer d.mu.Unlock()

		if d.inner.SampleRate() != d.targetRate {
			d.engines = make([]*resampler.SimpleResamplerFloat32, d.targetChannels)

			for c := range d.engines {
				eng, err := resampler.NewEngineFloat32(d.inner.SampleRate(), d.targetRate, resampler.QualityHigh)
				if err != nil {
					onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported)
					onDone(false)

					return
				}

				d.engines[c] = eng
			}
		}

		onDone(true)
	})
}

func (d *Decoder) SampleRate() float64      { return d.targetRate }
func (d *Decoder) Channels() int            { return d.targetChannels }
func (d *Decoder) CurrentFrameIndex() int64 { return d.curFrame }
func (d *Decoder) EOF() bool                { return d.eof }
func (d *Decoder) Path() string             { return d.inner.Path() }
func (d *Decoder) Name() string             { return "normalize(" + d.inner.Name() + ")" }

// Frames scales the inner decoder's frame count by the resample ratio;
// exact only up to the resampler's own rounding.
func (d *Decoder) Frames() int64 {
	inner := d.inner.Frames()
	if inner == pinna.UnknownFrames {
		return pinna.UnknownFrames
	}

	if d.inner.SampleRate() == d.targetRate {
		return inner
	}

	return int64(float64(inner) * d.targetRate / d.inner.SampleRate())
}

func (d *Decoder) Seek(frameIndex int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	innerFrame := frameIndex
	if d.inner.SampleRate() != d.targetRate {
		innerFrame = int64(float64(frameIndex) * d.inner.SampleRate() / d.targetRate)
	}

	if err := d.inner.Seek(innerFrame); err != nil {
		return err
	}

	d.pcm.Clear()
	d.curFrame = frameIndex
	d.eof = false

	return nil
}

func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inner.Flush()
	d.pcm.Clear()

	for _, eng := range d.engines {
		if eng != nil {
			_, _ = eng.Flush()
		}
	}
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
	need := frames * d.targetChannels

	for d.pcm.Len() < need && !d.eof {
		d.pullOnce()
	}

	out := make([]float32, min(need, d.pcm.Len()))
	n := d.pcm.Drain(out)
	frameCount := n / d.targetChannels

	// A lone frame left over when more were requested is dropped and the
	// call reports zero frames.
	if frameCount == 1 && frames > 1 {
		frameCount = 0
	}

	d.curFrame += int64(frameCount)

	cb(frameIndex, frameCount, out[:frameCount*d.targetChannels])
}

// pullOnce pulls one block of native frames from the inner decoder,
// remixes to the target channel count, resamples if needed, and appends
// the result to the PCM buffer.
func (d *Decoder) pullOnce() {
	var (
		got  int
		data []float32
	)

	done := make(chan struct{})
	d.inner.Decode(pullBlockFrames, func(_ int64, frameCount int, samples []float32) {
		got = frameCount
		data = samples
		close(done)
	}, true)
	<-done

	if got == 0 {
		if d.inner.EOF() {
			d.eof = true
		}

		return
	}

	remixed := remix(data, d.inner.Channels(), d.targetChannels)

	if d.engines == nil {
		d.pcm.Append(remixed)

		return
	}

	d.pcm.Append(d.resample(remixed))
}

// resample deinterleaves remixed into per-channel mono streams, feeds
// each through its own Engine, and re-interleaves the (possibly
// different-length) outputs.
func (d *Decoder) resample(remixed []float32) []float32 {
	frames := len(remixed) / d.targetChannels
	planar := make([][]float32, d.targetChannels)

	for c := range planar {
		planar[c] = make([]float32, frames)

		for i := 0; i < frames; i++ {
			planar[c][i] = remixed[i*d.targetChannels+c]
		}
	}

	outPlanar := make([][]float32, d.targetChannels)
	outFrames := 0

	for c, eng := range d.engines {
		out, err := eng.Process(planar[c])
		if err != nil {
			out = nil
		}

		outPlanar[c] = out

		if len(out) > outFrames {
			outFrames = len(out)
		}
	}

	interleaved := make([]float32, outFrames*d.targetChannels)
	for c := range outPlanar {
		for i, s := range outPlanar[c] {
			interleaved[i*d.targetChannels+c] = s
		}
	}

	return interleaved
}

// remix maps nativeCh interleaved samples to targetCh, matching the
// common mono<->stereo and N-to-stereo/mono cases with a gain correction
// so downmixed peaks don't clip and upmixed channels aren't silent.
func remix(samples []float32, nativeCh, targetCh int) []float32 {
	if nativeCh == targetCh {
		return samples
	}

	frames := len(samples) / nativeCh
	out := make([]float32, frames*targetCh)

	switch {
	case nativeCh == 1 && targetCh > 1:
		// Upmix: duplicate mono into every target channel.
		for i := 0; i < frames; i++ {
			for c := 0; c < targetCh; c++ {
				out[i*targetCh+c] = samples[i]
			}
		}

	case targetCh == 1:
		// Downmix to mono: average all native channels.
		gain := float32(1) / float32(nativeCh)

		for i := 0; i < frames; i++ {
			var sum float32

			for c := 0; c < nativeCh; c++ {
				sum += samples[i*nativeCh+c]
			}

			out[i] = sum * gain
		}

	case nativeCh > targetCh:
		// General downmix: fold every wrapped channel into
		// wrapped_channel % target_channels; when nativeCh is odd, the
		// last (residual) channel is mixed into every target channel
		// instead of just one via modulo. Divide each target channel by
		// nativeCh/targetCh afterward to restore headroom.
		groupSize := float32(nativeCh) / float32(targetCh)
		oddResidual := nativeCh%2 == 1

		for i := 0; i < frames; i++ {
			base := i * nativeCh
			outBase := i * targetCh

			for c := 0; c < nativeCh; c++ {
				s := samples[base+c]

				if oddResidual && c == nativeCh-1 {
					for t := 0; t < targetCh; t++ {
						out[outBase+t] += s
					}

					continue
				}

				out[outBase+c%targetCh] += s
			}

			for t := 0; t < targetCh; t++ {
				out[outBase+t] /= groupSize
			}
		}

	default:
		// General upmix: copy the overlapping channels verbatim, then
		// fill every target channel beyond nativeCh with the average of
		// all wrapped channels.
		avgGain := float32(1) / float32(nativeCh)

		for i := 0; i < frames; i++ {
			base := i * nativeCh
			outBase := i * targetCh

			var avg float32

			for c := 0; c < nativeCh; c++ {
				avg += samples[base+c]
			}

			avg *= avgGain

			for c := 0; c < targetCh; c++ {
				if c < nativeCh {
					out[outBase+c] = samples[base+c]
				} else {
					out[outBase+c] = avg
				}
			}
		}
	}

	return out
}

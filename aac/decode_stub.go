//go:build !with_aac

package aac

import (
	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

// Decoder is a no-op stand-in when the module is built without the
// with_aac tag; Load reports (DomainCouldNotDecodeHeader,
// CodeUnsupported) through the normal error-callback path, and Seek
// returns ErrNotSupported.
type Decoder struct {
	dp provider.DataProvider
}

// New creates an AAC Decoder over dp for the given source format.
func New(dp provider.DataProvider, _ SourceFormat) *Decoder {
	return &Decoder{dp: dp}
}

func (d *Decoder) Load(onError pinna.OnError, onDone pinna.OnDone) {
	go func() {
		onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported)
		onDone(false)
	}()
}

func (d *Decoder) SampleRate() float64      { return 0 }
func (d *Decoder) Channels() int            { return 0 }
func (d *Decoder) CurrentFrameIndex() int64 { return 0 }
func (d *Decoder) Frames() int64            { return pinna.UnknownFrames }
func (d *Decoder) EOF() bool                { return true }
func (d *Decoder) Path() string             { return d.dp.Path() }
func (d *Decoder) Name() string             { return "aac" }

func (d *Decoder) Seek(int64) error { return ErrNotSupported }

func (d *Decoder) Flush() {}

func (d *Decoder) Decode(_ int, cb pinna.DecodeCallback, _ bool) {
	cb(0, 0, nil)
}

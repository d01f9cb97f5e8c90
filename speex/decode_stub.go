//go:build !with_speex

package speex

import (
	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

// Decoder is a no-op stand-in when the module is built without the
// with_speex tag. Load reports (DomainCouldNotDecodeHeader,
// CodeUnsupported) through the normal error-callback path rather than
// panicking, so factory code can construct it unconditionally and let
// Load fail cleanly; Seek returns ErrNotSupported and Decode delivers no
// frames.
type Decoder struct {
	dp provider.DataProvider
}

// New creates a Speex Decoder over dp.
func New(dp provider.DataProvider) *Decoder {
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
func (d *Decoder) Name() string             { return "speex" }

func (d *Decoder) Seek(int64) error { return ErrNotSupported }

func (d *Decoder) Flush() {}

func (d *Decoder) Decode(_ int, cb pinna.DecodeCallback, _ bool) {
	cb(0, 0, nil)
}

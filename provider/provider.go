// Package provider implements the random-access byte sources decoders
// pull from: local files, HTTP(S) range requests, and an in-memory FIFO
// used by the transmuxer.
package provider

import (
	"errors"
	"io"
)

// Whence names the origin of a Seek offset.
type Whence int

// Seek origins, matching the C stdio SEEK_* constants spec section 4.A
// refers to.
const (
	SeekSet Whence = iota
	SeekCurrent
	SeekEnd
)

// MemoryProviderName is the Name() tag reported by MemoryProvider. Codec
// decoders compare against it to suppress the priming-frame trim for
// content produced by the transmuxer (spec section 4.C, "Junk-frame
// trimming").
const MemoryProviderName = "memory"

// UnknownSize is returned by Size when the underlying byte source has no
// known length.
const UnknownSize int64 = -1

// DataProvider is a random-access, read-only byte stream with a
// monotonic logical position. Implementations must be safe for
// concurrent use; DataProvider is the internal lock spec section 3
// requires ("reads are serialized by an internal lock").
type DataProvider interface {
	// Read fills buf and returns the number of bytes read. Read behaves
	// like io.Reader: 0 < n <= len(buf), or n == 0 with a non-nil error
	// (io.EOF at end of stream).
	Read(buf []byte) (n int, err error)

	// Seek repositions the logical offset per whence and returns the
	// new absolute offset.
	Seek(offset int64, whence Whence) (int64, error)

	// Tell returns the current logical offset.
	Tell() (int64, error)

	// EOF reports whether the provider has been read to the end of its
	// available bytes.
	EOF() bool

	// Size returns the total byte length, or UnknownSize if unknown.
	Size() int64

	// Load asynchronously prepares the provider (opens the file,
	// issues the HTTP HEAD, ...). It must complete before the first
	// Read. onDone(false) is always paired with an onError call when
	// Load fails.
	Load(onError func(error), onDone func(success bool))

	// Path returns the resource identifier this provider was opened
	// from.
	Path() string

	// Name returns a short tag identifying the provider kind ("file",
	// "http", MemoryProviderName).
	Name() string
}

// ErrSeekUnsupported is returned by providers that do not support Seek
// (MemoryProvider).
var ErrSeekUnsupported = errors.New("provider: seek not supported")

// ReadSeeker adapts a DataProvider to io.ReadSeeker, the shape every
// third-party codec library in this module (mewkiz/flac,
// jfreymuth/oggvorbis, hajimehoshi/go-mp3, abema/go-mp4) expects. This is
// the "read/seek/tell/eof/length callback" binding spec section 4.C
// describes, expressed once instead of once per codec.
func ReadSeeker(dp DataProvider) io.ReadSeeker {
	return &readSeeker{dp: dp}
}

type readSeeker struct {
	dp DataProvider
}

func (r *readSeeker) Read(p []byte) (int, error) {
	return r.dp.Read(p)
}

func (r *readSeeker) Seek(offset int64, whence int) (int64, error) {
	var w Whence

	switch whence {
	case io.SeekStart:
		w = SeekSet
	case io.SeekCurrent:
		w = SeekCurrent
	case io.SeekEnd:
		w = SeekEnd
	default:
		return 0, errors.New("provider: invalid whence")
	}

	return r.dp.Seek(offset, w)
}

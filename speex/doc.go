// Package speex provides Speex decoding via libspeex (cgo).
//
// This package requires the "with_speex" build tag and CGO_ENABLED=1.
// Without the build tag, Decoder.Load reports CodeUnsupported through its
// error callback, Decode delivers no frames, and Seek returns ErrNotSupported.
package speex

package speex

import "errors"

// ErrNotSupported is returned when Speex decoding is not available.
// Build with -tags=with_speex and CGO_ENABLED=1 to enable it.
var ErrNotSupported = errors.New("speex: not supported (build with -tags=with_speex)")

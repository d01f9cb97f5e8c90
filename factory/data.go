package factory

import (
	"fmt"
	"sync/atomic"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/provider"
)

var decoderForDataCounter int64

// DecoderForData is the memory-backed one-shot entry point: it wraps data
// in a provider.MemoryProvider, registers that provider under a
// synthetic path, and routes it through a fresh Factory exactly as
// CreateDecoder would for a file or HTTP path. With no mimeHint, family
// classification falls through to sniffFamily's magic-byte detection
// against the buffered bytes themselves.
func DecoderForData(
	data []byte,
	mimeHint string,
	sampleRate float64,
	channels int,
	onSuccess func(pinna.Decoder),
	onError pinna.OnError,
) {
	path := fmt.Sprintf("memdata://%d", atomic.AddInt64(&decoderForDataCounter, 1))

	mem := provider.NewMemoryProvider(path)
	if _, err := mem.Write(data); err != nil {
		onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeIO)

		return
	}

	registry := provider.NewRegistry(nil)
	handle := registry.Register(func(p string) provider.DataProvider {
		if p != path {
			return nil
		}

		return mem
	})

	fact := New(Config{Registry: registry})

	fact.CreateDecoder(path, mimeHint, sampleRate, channels,
		func(dec pinna.Decoder) {
			registry.Unregister(handle)
			onSuccess(dec)
		},
		func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
			registry.Unregister(handle)
			onError(domain, code)
		},
	)
}

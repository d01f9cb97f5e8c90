// Package factory implements the six-layer Factory composition (spec
// section 4.G): Common → Platform → LGPL → Transmuxer → Normalization →
// Service, each layer following the same three-step dispatch rule
// (classify the effective MIME, build directly if this layer owns that
// family, else delegate inward and optionally fall back).
package factory

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/aac"
	"github.com/mycophonic/pinna/alac"
	"github.com/mycophonic/pinna/decrypt"
	"github.com/mycophonic/pinna/detect"
	"github.com/mycophonic/pinna/flac"
	"github.com/mycophonic/pinna/midi"
	"github.com/mycophonic/pinna/mp3"
	"github.com/mycophonic/pinna/normalize"
	"github.com/mycophonic/pinna/opus"
	"github.com/mycophonic/pinna/provider"
	"github.com/mycophonic/pinna/speex"
	"github.com/mycophonic/pinna/transmux"
	"github.com/mycophonic/pinna/vorbis"
	"github.com/mycophonic/pinna/wav"
)

// ErrUnrecognized is what a layer's delegate returns when no layer from
// itself inward recognized the request; a layer with a fallback
// constructor tries it only after seeing this specific error.
var ErrUnrecognized = errors.New("factory: no layer recognized this path/mime")

// Request carries everything a layer needs to classify and, if it
// matches, construct a decoder.
type Request struct {
	Path       string
	MimeHint   string
	SampleRate float64
	Channels   int
}

// nextFn is what a layer delegates to: either the next layer inward, or
// the terminal function returning ErrUnrecognized.
type nextFn func(req Request) (pinna.Decoder, error)

// Config wires the collaborators a Factory needs. BuildTransmuxInner and
// TransmuxDecryptor may be nil if DASH content will never be decoded.
type Config struct {
	Registry *provider.Registry

	// BuildTransmuxInner constructs the codec decoder that consumes a
	// transmuxed DASH segment (spec section 4.D's inner decoder).
	BuildTransmuxInner transmux.InnerDecoderFactory

	// TransmuxDecryptor decrypts CENC-protected DASH content; nil
	// disables decryption.
	TransmuxDecryptor decrypt.Decryptor

	// IndexRangeHint overrides the transmuxer's default SIDX probe
	// size; 0 keeps the default.
	IndexRangeHint int

	// DecryptorFactory builds a Decryptor for a given path when one can
	// be provisioned. The LGPL layer calls it for .m4a paths and, when
	// it returns non-nil, retries alac.New once; the Decryptor itself is
	// not used to decrypt content. nil disables that retry.
	DecryptorFactory func(path string) decrypt.Decryptor
}

// Factory is the composed six-layer chain.
type Factory struct {
	chain nextFn
}

// New composes the six layers in spec section 4.G's order: Common wraps
// nothing (it is innermost), Platform wraps Common, LGPL wraps Platform,
// Transmuxer wraps LGPL, Normalization wraps Transmuxer, and Service —
// the entry point — wraps Normalization.
func New(cfg Config) *Factory {
	var chain nextFn = func(Request) (pinna.Decoder, error) { return nil, ErrUnrecognized }

	chain = commonLayer(cfg.Registry, chain)
	chain = platformLayer(cfg.Registry, chain)
	chain = lgplLayer(cfg.Registry, cfg.DecryptorFactory, chain)
	chain = transmuxerLayer(cfg.Registry, cfg.BuildTransmuxInner, cfg.TransmuxDecryptor, cfg.IndexRangeHint, chain)
	chain = normalizationLayer(chain)
	chain = serviceLayer(chain)

	return &Factory{chain: chain}
}

// CreateDecoder matches spec section 6's
// Factory::create_decoder(path, mime_hint, cb_success, cb_error, sr, ch):
// resolution runs on a detached goroutine per spec section 5's
// "one task per asynchronous operation" scheduling model.
func (f *Factory) CreateDecoder(path, mimeHint string, sampleRate float64, channels int, onSuccess func(pinna.Decoder), onError pinna.OnError) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}

	if channels <= 0 {
		channels = 2
	}

	go func() {
		dec, err := f.chain(Request{Path: path, MimeHint: mimeHint, SampleRate: sampleRate, Channels: channels})
		if err != nil {
			var de *pinna.DecoderError
			if errors.As(err, &de) {
				onError(de.Domain, de.Code)
			} else {
				onError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported)
			}

			return
		}

		onSuccess(dec)
	}()
}

// sniffFamily opens req.Path, reads its leading bytes through
// detect.Sniff, and maps the recognized Codec back to a family. It is
// the last-resort classification spec section 6's MIME/extension rule
// is silent on: an extensionless URL with no caller-supplied MIME still
// needs a family to dispatch on, and the teacher's own magic-byte
// Identify already knows most of these signatures.
func sniffFamily(registry *provider.Registry, path string) family {
	dp, err := registry.Create(path)
	if err != nil {
		return ""
	}

	if err := loadProviderSync(dp); err != nil {
		return ""
	}

	switch detect.Sniff(provider.ReadSeeker(dp)) {
	case detect.FLAC:
		return familyFLAC
	case detect.Vorbis:
		return familyOgg
	case detect.WAV:
		return familyWAV
	case detect.MP3:
		return familyMP3
	case detect.AAC:
		return familyAAC
	case detect.ALAC, detect.Unknown:
		return ""
	default:
		return ""
	}
}

// classifyOrSniff applies classify first and falls back to sniffFamily
// only when neither the caller-supplied MIME nor the path extension
// yielded a family.
func classifyOrSniff(registry *provider.Registry, req Request) family {
	if f := classify(req.Path, req.MimeHint); f != "" {
		return f
	}

	return sniffFamily(registry, req.Path)
}

// commonLayer handles FLAC, Ogg (Vorbis/Opus), WAV, MIDI, and Speex —
// the codecs with no platform or third-party-library dependency beyond
// what this module vendors directly.
func commonLayer(registry *provider.Registry, next nextFn) nextFn {
	return func(req Request) (pinna.Decoder, error) {
		switch classifyOrSniff(registry, req) {
		case familyMIDI:
			if dec, err := buildMIDI(req); err == nil {
				return dec, nil
			}

		case familyFLAC:
			if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return flac.New(dp) }); err == nil {
				return dec, nil
			}

		case familyOgg:
			if dec, err := buildOgg(registry, req); err == nil {
				return dec, nil
			}

		case familyWAV:
			if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return wav.New(dp) }); err == nil {
				return dec, nil
			}

		case familySpeex:
			if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return speex.New(dp) }); err == nil {
				return dec, nil
			}
		}

		return next(req)
	}
}

// platformLayer covers AAC/MP3 decoded through the OS media framework
// (package aac, whose build without the with_aac tag fails every Load
// with CodeUnsupported, so this layer transparently falls through to the LGPL layer's pure-Go
// fallback). The container hint passed to aac.New must match what was
// actually classified — a raw ADTS stream and a raw MP3 stream are not
// interchangeable AudioFileTypeIDs.
func platformLayer(registry *provider.Registry, next nextFn) nextFn {
	return func(req Request) (pinna.Decoder, error) {
		var format aac.SourceFormat

		switch classifyOrSniff(registry, req) {
		case familyAAC:
			format = aac.FormatADTS
		case familyMP3:
			format = aac.FormatMP3
		default:
			return next(req)
		}

		if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return aac.New(dp, format) }); err == nil {
			return dec, nil
		}

		return next(req)
	}
}

// lgplLayer is the general codec library fallback: pure-Go MP3
// (go-mp3) and ALAC-in-MP4 (.m4a). Encrypted MP4 content is not
// decrypted here.
func lgplLayer(registry *provider.Registry, decryptorFactory func(path string) decrypt.Decryptor, next nextFn) nextFn {
	return func(req Request) (pinna.Decoder, error) {
		dec, err := next(req)
		if err == nil {
			return dec, nil
		}

		if !errors.Is(err, ErrUnrecognized) {
			return nil, err
		}

		if classifyOrSniff(registry, req) == familyMP3 {
			if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return mp3.New(dp) }); err == nil {
				return dec, nil
			}
		}

		if strings.HasSuffix(strings.ToLower(req.Path), ".m4a") {
			if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return alac.New(dp) }); err == nil {
				return dec, nil
			}
		}

		// Encrypted MP4 support at this layer is limited to
		// confirming a decryptor can be provisioned for the path; the
		// concrete decrypt-then-decode integration this module ships
		// is the DASH path (transmux + mp4box), not a second one for
		// statically-packaged encrypted .m4a files.
		if decryptorFactory != nil && strings.HasSuffix(strings.ToLower(req.Path), ".m4a") {
			if decryptorFactory(req.Path) != nil {
				if dec, err := buildProviderCodec(registry, req, func(dp provider.DataProvider) pinna.Decoder { return alac.New(dp) }); err == nil {
					return dec, nil
				}
			}
		}

		return nil, ErrUnrecognized
	}
}

// transmuxerLayer probes for the DASH signature (9 bytes at offset 4,
// "ftypdash\0") and, on a match, wraps the source in a transmux.Decoder.
func transmuxerLayer(registry *provider.Registry, buildInner transmux.InnerDecoderFactory, decryptor decrypt.Decryptor, indexRangeHint int, next nextFn) nextFn {
	return func(req Request) (pinna.Decoder, error) {
		dec, err := next(req)
		if err == nil {
			return dec, nil
		}

		if !errors.Is(err, ErrUnrecognized) {
			return nil, err
		}

		if buildInner == nil {
			return nil, ErrUnrecognized
		}

		dp, perr := registry.Create(req.Path)
		if perr != nil {
			return nil, ErrUnrecognized
		}

		if perr := loadProviderSync(dp); perr != nil {
			return nil, ErrUnrecognized
		}

		if !probeDASH(dp) {
			return nil, ErrUnrecognized
		}

		tm := transmux.NewDefaultTransmuxer(4, 2)
		tdec := transmux.New(dp, tm, buildInner, registry, decryptor, indexRangeHint)

		if err := loadSync(tdec); err != nil {
			return nil, err
		}

		return tdec, nil
	}
}

// probeDASH reads the 9 bytes at offset 4 and compares them against
// "ftypdash\0", restoring the provider's position first.
func probeDASH(dp provider.DataProvider) bool {
	pos, err := dp.Tell()
	if err != nil {
		return false
	}

	defer func() { _, _ = dp.Seek(pos, provider.SeekSet) }()

	if _, err := dp.Seek(4, provider.SeekSet); err != nil {
		return false
	}

	buf := make([]byte, 9)

	n, _ := dp.Read(buf)
	if n < len(buf) {
		return false
	}

	return string(buf) == "ftypdash\x00"
}

// normalizationLayer wraps whatever decoder emerged from the inner
// chain in normalize.Decoder unless it already matches the requested
// (sample rate, channels).
func normalizationLayer(next nextFn) nextFn {
	return func(req Request) (pinna.Decoder, error) {
		dec, err := next(req)
		if err != nil {
			return nil, err
		}

		if dec.SampleRate() == req.SampleRate && dec.Channels() == req.Channels {
			return dec, nil
		}

		norm := normalize.New(dec, req.Channels, req.SampleRate)
		if err := loadSync(norm); err != nil {
			return nil, err
		}

		return norm, nil
	}
}

// serviceLayer rewrites the effective MIME to audio/mpeg for SoundCloud
// URLs before delegating inward.
func serviceLayer(next nextFn) nextFn {
	return func(req Request) (pinna.Decoder, error) {
		if isSoundCloudPath(req.Path) {
			req.MimeHint = "audio/mpeg"
		}

		return next(req)
	}
}

func isSoundCloudPath(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Host)

	return host == "soundcloud.com" || strings.HasSuffix(host, ".soundcloud.com")
}

func buildMIDI(req Request) (pinna.Decoder, error) {
	midiPath, sfPath, ok := midi.SplitSyntheticPath(req.Path)
	if !ok {
		return nil, ErrUnrecognized
	}

	dec := midi.New(midiPath, sfPath, req.SampleRate)
	if err := loadSync(dec); err != nil {
		return nil, err
	}

	return dec, nil
}

// buildOgg tries Vorbis first, rewinding and trying Opus on failure
// (spec section 4.C.4).
func buildOgg(registry *provider.Registry, req Request) (pinna.Decoder, error) {
	dp, err := registry.Create(req.Path)
	if err != nil {
		return nil, fmt.Errorf("factory: creating provider for %s: %w", req.Path, err)
	}

	if err := loadProviderSync(dp); err != nil {
		return nil, err
	}

	v := vorbis.New(dp)
	if err := loadSync(v); err == nil {
		return v, nil
	}

	if _, err := dp.Seek(0, provider.SeekSet); err != nil {
		return nil, fmt.Errorf("factory: rewinding for opus: %w", err)
	}

	o := opus.New(dp)
	if err := loadSync(o); err == nil {
		return o, nil
	}

	return nil, pinna.NewError(pinna.DomainCouldNotDecodeHeader, pinna.CodeUnsupported, nil)
}

// buildProviderCodec creates a DataProvider for req.Path, loads it, then
// constructs and loads a codec decoder over it via ctor.
func buildProviderCodec(registry *provider.Registry, req Request, ctor func(provider.DataProvider) pinna.Decoder) (pinna.Decoder, error) {
	dp, err := registry.Create(req.Path)
	if err != nil {
		return nil, fmt.Errorf("factory: creating provider for %s: %w", req.Path, err)
	}

	if err := loadProviderSync(dp); err != nil {
		return nil, err
	}

	dec := ctor(dp)
	if err := loadSync(dec); err != nil {
		return nil, err
	}

	return dec, nil
}

func loadProviderSync(dp provider.DataProvider) error {
	var loadErr error

	done := make(chan bool, 1)

	dp.Load(func(err error) { loadErr = err }, func(ok bool) { done <- ok })

	if ok := <-done; !ok {
		if loadErr != nil {
			return loadErr
		}

		return errors.New("factory: provider load failed")
	}

	return nil
}

func loadSync(dec pinna.Decoder) error {
	var loadErr error

	done := make(chan bool, 1)

	dec.Load(func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
		loadErr = pinna.NewError(domain, code, nil)
	}, func(ok bool) {
		done <- ok
	})

	if ok := <-done; !ok {
		if loadErr != nil {
			return loadErr
		}

		return errors.New("factory: decoder load failed")
	}

	return nil
}

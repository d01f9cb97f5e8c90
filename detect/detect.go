// Package detect recognizes an audio container from its leading bytes.
// It backs factory's classify: caller-supplied MIME and path extension
// are tried first, and detect.Sniff runs only when both come up empty
// (spec section 6's "caller-supplied MIME else extension regex" rule,
// extended with a byte-content last resort for extensionless URLs).
package detect

import (
	"fmt"
	"io"
)

// Codec represents a recognized audio codec.
type Codec uint8

const (
	// Unknown indicates the file format was not recognized.
	Unknown Codec = iota
	// FLAC is the Free Lossless Audio Codec.
	FLAC
	// ALAC is the Apple Lossless Audio Codec (inside an M4A/MP4 container).
	ALAC
	// MP3 is MPEG-1/2 Audio Layer III.
	MP3
	// Vorbis is Ogg Vorbis.
	Vorbis
	// WAV is a RIFF/WAVE container.
	WAV
	// AAC is a raw ADTS AAC elementary stream.
	AAC
)

// String returns the human-readable name of the codec.
func (c Codec) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case FLAC:
		return "FLAC"
	case ALAC:
		return "ALAC"
	case MP3:
		return "MP3"
	case Vorbis:
		return "Vorbis"
	case WAV:
		return "WAV"
	case AAC:
		return "AAC"
	}

	return "unknown"
}

// headerSize is the minimum number of bytes needed to identify any supported codec.
// FLAC: 4 bytes at offset 0 ("fLaC").
// ALAC: 4 bytes at offset 4 ("ftyp" in an M4A/MP4 container).
// MP3:  3 bytes at offset 0 ("ID3") or 2-byte MPEG sync word (0xFF 0xE0 mask).
// OGG:  4 bytes at offset 0 ("OggS").
// WAV:  4 bytes at offset 0 ("RIFF") plus 4 bytes at offset 8 ("WAVE").
const (
	headerSize = 12

	// mpegSyncByte is the first byte of an MPEG audio frame sync word.
	mpegSyncByte = 0xFF
	// mpegSyncMask masks the upper 3 bits of the second byte in the sync word.
	mpegSyncMask = 0xE0

	// adtsSyncMask masks the upper 4 bits of the second byte of an ADTS
	// AAC frame header's 12-bit sync word (0xFFF), a strict subset of
	// mpegSyncMask's 11-bit MP3 sync word (0xFFE) — checked first so a
	// raw ADTS stream isn't misidentified as MP3.
	adtsSyncMask = 0xF0
)

// Identify reads the header from rs and returns the detected audio codec.
// The reader position is reset to the start before returning.
func Identify(reader io.ReadSeeker) (Codec, error) {
	var header [headerSize]byte

	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return Unknown, fmt.Errorf("reading header: %w", err)
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return Unknown, fmt.Errorf("seeking to start: %w", err)
	}

	return identify(header[:]), nil
}

// identify runs the same signature checks Identify does, over an
// already-read byte slice, so Sniff (which reads through a
// provider.DataProvider rather than an io.ReadSeeker) can share the
// logic.
func identify(header []byte) Codec {
	// FLAC: first four bytes are "fLaC".
	if len(header) >= 4 && string(header[:4]) == "fLaC" {
		return FLAC
	}

	// Ogg container (Vorbis): first four bytes are "OggS".
	if len(header) >= 4 && string(header[:4]) == "OggS" {
		return Vorbis
	}

	// RIFF/WAVE container.
	if len(header) >= 12 && string(header[:4]) == "RIFF" && string(header[8:12]) == "WAVE" {
		return WAV
	}

	// M4A/MP4 container (ALAC): bytes 4-7 are "ftyp".
	if len(header) >= 8 && string(header[4:8]) == "ftyp" {
		return ALAC
	}

	// MP3: ID3v2 tag header starts with "ID3".
	if len(header) >= 3 && string(header[:3]) == "ID3" {
		return MP3
	}

	// ADTS AAC: 12-bit frame sync word, checked before the looser MP3
	// mask below since every ADTS sync word also matches it.
	if len(header) >= 2 && header[0] == mpegSyncByte && header[1]&adtsSyncMask == adtsSyncMask {
		return AAC
	}

	// MP3: MPEG frame sync word (11 set bits).
	if len(header) >= 2 && header[0] == mpegSyncByte && header[1]&mpegSyncMask == mpegSyncMask {
		return MP3
	}

	return Unknown
}

// headerReader is the read/seek/tell subset of provider.DataProvider
// Sniff needs; declared locally so this package does not import
// provider (avoiding a dependency edge detect has no other reason to
// carry).
type headerReader interface {
	Read(buf []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
}

// Sniff reads up to headerSize bytes from r without consuming them
// (positions are restored via a Seek back to the caller-supplied
// origin) and returns the recognized Codec, or Unknown if none of the
// signatures match.
func Sniff(r headerReader) Codec {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return Unknown
	}

	defer func() { _, _ = r.Seek(pos, io.SeekStart) }()

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Unknown
	}

	header := make([]byte, headerSize)

	n, _ := io.ReadFull(r, header)

	return identify(header[:n])
}

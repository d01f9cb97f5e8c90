package aac

// SourceFormat tells the platform decoder what container/elementary
// stream shape the bytes it is handed actually have, so it can pick
// the matching AudioFileTypeID instead of guessing.
type SourceFormat int

const (
	// FormatADTS is a raw ADTS AAC elementary stream (bare .aac files).
	FormatADTS SourceFormat = iota
	// FormatMP3 is a raw MPEG audio elementary stream.
	FormatMP3
	// FormatM4A is an AAC-in-MP4/M4A container.
	FormatM4A
)

package factory

import "regexp"

// family names one of spec section 6's MIME families.
type family string

const (
	familyMP2TS family = "mp2ts"
	familyOgg   family = "ogg"
	familyWAV   family = "wav"
	familyFLAC  family = "flac"
	familyDASH  family = "dash/mp4"
	familyMP3   family = "mp3"
	familyMIDI  family = "midi"
	familySpeex family = "speex"
	familyAAC   family = "aac"
)

// mimeFamilies maps every MIME value spec section 6's table lists to its
// family.
var mimeFamilies = map[string]family{
	"mp2ts": familyMP2TS, "video/mp2ts": familyMP2TS, "audio/mp2ts": familyMP2TS,

	"ogg": familyOgg, "audio/ogg": familyOgg, "application/ogg": familyOgg,

	"audio/wav": familyWAV, "audio/x-wav": familyWAV, "audio/wave": familyWAV, "audio/x-pn-wave": familyWAV,

	"flac": familyFLAC, "audio/flac": familyFLAC,

	"dash/mp4": familyDASH,

	"audio/mpeg": familyMP3,

	"midi": familyMIDI,

	"audio/x-speex": familySpeex, "audio/speex": familySpeex,

	"audio/aac": familyAAC, "audio/aacp": familyAAC, "audio/x-aac": familyAAC,
}

// extensionRules is the "extension regexes used for inference" spec
// section 6 lists, tried in order when no caller-supplied MIME matches.
var extensionRules = []struct {
	re     *regexp.Regexp
	family family
}{
	{regexp.MustCompile(`(?i)\.(ogg|opus)$`), familyOgg},
	{regexp.MustCompile(`(?i)\.wav$`), familyWAV},
	{regexp.MustCompile(`(?i)\.flac$`), familyFLAC},
	{regexp.MustCompile(`(?i)\.spx$`), familySpeex},
	{regexp.MustCompile(`(?i)\.aac$`), familyAAC},
	{regexp.MustCompile(`(?i)\.mp4$`), familyDASH},
	{regexp.MustCompile(`^midi:`), familyMIDI},
}

// classify determines the effective MIME family for path: the
// caller-supplied mimeHint if it names a known family, else the first
// extension rule that matches path.
func classify(path, mimeHint string) family {
	if mimeHint != "" {
		if f, ok := mimeFamilies[mimeHint]; ok {
			return f
		}
	}

	for _, rule := range extensionRules {
		if rule.re.MatchString(path) {
			return rule.family
		}
	}

	return ""
}

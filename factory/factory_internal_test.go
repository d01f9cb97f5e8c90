package factory

import (
	"testing"

	"github.com/mycophonic/pinna/provider"
)

func TestClassifyByMimeHint(t *testing.T) {
	t.Parallel()

	if got := classify("whatever", "audio/flac"); got != familyFLAC {
		t.Errorf("classify() = %q, want %q", got, familyFLAC)
	}

	if got := classify("whatever", "audio/x-speex"); got != familySpeex {
		t.Errorf("classify() = %q, want %q", got, familySpeex)
	}

	if got := classify("whatever", "audio/aac"); got != familyAAC {
		t.Errorf("classify() = %q, want %q", got, familyAAC)
	}
}

func TestClassifyByExtension(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want family
	}{
		{"song.ogg", familyOgg},
		{"song.opus", familyOgg},
		{"song.wav", familyWAV},
		{"song.flac", familyFLAC},
		{"song.spx", familySpeex},
		{"song.aac", familyAAC},
		{"stream.mp4", familyDASH},
		{"midi:/a.mid:soundfont:/a.sf2", familyMIDI},
		{"song.unknownext", ""},
	}

	for _, tc := range cases {
		if got := classify(tc.path, ""); got != tc.want {
			t.Errorf("classify(%q, \"\") = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestClassifyMimeHintTakesPriorityOverExtension(t *testing.T) {
	t.Parallel()

	if got := classify("song.wav", "audio/flac"); got != familyFLAC {
		t.Errorf("classify() = %q, want %q (mime hint should win)", got, familyFLAC)
	}
}

func TestClassifyUnknownMimeFallsBackToExtension(t *testing.T) {
	t.Parallel()

	if got := classify("song.flac", "application/x-not-a-real-mime"); got != familyFLAC {
		t.Errorf("classify() = %q, want %q", got, familyFLAC)
	}
}

func TestIsSoundCloudPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{"https://soundcloud.com/artist/track", true},
		{"https://api.soundcloud.com/tracks/1", true},
		{"https://example.com/song.mp3", false},
		{"/local/path/song.mp3", false},
		{"not a url at all \x7f", false},
	}

	for _, tc := range cases {
		if got := isSoundCloudPath(tc.path); got != tc.want {
			t.Errorf("isSoundCloudPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestProbeDASH(t *testing.T) {
	t.Parallel()

	positive := append([]byte("xxxx"), []byte("ftypdash\x00")...)
	dp := &fakeProvider{data: positive}

	if !probeDASH(dp) {
		t.Error("probeDASH() = false for a matching signature, want true")
	}

	// probeDASH must restore the provider's original read position.
	if dp.pos != 0 {
		t.Errorf("provider position after probeDASH = %d, want 0", dp.pos)
	}
}

func TestProbeDASHNoMatch(t *testing.T) {
	t.Parallel()

	dp := &fakeProvider{data: append([]byte("xxxx"), []byte("ftypmp42\x00")...)}

	if probeDASH(dp) {
		t.Error("probeDASH() = true for a non-matching signature, want false")
	}
}

func TestProbeDASHTooShort(t *testing.T) {
	t.Parallel()

	dp := &fakeProvider{data: []byte("xxxx")}

	if probeDASH(dp) {
		t.Error("probeDASH() = true for a truncated buffer, want false")
	}
}

// fakeProvider is a minimal provider.DataProvider over a fixed byte
// slice, used to exercise probeDASH's position-preserving Seek/Read
// dance without a real file or HTTP round trip.
type fakeProvider struct {
	data []byte
	pos  int64
}

func (f *fakeProvider) Read(buf []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, errShortRead
	}

	n := copy(buf, f.data[f.pos:])
	f.pos += int64(n)

	return n, nil
}

func (f *fakeProvider) Seek(offset int64, whence provider.Whence) (int64, error) {
	switch whence {
	case provider.SeekSet:
		f.pos = offset
	case provider.SeekCurrent:
		f.pos += offset
	case provider.SeekEnd:
		f.pos = int64(len(f.data)) + offset
	}

	return f.pos, nil
}

func (f *fakeProvider) Tell() (int64, error) { return f.pos, nil }
func (f *fakeProvider) EOF() bool            { return f.pos >= int64(len(f.data)) }
func (f *fakeProvider) Size() int64          { return int64(len(f.data)) }
func (f *fakeProvider) Load(_ func(error), onDone func(bool)) { onDone(true) }
func (f *fakeProvider) Path() string { return "test" }
func (f *fakeProvider) Name() string { return "test" }

type shortReadError struct{}

func (*shortReadError) Error() string { return "short read" }

var errShortRead = &shortReadError{}

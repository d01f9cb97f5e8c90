package midi_test

import (
	"testing"

	"github.com/mycophonic/pinna/midi"
)

func TestSplitSyntheticPath(t *testing.T) {
	t.Parallel()

	midiPath, soundfontPath, ok := midi.SplitSyntheticPath("midi:/tmp/song.mid:soundfont:/tmp/bank.sf2")
	if !ok {
		t.Fatal("ok = false, want true")
	}

	if midiPath != "/tmp/song.mid" {
		t.Errorf("midiPath = %q, want %q", midiPath, "/tmp/song.mid")
	}

	if soundfontPath != "/tmp/bank.sf2" {
		t.Errorf("soundfontPath = %q, want %q", soundfontPath, "/tmp/bank.sf2")
	}
}

func TestSplitSyntheticPathNotMidi(t *testing.T) {
	t.Parallel()

	if _, _, ok := midi.SplitSyntheticPath("/tmp/song.mid"); ok {
		t.Fatal("ok = true for a non-midi: path, want false")
	}
}

func TestSplitSyntheticPathMissingSoundfontSeparator(t *testing.T) {
	t.Parallel()

	if _, _, ok := midi.SplitSyntheticPath("midi:/tmp/song.mid"); ok {
		t.Fatal("ok = true for a path with no :soundfont: separator, want false")
	}
}

func TestSplitSyntheticPathColonsInPaths(t *testing.T) {
	t.Parallel()

	// The separator search is a plain substring match, so the first
	// ":soundfont:" occurrence wins even if a path component happens to
	// contain a colon of its own.
	midiPath, soundfontPath, ok := midi.SplitSyntheticPath("midi:C:/songs/a.mid:soundfont:C:/banks/b.sf2")
	if !ok {
		t.Fatal("ok = false, want true")
	}

	if midiPath != "C:/songs/a.mid" {
		t.Errorf("midiPath = %q, want %q", midiPath, "C:/songs/a.mid")
	}

	if soundfontPath != "C:/banks/b.sf2" {
		t.Errorf("soundfontPath = %q, want %q", soundfontPath, "C:/banks/b.sf2")
	}
}

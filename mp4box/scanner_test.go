package mp4box_test

import (
	"encoding/binary"
	"testing"

	"github.com/mycophonic/pinna/mp4box"
	"github.com/mycophonic/pinna/provider"
)

// buildSidx returns a byte buffer containing a minimal 'sidx' box body
// laid out per ISO/IEC 14496-12's SegmentIndexBox (version 0, all
// 32-bit fields): version+flags(4), reference_ID(4), timescale(4),
// earliest_presentation_time(4), first_offset(4), reserved(2),
// reference_count(2), then that many 12-byte big-endian entries in the
// order parseSidxAt reads them: a 4-byte word it ignores, the 4-byte
// subsegment_duration, then the 4-byte referenced_size.
func buildSidx(prefix int, timescale uint32, entries []mp4box.SidxEntry) ([]byte, int) {
	buf := make([]byte, prefix)
	idx := len(buf)

	buf = append(buf, []byte("sidx")...)
	buf = append(buf, make([]byte, 4)...) // version/flags
	buf = append(buf, make([]byte, 4)...) // reference_ID

	ts := make([]byte, 4)
	binary.BigEndian.PutUint32(ts, timescale)
	buf = append(buf, ts...)

	buf = append(buf, make([]byte, 4)...) // earliest_presentation_time
	buf = append(buf, make([]byte, 4)...) // first_offset
	buf = append(buf, make([]byte, 2)...) // reserved

	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(entries)))
	buf = append(buf, count...)

	for _, e := range entries {
		entry := make([]byte, 12)
		binary.BigEndian.PutUint32(entry[4:8], e.SubsegmentDuration)
		binary.BigEndian.PutUint32(entry[8:12], e.ReferencedSize)
		buf = append(buf, entry...)
	}

	return buf, idx
}

func TestParseSidxUpfront(t *testing.T) {
	t.Parallel()

	entries := []mp4box.SidxEntry{
		{SubsegmentDuration: 1000, ReferencedSize: 500},
		{SubsegmentDuration: 1000, ReferencedSize: 600},
	}

	buf, _ := buildSidx(16, 90000, entries)

	fp := &seekableMemory{data: buf}

	sidx, err := mp4box.ParseSidxUpfront(fp, len(buf))
	if err != nil {
		t.Fatalf("ParseSidxUpfront: %v", err)
	}

	if sidx.Timescale != 90000 {
		t.Errorf("Timescale = %d, want 90000", sidx.Timescale)
	}

	if len(sidx.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(sidx.Entries))
	}

	if sidx.Entries[0].ReferencedSize != 500 || sidx.Entries[1].ReferencedSize != 600 {
		t.Errorf("Entries = %+v", sidx.Entries)
	}

	bounds := sidx.SegmentBoundaries()
	if len(bounds) != 3 {
		t.Fatalf("len(SegmentBoundaries) = %d, want 3", len(bounds))
	}

	if bounds[1]-bounds[0] != 500 || bounds[2]-bounds[1] != 600 {
		t.Errorf("SegmentBoundaries = %v", bounds)
	}

	if sidx.TotalDuration() != 2000 {
		t.Errorf("TotalDuration() = %d, want 2000", sidx.TotalDuration())
	}
}

func TestParseSidxUpfrontNoSidx(t *testing.T) {
	t.Parallel()

	fp := &seekableMemory{data: []byte("no box signature here at all")}

	if _, err := mp4box.ParseSidxUpfront(fp, 64); err != mp4box.ErrNoSidx {
		t.Fatalf("ParseSidxUpfront error = %v, want ErrNoSidx", err)
	}
}

func TestParseSidxUpfrontBufferShort(t *testing.T) {
	t.Parallel()

	buf, _ := buildSidx(0, 44100, nil)
	truncated := buf[:len(buf)-4] // cut into the entries/count region

	fp := &seekableMemory{data: truncated}

	if _, err := mp4box.ParseSidxUpfront(fp, len(truncated)); err != mp4box.ErrBufferShort {
		t.Fatalf("ParseSidxUpfront error = %v, want ErrBufferShort", err)
	}
}

func TestScannerTenc(t *testing.T) {
	t.Parallel()

	buf := []byte("junkjunk")
	buf = append(buf, []byte("tenc")...)
	buf = append(buf, make([]byte, 8)...) // version/flags/reserved/default_isProtected/default_Per_Sample_IV_Size

	kid := []byte("0123456789abcdef")
	buf = append(buf, kid...)

	fp := &seekableMemory{data: buf}
	scanner := mp4box.NewScanner(fp)

	if err := scanner.OnRead(buf, 0); err != nil {
		t.Fatalf("OnRead: %v", err)
	}

	got, ok := scanner.KeyID()
	if !ok {
		t.Fatal("KeyID() ok = false, want true")
	}

	if string(got[:]) != string(kid) {
		t.Errorf("KeyID = %q, want %q", got[:], kid)
	}
}

func TestScannerSidxThenMoofSenc(t *testing.T) {
	t.Parallel()

	entries := []mp4box.SidxEntry{
		{SubsegmentDuration: 1000, ReferencedSize: 100},
	}

	sidxBuf, _ := buildSidx(0, 44100, entries)
	baseOffset := int64(len(sidxBuf))

	moof := buildMoofWithSencSingleIV(0xAABBCCDDEEFF0011)

	full := append(append([]byte(nil), sidxBuf...), moof...)

	fp := &seekableMemory{data: full}
	scanner := mp4box.NewScanner(fp)

	if err := scanner.OnRead(full, 0); err != nil {
		t.Fatalf("OnRead: %v", err)
	}

	sidx, ok := scanner.Sidx()
	if !ok {
		t.Fatal("Sidx() ok = false")
	}

	if sidx.BaseOffset != baseOffset {
		t.Errorf("BaseOffset = %d, want %d", sidx.BaseOffset, baseOffset)
	}

	iv, ok := scanner.IV(0)
	if !ok {
		t.Fatal("IV(0) ok = false, want true")
	}

	want := uint64(0xAABBCCDDEEFF0011)
	got := binary.BigEndian.Uint64(iv[:8])

	if got != want {
		t.Errorf("IV[0..8] = %#x, want %#x", got, want)
	}

	for _, b := range iv[8:] {
		if b != 0 {
			t.Errorf("IV not zero-padded past byte 8: %v", iv)

			break
		}
	}
}

// buildMoofWithSencSingleIV builds a minimal 'moof' containing one 'trun'
// (count=1) and one 'senc' carrying a single 64-bit IV, at the exact byte
// offsets scanOneMoof expects.
func buildMoofWithSencSingleIV(iv uint64) []byte {
	buf := []byte("moof")
	buf = append(buf, make([]byte, 4)...) // moof padding before trun

	buf = append(buf, []byte("trun")...)
	buf = append(buf, make([]byte, 6)...) // version/flags/first_sample_flags-ish filler

	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, 1)
	buf = append(buf, count...)

	buf = append(buf, []byte("senc")...)
	buf = append(buf, make([]byte, 4)...) // version/flags

	ivCount := make([]byte, 4)
	binary.BigEndian.PutUint32(ivCount, 1)
	buf = append(buf, ivCount...)

	ivBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(ivBytes, iv)
	buf = append(buf, ivBytes...)

	return buf
}

// seekableMemory is a minimal provider.DataProvider over a fixed byte
// slice, standing in for a real file/HTTP provider in scanner tests that
// need Seek/Tell to snapshot-and-restore correctly.
type seekableMemory struct {
	data []byte
	pos  int64
}

func (s *seekableMemory) Read(buf []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, errEOF
	}

	n := copy(buf, s.data[s.pos:])
	s.pos += int64(n)

	return n, nil
}

func (s *seekableMemory) Seek(offset int64, whence provider.Whence) (int64, error) {
	switch whence {
	case provider.SeekSet:
		s.pos = offset
	case provider.SeekCurrent:
		s.pos += offset
	case provider.SeekEnd:
		s.pos = int64(len(s.data)) + offset
	}

	return s.pos, nil
}

func (s *seekableMemory) Tell() (int64, error) { return s.pos, nil }
func (s *seekableMemory) EOF() bool            { return s.pos >= int64(len(s.data)) }
func (s *seekableMemory) Size() int64          { return int64(len(s.data)) }
func (s *seekableMemory) Load(_ func(error), onDone func(bool)) { onDone(true) }
func (s *seekableMemory) Path() string { return "test" }
func (s *seekableMemory) Name() string { return "test" }

var errEOF = &eofError{}

type eofError struct{}

func (*eofError) Error() string { return "EOF" }

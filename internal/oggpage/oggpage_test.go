package oggpage_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/mycophonic/pinna/internal/oggpage"
)

// buildPage hand-constructs a single RFC 3533 Ogg page. The checksum and
// version fields are left zero since Reader never validates them.
func buildPage(serial uint32, granule int64, headerType byte, segTable, body []byte) []byte {
	page := make([]byte, 27+len(segTable)+len(body))

	copy(page[0:4], "OggS")
	page[4] = 0 // version
	page[5] = headerType
	binary.LittleEndian.PutUint64(page[6:14], uint64(granule))
	binary.LittleEndian.PutUint32(page[14:18], serial)
	// bytes 18:22 page sequence number, 22:26 checksum: left zero, unchecked.
	page[26] = byte(len(segTable))

	copy(page[27:], segTable)
	copy(page[27+len(segTable):], body)

	return page
}

func TestReadPacketSinglePage(t *testing.T) {
	t.Parallel()

	body := []byte("hello world")
	stream := buildPage(1, 0, 0x04, []byte{byte(len(body))}, body)

	r := oggpage.NewReader(bytes.NewReader(stream))

	packet, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}

	if !bytes.Equal(packet, body) {
		t.Errorf("packet = %q, want %q", packet, body)
	}

	if _, err := r.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadPacket error = %v, want io.EOF", err)
	}
}

func TestReadPacketSpanningPages(t *testing.T) {
	t.Parallel()

	packet := bytes.Repeat([]byte{0xAB}, 300)

	page1 := buildPage(7, 0, 0, []byte{255}, packet[:255])
	page2 := buildPage(7, 300, 0x04, []byte{45}, packet[255:])

	stream := append(page1, page2...)
	r := oggpage.NewReader(bytes.NewReader(stream))

	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}

	if !bytes.Equal(got, packet) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(packet))
	}

	if r.LastGranule() != 300 {
		t.Errorf("LastGranule() = %d, want 300", r.LastGranule())
	}

	if _, err := r.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadPacket error = %v, want io.EOF", err)
	}
}

func TestReadPacketSkipsForeignSerial(t *testing.T) {
	t.Parallel()

	page1 := buildPage(100, 0, 0, []byte{3}, []byte("AAA"))
	foreign := buildPage(999, 0, 0, []byte{3}, []byte("ZZZ"))
	page3 := buildPage(100, 0, 0x04, []byte{3}, []byte("BBB"))

	stream := append(append(page1, foreign...), page3...)
	r := oggpage.NewReader(bytes.NewReader(stream))

	first, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket (first): %v", err)
	}

	if !bytes.Equal(first, []byte("AAA")) {
		t.Errorf("first packet = %q, want %q", first, "AAA")
	}

	second, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket (second): %v", err)
	}

	if !bytes.Equal(second, []byte("BBB")) {
		t.Errorf("second packet = %q, want %q (foreign-serial page should be skipped)", second, "BBB")
	}
}

func TestReadPacketBadCapture(t *testing.T) {
	t.Parallel()

	stream := make([]byte, 27)
	copy(stream, "NOPE")

	r := oggpage.NewReader(bytes.NewReader(stream))

	if _, err := r.ReadPacket(); !errors.Is(err, oggpage.ErrBadCapture) {
		t.Errorf("ReadPacket error = %v, want ErrBadCapture", err)
	}
}

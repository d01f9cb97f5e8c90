package transmux

import (
	"bytes"
	"fmt"
	"io"

	"github.com/abema/go-mp4"
)

// DefaultTransmuxer is a minimal fMP4-to-raw-AAC-ES Transmuxer: it walks
// each segment's moof/traf/trun sample table to recover per-sample AAC
// access units from the segment's mdat payload and re-wraps each one
// with a 7-byte ADTS header, rather than muxing a full MPEG-2 transport
// stream. It exists to exercise the segment-driven pull spec section 4.D
// describes without depending on a full TS muxer/demuxer pair; a
// production deployment supplies its own Transmuxer over the same
// interface.
type DefaultTransmuxer struct {
	// SampleRateIndex is the ADTS sampling_frequency_index (e.g. 4 for
	// 44100 Hz, 3 for 48000 Hz — see ISO/IEC 13818-7 Table 35).
	SampleRateIndex int

	// ChannelConfig is the ADTS channel_configuration (1 mono, 2
	// stereo, ...).
	ChannelConfig int
}

// NewDefaultTransmuxer creates a DefaultTransmuxer producing ADTS
// headers for the given sample rate index and channel configuration.
func NewDefaultTransmuxer(sampleRateIndex, channelConfig int) *DefaultTransmuxer {
	return &DefaultTransmuxer{SampleRateIndex: sampleRateIndex, ChannelConfig: channelConfig}
}

// Transmux extracts each AAC access unit named by segment's trun sample
// table out of its mdat payload and writes it to out as an ADTS frame.
func (t *DefaultTransmuxer) Transmux(segment []byte, out io.Writer) error {
	sampleSizes, err := trunSampleSizes(segment)
	if err != nil {
		return fmt.Errorf("transmux: reading trun: %w", err)
	}

	data, err := mdatPayload(segment)
	if err != nil {
		return fmt.Errorf("transmux: reading mdat: %w", err)
	}

	offset := 0

	for _, size := range sampleSizes {
		if offset+size > len(data) {
			return fmt.Errorf("transmux: trun sample table overruns mdat payload")
		}

		header := adtsHeader(size, t.SampleRateIndex, t.ChannelConfig)

		if _, err := out.Write(header[:]); err != nil {
			return fmt.Errorf("transmux: writing adts header: %w", err)
		}

		if _, err := out.Write(data[offset : offset+size]); err != nil {
			return fmt.Errorf("transmux: writing sample: %w", err)
		}

		offset += size
	}

	return nil
}

func trunSampleSizes(segment []byte) ([]int, error) {
	boxes, err := mp4.ExtractBoxWithPayload(bytes.NewReader(segment), nil,
		mp4.BoxPath{mp4.BoxTypeMoof(), mp4.BoxTypeTraf(), mp4.BoxTypeTrun()})
	if err != nil {
		return nil, err
	}

	if len(boxes) == 0 {
		return nil, fmt.Errorf("no trun box found")
	}

	trun, ok := boxes[0].Payload.(*mp4.Trun)
	if !ok {
		return nil, fmt.Errorf("unexpected trun payload type")
	}

	sizes := make([]int, 0, len(trun.Entries))
	for _, e := range trun.Entries {
		sizes = append(sizes, int(e.SampleSize))
	}

	return sizes, nil
}

func mdatPayload(segment []byte) ([]byte, error) {
	boxes, err := mp4.ExtractBoxWithPayload(bytes.NewReader(segment), nil, mp4.BoxPath{mp4.BoxTypeMdat()})
	if err != nil {
		return nil, err
	}

	if len(boxes) == 0 {
		return nil, fmt.Errorf("no mdat box found")
	}

	mdat, ok := boxes[0].Payload.(*mp4.Mdat)
	if !ok {
		return nil, fmt.Errorf("unexpected mdat payload type")
	}

	return mdat.Data, nil
}

// adtsHeader builds a 7-byte ADTS header (AAC-LC, no CRC) framing an
// access unit of frameBodyLen bytes.
func adtsHeader(frameBodyLen, sampleRateIndex, channelConfig int) [7]byte {
	const profileAACLC = 1 // audioObjectType(2, LC) - 1

	frameLength := frameBodyLen + 7

	var h [7]byte

	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, no CRC
	h[2] = byte(profileAACLC<<6 | (sampleRateIndex&0xF)<<2 | (channelConfig&4)>>2)
	h[3] = byte((channelConfig&3)<<6 | (frameLength>>11)&0x3)
	h[4] = byte((frameLength >> 3) & 0xFF)
	h[5] = byte((frameLength&0x7)<<5 | 0x1F)
	h[6] = 0xFC

	return h
}

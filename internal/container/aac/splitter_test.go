package aac

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// encodeAdtsFrame builds one AAC-LC, 44100Hz, stereo, CRC-absent ADTS frame
// wrapping body.
func encodeAdtsFrame(body []byte) []byte {
	frameLen := 7 + len(body)
	hdr := make([]byte, 7)
	hdr[0] = 0xFF
	hdr[1] = 0xF1 // MPEG-4, layer 00, protection_absent=1
	profile := uint8(1) // AAC-LC -> AOT 2 -> profile field = AOT-1 = 1
	sampleRateIdx := uint8(4) // 44100Hz
	channelCfg := uint8(2)    // stereo
	hdr[2] = profile<<6 | sampleRateIdx<<2 | (channelCfg>>2)&0x01
	hdr[3] = (channelCfg&0x03)<<6 | byte(frameLen>>11)&0x03
	hdr[4] = byte(frameLen >> 3)
	hdr[5] = byte(frameLen<<5) | 0x1F
	hdr[6] = 0xFC // buffer fullness low bits + 1 raw data block
	return append(hdr, body...)
}

func TestParseAdtsHeader(t *testing.T) {
	frame := encodeAdtsFrame(make([]byte, 50))
	ah, err := ParseAdtsHeader(frame[:7])
	if err != nil {
		t.Fatalf("ParseAdtsHeader: %v", err)
	}
	if ah.SampleRate != 44100 {
		t.Fatalf("expected 44100Hz, got %d", ah.SampleRate)
	}
	if ah.FrameLen != 57 {
		t.Fatalf("expected frame length 57, got %d", ah.FrameLen)
	}
	if ah.SamplesPerFrame != 1024 {
		t.Fatalf("expected 1024 samples/frame, got %d", ah.SamplesPerFrame)
	}
}

func TestSplitterEmitsFramesWithIncreasingTimestamps(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeAdtsFrame(make([]byte, 50)))
	stream.Write(encodeAdtsFrame(make([]byte, 50)))

	s := NewSplitter()
	r := bufio.NewReader(&stream)

	t1, err := s.Next(r)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	t2, err := s.Next(r)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	mt1, mt2 := t1.(*tag.MediaTag), t2.(*tag.MediaTag)
	if mt1.TimestampMs() != 0 {
		t.Fatalf("expected first frame at ts=0, got %d", mt1.TimestampMs())
	}
	if mt2.TimestampMs() <= mt1.TimestampMs() {
		t.Fatalf("expected increasing timestamps: %d, %d", mt1.TimestampMs(), mt2.TimestampMs())
	}
	if mt1.Attributes()&tag.AttrAudio == 0 {
		t.Fatalf("expected AttrAudio set")
	}
	if len(mt1.Payload.Bytes()) != 57 {
		t.Fatalf("expected payload length 57, got %d", len(mt1.Payload.Bytes()))
	}
}

package flv

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/alxayo/go-streamcore/internal/rtmp/amf"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// encodeOnMetaDataWithCuePoint builds the AMF body of an onMetaData tag
// carrying a single nested cue point at 1.5s / byte offset 42.
func encodeOnMetaDataWithCuePoint(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := amf.EncodeString(&buf, "onMetaData"); err != nil {
		t.Fatalf("encode name: %v", err)
	}
	values := map[string]interface{}{
		"duration": 10.0,
		"cuePoints": map[string]interface{}{
			"0": map[string]interface{}{
				"time": 1.5,
				"parameters": map[string]interface{}{
					"pos": 42.0,
				},
			},
		},
	}
	if err := amf.EncodeMixedArray(&buf, values); err != nil {
		t.Fatalf("encode values: %v", err)
	}
	return buf.Bytes()
}

// encodeRawTag builds the raw bytes of one "previous size + tag header +
// body" unit, for feeding directly into a Splitter in tests.
func encodeRawTag(frameType FrameType, ts int64, body []byte, prevSize uint32) []byte {
	var buf bytes.Buffer
	var prevBuf [4]byte
	prevBuf[0], prevBuf[1], prevBuf[2], prevBuf[3] = byte(prevSize>>24), byte(prevSize>>16), byte(prevSize>>8), byte(prevSize)
	buf.Write(prevBuf[:])
	buf.WriteByte(byte(frameType))
	size := uint32(len(body))
	buf.WriteByte(byte(size >> 16))
	buf.WriteByte(byte(size >> 8))
	buf.WriteByte(byte(size))
	buf.WriteByte(byte(ts >> 16))
	buf.WriteByte(byte(ts >> 8))
	buf.WriteByte(byte(ts))
	buf.WriteByte(byte(ts >> 24))
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.Write(body)
	return buf.Bytes()
}

func TestSplitterDecodesAudioTag(t *testing.T) {
	var stream bytes.Buffer
	if err := WriteHeader(&stream, true, false); err != nil {
		t.Fatalf("write header: %v", err)
	}
	stream.Write(encodeRawTag(FrameTypeAudio, 100, []byte{0xAF, 0x01, 0x02, 0x03}, 0))

	s := NewSplitter()
	r := bufio.NewReader(&stream)

	var gotAudio bool
	for i := 0; i < 10; i++ {
		tg, err := s.Next(r)
		if err != nil {
			break
		}
		if mt, ok := tg.(*tag.MediaTag); ok && mt.Kind() == tag.KindFLV && mt.FLV != nil && mt.FLV.FrameType == tag.FLVFrameAudio {
			gotAudio = true
			if mt.Attributes()&tag.AttrAudio == 0 {
				t.Fatalf("expected AttrAudio set on decoded audio tag")
			}
		}
	}
	if !gotAudio {
		t.Fatalf("expected an audio tag to be emitted")
	}
}

func TestSplitterRetrievesCuePoints(t *testing.T) {
	metaBody := encodeOnMetaDataWithCuePoint(t)
	var stream bytes.Buffer
	stream.Write(encodeRawTag(FrameTypeMetadata, 0, metaBody, 0))
	stream.Write(encodeRawTag(FrameTypeVideo, 0, []byte{0x17, 0x01, 0, 0, 0}, 0))
	stream.Write(encodeRawTag(FrameTypeAudio, 0, []byte{0xAF, 0x01}, 0))

	s := NewSplitter()
	r := bufio.NewReader(&stream)

	var sawCuePoint bool
	for i := 0; i < 20; i++ {
		tg, err := s.Next(r)
		if err != nil {
			break
		}
		if cp, ok := tg.(*tag.CuePointTag); ok {
			sawCuePoint = true
			if len(cp.Points) != 1 || cp.Points[0].TimeMs != 1500 || cp.Points[0].Pos != 42 {
				t.Fatalf("unexpected cue points: %+v", cp.Points)
			}
		}
	}
	if !sawCuePoint {
		t.Fatalf("expected a CuePointTag to be emitted ahead of the metadata tag")
	}
}

func TestSerializerRoundTripsAudioTag(t *testing.T) {
	payload := tag.NewPayload([]byte{0xAF, 0x01, 0x02})
	mt := tag.NewMediaTag(tag.KindFLV, tag.AttrAudio, tag.FlavourAll, 42, payload)
	mt.FLV = &tag.FLVMeta{FrameType: tag.FLVFrameAudio}

	var out bytes.Buffer
	ser := &Serializer{WriteHeader: true, HasAudio: true}
	if err := ser.Write(&out, mt); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(&out)
	hdr, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("read header back: %v", err)
	}
	if !hdr.HasAudio {
		t.Fatalf("expected HasAudio true")
	}

	s := NewSplitter()
	s.bootstrapping = false // serializer output has no bootstrap framing to skip
	tg, err := s.Next(r)
	if err != nil {
		t.Fatalf("re-split: %v", err)
	}
	got, ok := tg.(*tag.MediaTag)
	if !ok || got.Kind() != tag.KindFLV || got.TimestampMs() != 42 {
		t.Fatalf("unexpected round-tripped tag: %#v", tg)
	}
	if !bytes.Equal(got.Payload.Bytes(), payload.Bytes()) {
		t.Fatalf("payload mismatch: got %x want %x", got.Payload.Bytes(), payload.Bytes())
	}
}

package rtp

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Marker:         true,
		PayloadType:    PayloadTypeDynamicH264,
		SequenceNumber: 0xbeef,
		Timestamp:      0x01020304,
		SSRC:           ssrcVideo,
	}
	buf := h.Encode(nil)
	if len(buf) != headerSize {
		t.Fatalf("expected %d bytes, got %d", headerSize, len(buf))
	}

	got, n, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if n != headerSize {
		t.Fatalf("expected offset %d, got %d", headerSize, n)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, _, err := DecodeHeader(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for short buffer")
	}
}

func TestDecodeHeaderRejectsWrongVersion(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[0] = 0x40 // version 1
	if _, _, err := DecodeHeader(buf); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestHeaderMarkerBit(t *testing.T) {
	h := Header{Marker: false, PayloadType: PayloadTypeMPA}
	buf := h.Encode(nil)
	if buf[1]&0x80 != 0 {
		t.Fatalf("expected marker bit clear")
	}
	h.Marker = true
	buf = h.Encode(nil)
	if buf[1]&0x80 == 0 {
		t.Fatalf("expected marker bit set")
	}
}

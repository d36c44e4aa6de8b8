package rtp

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed 12-byte RTP header (RFC 3550 §5.1); this engine
// never sets CSRC or the extension bit, so no variable-length parts follow.
const headerSize = 12

// Header is the subset of RFC 3550's fixed RTP header fields this engine
// populates: version is always 2, padding/extension/CSRC count are always
// zero.
type Header struct {
	Marker         bool
	PayloadType    PayloadType
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Encode appends the 12-byte wire header to dst and returns the result.
func (h Header) Encode(dst []byte) []byte {
	var buf [headerSize]byte
	buf[0] = 0x80 // version 2, no padding, no extension, CSRC count 0
	buf[1] = byte(h.PayloadType) & 0x7f
	if h.Marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return append(dst, buf[:]...)
}

// DecodeHeader parses the fixed 12-byte header from the front of buf,
// skips any CSRC list and header extension, and returns the payload offset.
func DecodeHeader(buf []byte) (Header, int, error) {
	if len(buf) < headerSize {
		return Header{}, 0, fmt.Errorf("rtp: packet too short for header: %d bytes", len(buf))
	}
	version := buf[0] >> 6
	if version != 2 {
		return Header{}, 0, fmt.Errorf("rtp: unsupported version %d", version)
	}
	csrcCount := int(buf[0] & 0x0f)
	extension := buf[0]&0x10 != 0
	offset := headerSize + csrcCount*4
	if extension {
		if len(buf) < offset+4 {
			return Header{}, 0, fmt.Errorf("rtp: truncated extension header")
		}
		extLenWords := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		offset += 4 + extLenWords*4
	}
	if len(buf) < offset {
		return Header{}, 0, fmt.Errorf("rtp: packet shorter than declared header")
	}
	h := Header{
		Marker:         buf[1]&0x80 != 0,
		PayloadType:    PayloadType(buf[1] & 0x7f),
		SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
		Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
		SSRC:           binary.BigEndian.Uint32(buf[8:12]),
	}
	return h, offset, nil
}

// Package f4v implements an ISO-BMFF (F4V/MP4) reader: recursive atom
// parsing, a MOOV-driven frame index, and the reorder buffer needed because
// MP4 stores samples in offset order but a live pipeline wants them in
// timestamp order. The decoder is hand-written against the ISO-BMFF box
// layout rather than wrapping an external demuxer.
package f4v

import (
	"encoding/binary"
	"fmt"
	"io"
)

// boxHeader is the common 8 (or 16, for 64-bit sizes) byte ISO-BMFF box
// header: a big-endian size followed by a 4-character type code.
type boxHeader struct {
	Size       uint64 // whole box size, including the header itself
	Type       string
	HeaderSize int
}

// readBoxHeader reads one box header from r.
func readBoxHeader(r io.Reader) (boxHeader, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return boxHeader{}, err
	}
	size := uint64(binary.BigEndian.Uint32(buf[0:4]))
	typ := string(buf[4:8])
	headerSize := 8

	switch size {
	case 0:
		return boxHeader{}, fmt.Errorf("f4v: box %q extends to EOF (unsupported)", typ)
	case 1:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return boxHeader{}, err
		}
		size = binary.BigEndian.Uint64(ext[:])
		headerSize += 8
	}
	if size < uint64(headerSize) {
		return boxHeader{}, fmt.Errorf("f4v: box %q has impossible size %d", typ, size)
	}
	return boxHeader{Size: size, Type: typ, HeaderSize: headerSize}, nil
}

// readBox reads one full box (header + payload) from r.
func readBox(r io.Reader) (typ string, payload []byte, err error) {
	hdr, err := readBoxHeader(r)
	if err != nil {
		return "", nil, err
	}
	payloadSize := hdr.Size - uint64(hdr.HeaderSize)
	payload = make([]byte, payloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, fmt.Errorf("f4v: read %q payload: %w", hdr.Type, err)
	}
	return hdr.Type, payload, nil
}

// isContainerAtom reports whether a box type's payload is itself a sequence
// of child boxes (vs. opaque leaf data).
func isContainerAtom(typ string) bool {
	switch typ {
	case "moov", "trak", "mdia", "minf", "stbl", "edts", "dinf", "udta":
		return true
	}
	return false
}

// versionFlags reads the 1-byte version + 3-byte flags header shared by
// every "full box" (mvhd, tkhd, stts, stsc, stsz, stco, co64, stss, ctts).
func versionFlags(b []byte) (version uint8, flags uint32, rest []byte) {
	if len(b) < 4 {
		return 0, 0, nil
	}
	version = b[0]
	flags = uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return version, flags, b[4:]
}

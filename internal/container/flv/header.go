package flv

import (
	"encoding/binary"
	"fmt"
	"io"

	streamerrors "github.com/alxayo/go-streamcore/internal/errors"
)

// Header is the 9-byte FLV file header.
type Header struct {
	HasAudio bool
	HasVideo bool
}

// audioVideoFlags bit layout: bit2 = audio present, bit0 = video present.
const (
	flagAudioPresent = 0x04
	flagVideoPresent = 0x01
)

// ReadHeader reads the standard 9-byte "FLV\x01" header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("flv: read header: %w", err)
	}
	if buf[0] != 'F' || buf[1] != 'L' || buf[2] != 'V' {
		return Header{}, streamerrors.NewFormatError("flv.read_header", fmt.Errorf("bad signature %q", buf[0:3]))
	}
	flags := buf[4]
	return Header{
		HasAudio: flags&flagAudioPresent != 0,
		HasVideo: flags&flagVideoPresent != 0,
	}, nil
}

// WriteHeader writes the standard 9-byte FLV header. The 4-byte
// previous-tag-size field that follows it belongs to the first tag's own
// framing and is written by Serializer, not here.
func WriteHeader(w io.Writer, hasAudio, hasVideo bool) error {
	var buf [HeaderSize]byte
	buf[0], buf[1], buf[2] = 'F', 'L', 'V'
	buf[3] = 1 // version
	var flags byte
	if hasAudio {
		flags |= flagAudioPresent
	}
	if hasVideo {
		flags |= flagVideoPresent
	}
	buf[4] = flags
	binary.BigEndian.PutUint32(buf[5:9], HeaderSize)
	_, err := w.Write(buf[:])
	return err
}

// looksLikeHeader reports whether the 4 bytes peeked at a stream position
// that could be either a "previous tag size" field or a disguised FLV
// header actually encode the header's magic.
func looksLikeHeader(peeked uint32) bool {
	return peeked&headerMask == headerMark
}

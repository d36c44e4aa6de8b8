// Package raw wraps arbitrary byte chunks in tag.MediaTag (KindRAW) without
// any parsing — a passthrough container alongside FLV/F4V/MP3/AAC/MPEG-TS,
// used when the source's bytes are already in the wire format a downstream
// serializer expects (e.g. relaying an upstream MPEG-TS byte stream
// verbatim).
package raw

import (
	"bufio"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// Splitter reads fixed-size chunks from a stream and emits each as one
// tag.MediaTag, with caller-supplied timestamps (RAW tags carry no codec
// framing to derive a timestamp from).
type Splitter struct {
	ChunkSize int
	ts        int64
	tsStepMs  int64
}

// NewSplitter returns a Splitter reading chunkSize-byte chunks, timestamping
// each tsStepMs after the previous one.
func NewSplitter(chunkSize int, tsStepMs int64) *Splitter {
	return &Splitter{ChunkSize: chunkSize, tsStepMs: tsStepMs}
}

func (s *Splitter) Next(r *bufio.Reader) (tag.Tag, error) {
	body := make([]byte, s.ChunkSize)
	n, err := io.ReadFull(r, body)
	if err != nil {
		if err == io.ErrUnexpectedEOF && n > 0 {
			body = body[:n]
		} else {
			return nil, err
		}
	}

	mt := tag.NewMediaTag(tag.KindRAW, 0, tag.FlavourAll, s.ts, tag.NewPayload(body))
	s.ts += s.tsStepMs
	return mt, nil
}

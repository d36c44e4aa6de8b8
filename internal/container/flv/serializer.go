package flv

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// Serializer re-encodes tag.Tag values produced by (or compatible with) a
// Splitter back into an FLV byte stream.
type Serializer struct {
	WriteHeader bool
	HasAudio    bool
	HasVideo    bool

	previousTagSize uint32
	initialized     bool
}

// Write appends t's encoded bytes to w. Non-FLV tag kinds (BOS/EOS/
// MediaInfo/...) are silently skipped, matching SerializeInternal's "return
// false, try the next serializer" contract reduced to a single container.
func (s *Serializer) Write(w io.Writer, t tag.Tag) error {
	if !s.initialized {
		s.initialized = true
		if s.WriteHeader {
			if err := WriteHeader(w, s.HasAudio, s.HasVideo); err != nil {
				return err
			}
			s.previousTagSize = 0
		}
	}

	mt, ok := t.(*tag.MediaTag)
	if !ok || mt.Kind() != tag.KindFLV || mt.FLV == nil {
		return nil
	}
	return s.writeTag(w, mt)
}

func (s *Serializer) writeTag(w io.Writer, mt *tag.MediaTag) error {
	body := mt.Payload.Bytes()
	frameType := frameTypeOf(mt.FLV)

	var prevBuf [4]byte
	binary.BigEndian.PutUint32(prevBuf[:], s.previousTagSize)
	if _, err := w.Write(prevBuf[:]); err != nil {
		return fmt.Errorf("flv: write previous-tag-size: %w", err)
	}

	var head [11]byte
	head[0] = byte(frameType)
	size := uint32(len(body))
	head[1], head[2], head[3] = byte(size>>16), byte(size>>8), byte(size)
	ts := mt.TimestampMs()
	head[4], head[5], head[6] = byte(ts>>16), byte(ts>>8), byte(ts)
	head[7] = byte(ts >> 24)
	// stream id is always 0 (head[8:11] left zero)
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("flv: write tag header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("flv: write tag body: %w", err)
	}

	s.previousTagSize = uint32(len(head) + len(body))
	return nil
}

func frameTypeOf(meta *tag.FLVMeta) FrameType {
	switch meta.FrameType {
	case tag.FLVFrameAudio:
		return FrameTypeAudio
	case tag.FLVFrameVideo:
		return FrameTypeVideo
	default:
		return FrameTypeMetadata
	}
}

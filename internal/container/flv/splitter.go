package flv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// pendingTag is one queued output paired with the timestamp it should carry
// once bootstrapping ends.
type pendingTag struct {
	t  tag.Tag
	ts int64
}

// Splitter turns a raw FLV byte stream into a sequence of tag.Tag values.
// It buffers the leading tags of a stream ("bootstrapping") until it has
// seen enough to extract a MediaInfo descriptor, then replays them followed
// by a BOS marker.
//
// A Splitter is not safe for concurrent use.
type Splitter struct {
	pending []pendingTag

	bootstrapping    bool
	firstTimestampMs int64

	hasAudio, hasVideo bool
	firstAudio         *tag.FLVMeta
	firstAudioBody     []byte
	firstVideo         *tag.FLVMeta
	firstVideoBody     []byte
	firstMetadata      map[string]interface{}
	mediaInfoExtracted bool
}

// NewSplitter returns a Splitter ready to read from the start of an FLV
// stream (including its optional file header).
func NewSplitter() *Splitter {
	return &Splitter{bootstrapping: true, firstTimestampMs: -1}
}

// Next reads and returns the next output tag. It returns io.EOF once r is
// exhausted and every buffered tag has been drained.
func (s *Splitter) Next(r *bufio.Reader) (tag.Tag, error) {
	for {
		if len(s.pending) > 0 && !s.bootstrapping {
			p := s.pending[0]
			s.pending = s.pending[1:]
			return p.t.WithTimestamp(p.ts), nil
		}

		peeked, err := r.Peek(4)
		if err == io.EOF || (err != nil && len(peeked) < 4) {
			if s.bootstrapping {
				s.endBootstrapping()
				continue
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("flv: peek: %w", err)
		}

		if looksLikeHeader(binary.BigEndian.Uint32(peeked)) {
			hdr, err := ReadHeader(r)
			if err != nil {
				return nil, err
			}
			s.hasAudio, s.hasVideo = hdr.HasAudio, hdr.HasVideo
			ht := tag.NewMediaTag(tag.KindFLVHeader, 0, tag.FlavourAll, 0, nil)
			if s.bootstrapping {
				s.pending = append(s.pending, pendingTag{t: ht, ts: 0})
				continue
			}
			return ht, nil
		}

		flvTag, err := s.decodeTag(r)
		if err == io.EOF {
			if s.bootstrapping {
				s.endBootstrapping()
				continue
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		if s.firstTimestampMs == -1 {
			s.firstTimestampMs = flvTag.TimestampMs()
		}

		if !s.mediaInfoExtracted {
			s.trackMediaInfoCandidate(flvTag)
			if s.firstMetadata != nil &&
				(!s.hasAudio || s.firstAudio != nil) &&
				(!s.hasVideo || s.firstVideo != nil) {
				info := extractMediaInfo(s.firstMetadata, s.firstAudio, s.firstVideo, s.firstAudioBody, s.firstVideoBody)
				s.pending = append(s.pending, pendingTag{
					t:  tag.NewMediaInfoTag(tag.FlavourAll, 0, info),
					ts: flvTag.TimestampMs(),
				})
				s.mediaInfoExtracted = true
			} else if len(s.pending) > mediaInfoMaxWait {
				s.mediaInfoExtracted = true
			}
		}

		if s.bootstrapping {
			s.pending = append(s.pending, pendingTag{t: flvTag, ts: flvTag.TimestampMs()})
			if s.mediaInfoExtracted {
				s.endBootstrapping()
			}
			continue
		}
		return flvTag, nil
	}
}

// decodeTag reads one "previous tag size + tag header + body" unit and
// returns the resulting tag, queuing a CuePointTag ahead of an onMetaData
// tag when one is embedded.
func (s *Splitter) decodeTag(r *bufio.Reader) (*tag.MediaTag, error) {
	var prevSize [4]byte
	if _, err := io.ReadFull(r, prevSize[:]); err != nil {
		return nil, err
	}

	var head [11]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("flv: read tag header: %w", err)
	}
	frameType := FrameType(head[0])
	size := uint32(head[1])<<16 | uint32(head[2])<<8 | uint32(head[3])
	ts := int64(head[4])<<16 | int64(head[5])<<8 | int64(head[6])
	ts |= int64(head[7]) << 24 // extended timestamp byte is the high 8 bits

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("flv: read tag body: %w", err)
	}

	meta := &tag.FLVMeta{}
	switch frameType {
	case FrameTypeAudio:
		decodeAudioFlags(body, meta)
	case FrameTypeVideo:
		decodeVideoFlags(body, meta)
	case FrameTypeMetadata:
		meta.FrameType = tag.FLVFrameMetadata
		if err := s.handleMetadata(body, meta, ts); err != nil {
			return nil, err
		}
	}

	mt := tag.NewMediaTag(tag.KindFLV, 0, tag.FlavourAll, ts, tag.NewPayload(body))
	mt.FLV = meta
	mt.LearnAttributes()
	return mt, nil
}

// handleMetadata decodes an onMetaData/onCuePoint AMF payload via the shared
// decodeMetadataBody, queues a CuePointTag ahead of the metadata tag itself
// when one was embedded, and records the decoded values for MediaInfo.
func (s *Splitter) handleMetadata(body []byte, meta *tag.FLVMeta, ts int64) error {
	cue, valuesMap, err := decodeMetadataBodyWithValues(body, meta, ts)
	if err != nil {
		return err
	}
	if cue != nil {
		s.pending = append(s.pending, pendingTag{t: cue, ts: ts})
	}
	if valuesMap != nil {
		s.firstMetadata = valuesMap
	}
	return nil
}

func (s *Splitter) trackMediaInfoCandidate(t *tag.MediaTag) {
	if s.firstAudio == nil && t.FLV != nil && t.FLV.FrameType == tag.FLVFrameAudio {
		s.firstAudio = t.FLV
		s.firstAudioBody = t.Payload.Bytes()
	}
	if s.firstVideo == nil && t.FLV != nil && t.FLV.FrameType == tag.FLVFrameVideo {
		s.firstVideo = t.FLV
		s.firstVideoBody = t.Payload.Bytes()
	}
}

// endBootstrapping rebases every queued tag whose timestamp predates the
// stream's first real timestamp, appends a BOS marker, and lets subsequent
// Next calls drain the queue.
func (s *Splitter) endBootstrapping() {
	if s.firstTimestampMs == -1 {
		s.firstTimestampMs = 0
	}
	for i := range s.pending {
		if s.pending[i].ts < s.firstTimestampMs {
			s.pending[i].ts = s.firstTimestampMs
			continue
		}
		break
	}
	s.bootstrapping = false
	s.pending = append(s.pending, pendingTag{
		t:  tag.NewBOSTag(tag.FlavourAll, s.firstTimestampMs),
		ts: s.firstTimestampMs,
	})
}

// byteReader is a minimal io.Reader over an in-memory slice, used to bound
// AMF decoding to exactly the metadata tag's body.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

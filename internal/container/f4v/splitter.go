package f4v

import (
	"bufio"
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// Splitter turns a (faststart: ftyp/moov before mdat) F4V byte stream into
// tag.Tag values: one tag.MoovTag once the MOOV has been parsed, then one
// tag.MediaTag (KindF4V) per sample in timestamp order.
type Splitter struct {
	moov    *MoovAtom
	info    *tag.MediaInfo
	offsets []int64
	frames  []tag.FrameRecord
	reorder *TagReorder

	frameIdx      int // next frame index to read out of mdat, in offset order
	mdatRemaining int64
	pendingOut    []tag.Tag
}

// NewSplitter returns a Splitter ready to read from the start of an F4V
// stream.
func NewSplitter() *Splitter { return &Splitter{} }

// Next reads and returns the next output tag, or io.EOF once the stream (and
// every buffered tag) is exhausted.
func (s *Splitter) Next(r *bufio.Reader) (tag.Tag, error) {
	for {
		if len(s.pendingOut) > 0 {
			t := s.pendingOut[0]
			s.pendingOut = s.pendingOut[1:]
			return t, nil
		}
		if s.moov == nil {
			if err := s.readUntilMoov(r); err != nil {
				return nil, err
			}
			s.pendingOut = append(s.pendingOut, tag.NewMoovTag(tag.FlavourAll, 0, s.moov.Raw))
			continue
		}
		if err := s.readNextMdatFrame(r); err != nil {
			if err == io.EOF {
				for _, t := range s.reorder.Flush() {
					s.pendingOut = append(s.pendingOut, t)
				}
				if len(s.pendingOut) == 0 {
					return nil, io.EOF
				}
				continue
			}
			return nil, err
		}
	}
}

// readUntilMoov consumes top-level boxes (ftyp, free, moov, ...) until it
// has decoded a moov box, ignoring anything it does not recognize.
func (s *Splitter) readUntilMoov(r *bufio.Reader) error {
	for {
		hdr, err := readBoxHeader(r)
		if err != nil {
			return fmt.Errorf("f4v: reading top-level boxes before moov: %w", err)
		}
		payloadSize := int64(hdr.Size) - int64(hdr.HeaderSize)
		if hdr.Type != "moov" {
			if _, err := io.CopyN(io.Discard, r, payloadSize); err != nil {
				return fmt.Errorf("f4v: skip %q box: %w", hdr.Type, err)
			}
			continue
		}
		payload := make([]byte, payloadSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("f4v: read moov payload: %w", err)
		}
		m, err := ParseMoov(payload)
		if err != nil {
			return err
		}
		s.moov = m
		s.info, s.offsets = BuildMediaInfo(m)
		s.frames = s.info.Frames
		timestamps := make([]int64, len(s.frames))
		for i, f := range s.frames {
			timestamps[i] = f.DecodingTs
		}
		s.reorder = NewTagReorder(s.offsets, timestamps, true)
		return nil
	}
}

// readNextMdatFrame advances the stream to (and through) the next sample
// belonging to the frame index, pushing it into the reorder buffer and
// draining whatever that makes poppable into pendingOut.
func (s *Splitter) readNextMdatFrame(r *bufio.Reader) error {
	if s.frameIdx >= len(s.frames) {
		return io.EOF
	}
	if s.mdatRemaining <= 0 {
		if err := s.skipToNextMdat(r); err != nil {
			return err
		}
	}

	frame := s.frames[s.frameIdx]
	offset := s.offsets[s.frameIdx]
	body := make([]byte, frame.Size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("f4v: read sample at offset %d: %w", offset, err)
	}
	s.mdatRemaining -= int64(frame.Size)

	mt := tag.NewMediaTag(tag.KindF4V, 0, tag.FlavourAll, frame.DecodingTs, tag.NewPayload(body))
	mt.F4V = &tag.F4VMeta{
		Offset:     offset,
		SampleSize: frame.Size,
		SampleIdx:  uint32(s.frameIdx),
		IsAudio:    frame.IsAudio,
		IsKeyframe: frame.IsKeyframe,
	}
	mt.CompositionOffsetMs = int64(frame.CompositionOffsetMs)
	mt.LearnAttributes()

	s.reorder.Push(offset, mt)
	s.frameIdx++

	for {
		t, ok := s.reorder.Pop()
		if !ok {
			break
		}
		s.pendingOut = append(s.pendingOut, t)
	}
	return nil
}

// skipToNextMdat discards top-level boxes until it finds an mdat, then
// leaves the reader positioned at the start of its payload.
func (s *Splitter) skipToNextMdat(r *bufio.Reader) error {
	for {
		hdr, err := readBoxHeader(r)
		if err != nil {
			return err
		}
		payloadSize := int64(hdr.Size) - int64(hdr.HeaderSize)
		if hdr.Type == "mdat" {
			s.mdatRemaining = payloadSize
			return nil
		}
		if _, err := io.CopyN(io.Discard, r, payloadSize); err != nil {
			return fmt.Errorf("f4v: skip %q box: %w", hdr.Type, err)
		}
	}
}

// Package mp3 splits an MPEG-1/2 Layer III audio stream into one tag.MediaTag
// per compressed frame: timestamps are computed from sample count and
// sample rate. The frame header layout follows the MPEG audio standard,
// and the Next(*bufio.Reader) state-machine shape follows container/flv's
// Splitter.
package mp3

import (
	"bufio"
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

var bitrateTableV1L3 = [16]uint32{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var bitrateTableV2L3 = [16]uint32{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
var sampleRateTableV1 = [4]uint32{44100, 48000, 32000, 0}
var sampleRateTableV2 = [4]uint32{22050, 24000, 16000, 0}
var sampleRateTableV25 = [4]uint32{11025, 12000, 8000, 0}

// FrameHeader is one decoded MPEG audio frame header.
type FrameHeader struct {
	Version    uint8 // 0=MPEG2.5, 2=MPEG2, 3=MPEG1
	Layer      uint8 // 1, 2, or 3
	BitrateBps uint32
	SampleRate uint32
	Padding    bool
	Channels   uint8
	FrameLen   int
}

// samplesPerFrame returns the PCM sample count one frame decodes to.
func samplesPerFrame(version, layer uint8) int {
	if layer == 3 { // Layer I
		return 384
	}
	if layer == 2 { // Layer II
		return 1152
	}
	// Layer III
	if version == 3 { // MPEG1
		return 1152
	}
	return 576 // MPEG2 / MPEG2.5
}

// ParseFrameHeader decodes a 4-byte MPEG audio frame header.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < 4 {
		return FrameHeader{}, fmt.Errorf("mp3: short header")
	}
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return FrameHeader{}, fmt.Errorf("mp3: frame sync not found")
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	if layer == 0 {
		return FrameHeader{}, fmt.Errorf("mp3: reserved layer")
	}
	bitrateIdx := (b[2] >> 4) & 0x0F
	sampleRateIdx := (b[2] >> 2) & 0x03
	padding := (b[2]>>1)&0x01 != 0
	channelMode := (b[3] >> 6) & 0x03

	var bitrate uint32
	if version == 3 && layer == 1 { // MPEG1 Layer III
		bitrate = bitrateTableV1L3[bitrateIdx]
	} else {
		bitrate = bitrateTableV2L3[bitrateIdx]
	}
	var sampleRate uint32
	switch version {
	case 3:
		sampleRate = sampleRateTableV1[sampleRateIdx]
	case 2:
		sampleRate = sampleRateTableV2[sampleRateIdx]
	case 0:
		sampleRate = sampleRateTableV25[sampleRateIdx]
	default:
		return FrameHeader{}, fmt.Errorf("mp3: reserved version")
	}
	if bitrate == 0 || sampleRate == 0 {
		return FrameHeader{}, fmt.Errorf("mp3: free-format or unsupported bitrate/sample rate")
	}

	samplesFactor := samplesPerFrame(version, layer)
	frameLen := samplesFactor / 8 * int(bitrate*1000) / int(sampleRate)
	if padding {
		if layer == 3 { // Layer I padding is a full slot (4 bytes)
			frameLen += 4
		} else {
			frameLen++
		}
	}

	channels := uint8(2)
	if channelMode == 3 {
		channels = 1
	}

	return FrameHeader{
		Version:    version,
		Layer:      4 - layer, // bits 11=I,10=II,01=III -> Layer=1,2,3
		BitrateBps: bitrate * 1000,
		SampleRate: sampleRate,
		Padding:    padding,
		Channels:   channels,
		FrameLen:   frameLen,
	}, nil
}

// Splitter reads consecutive MPEG audio frames and emits one tag.MediaTag
// per frame, with timestamps reconstructed from cumulative sample count.
type Splitter struct {
	samplesSoFar int64
	sampleRate   uint32
}

func NewSplitter() *Splitter { return &Splitter{} }

// Next reads and returns the next frame as a tag.MediaTag (KindMP3).
func (s *Splitter) Next(r *bufio.Reader) (tag.Tag, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	fh, err := ParseFrameHeader(hdr[:])
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	body := make([]byte, fh.FrameLen)
	copy(body, hdr[:])
	if fh.FrameLen > 4 {
		if _, err := io.ReadFull(r, body[4:]); err != nil {
			return nil, fmt.Errorf("mp3: read frame body: %w", err)
		}
	}

	s.sampleRate = fh.SampleRate
	tsMs := s.samplesSoFar * 1000 / int64(fh.SampleRate)
	s.samplesSoFar += int64(samplesPerFrame(fh.Version, 4-fh.Layer))

	mt := tag.NewMediaTag(tag.KindMP3, 0, tag.FlavourAll, tsMs, tag.NewPayload(body))
	mt.LearnAttributes()
	return mt, nil
}

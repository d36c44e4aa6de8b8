// Package aac splits an ADTS-framed AAC stream into one tag.MediaTag per
// compressed frame, the same contract as container/mp3. The ADTS header
// layout follows ISO/IEC 13818-7 Annex to the MPEG-2/4 standard, and the
// Next(*bufio.Reader) shape follows container/flv's Splitter.
package aac

import (
	"bufio"
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

var adtsSampleRates = [16]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

// AdtsHeader is one decoded 7-byte (no CRC) ADTS frame header.
type AdtsHeader struct {
	ProfileObjectType uint8
	SampleRate        uint32
	Channels          uint8
	FrameLen          int // includes the 7-byte header
	SamplesPerFrame   int
}

// ParseAdtsHeader decodes a 7-byte ADTS header (CRC-absent framing, the
// common case for live AAC).
func ParseAdtsHeader(b []byte) (AdtsHeader, error) {
	if len(b) < 7 {
		return AdtsHeader{}, fmt.Errorf("aac: short header")
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return AdtsHeader{}, fmt.Errorf("aac: frame sync not found")
	}
	protectionAbsent := b[1]&0x01 != 0
	profile := (b[2] >> 6) & 0x03
	sampleRateIdx := (b[2] >> 2) & 0x0F
	channelCfg := (b[2]&0x01)<<2 | (b[3] >> 6)
	frameLen := int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5)
	numFrames := (b[6] & 0x03) + 1 // AAC frames per ADTS frame, rarely > 1

	sampleRate := adtsSampleRates[sampleRateIdx]
	if sampleRate == 0 {
		return AdtsHeader{}, fmt.Errorf("aac: reserved sample rate index")
	}
	headerSize := 7
	if !protectionAbsent {
		headerSize = 9
	}
	return AdtsHeader{
		ProfileObjectType: profile + 1, // ADTS profile field is AOT-1
		SampleRate:        sampleRate,
		Channels:          channelCfg,
		FrameLen:          frameLen,
		SamplesPerFrame:   1024 * int(numFrames),
	}, headerSizeErr(headerSize, frameLen)
}

func headerSizeErr(headerSize, frameLen int) error {
	if frameLen < headerSize {
		return fmt.Errorf("aac: frame length %d shorter than header %d", frameLen, headerSize)
	}
	return nil
}

// Splitter reads consecutive ADTS frames and emits one tag.MediaTag
// (KindAAC) per frame, timestamps reconstructed from cumulative samples.
type Splitter struct {
	samplesSoFar int64
}

func NewSplitter() *Splitter { return &Splitter{} }

func (s *Splitter) Next(r *bufio.Reader) (tag.Tag, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	ah, err := ParseAdtsHeader(hdr[:])
	if err != nil {
		return nil, fmt.Errorf("aac: %w", err)
	}

	body := make([]byte, ah.FrameLen)
	copy(body, hdr[:])
	if ah.FrameLen > 7 {
		if _, err := io.ReadFull(r, body[7:]); err != nil {
			return nil, fmt.Errorf("aac: read frame body: %w", err)
		}
	}

	tsMs := s.samplesSoFar * 1000 / int64(ah.SampleRate)
	s.samplesSoFar += int64(ah.SamplesPerFrame)

	mt := tag.NewMediaTag(tag.KindAAC, 0, tag.FlavourAll, tsMs, tag.NewPayload(body))
	mt.LearnAttributes()
	return mt, nil
}

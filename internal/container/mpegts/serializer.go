// Package mpegts wraps an external, opaque MPEG-TS encoder behind the
// uniform TagSerializer contract. The TS muxer itself is treated as an
// opaque encoder behind a well-defined interface — this package owns the
// interface, the lifecycle around it (lazy stream init from the first
// MediaInfoTag, per-tag feed, finalize), and the optional
// MP4-NALU-to-Annex-B reframer; it does not implement TS packetization
// itself.
package mpegts

import (
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// Encoder is the opaque external MPEG-TS muxer contract. An implementation
// owns TS packetization, PAT/PMT generation, and PCR pacing; this package
// only decides when to call it.
type Encoder interface {
	// AddAudioStream registers the audio elementary stream using its
	// codec-specific extradata (AAC AudioSpecificConfig or nil for MP3).
	AddAudioStream(format tag.AudioFormat, extradata []byte) error
	// AddVideoStream registers the video elementary stream using its
	// codec-specific extradata (H.264 AVCC record).
	AddVideoStream(format tag.VideoFormat, extradata []byte) error
	// WriteFrame hands one decoded access unit to the muxer.
	WriteFrame(isAudio bool, isKeyframe bool, timestampMs int64, data []byte) error
	// Finalize flushes any buffered TS packets and writes the trailer.
	Finalize() error
}

// Serializer adapts a tag.Tag stream to an Encoder: the uniform
// initialize/serialize/finalize contract every container serializer
// implements, specialized to MPEG-TS's need to see a MediaInfoTag before
// any media tag.
type Serializer struct {
	Encoder Encoder

	// ReframeH264 runs the MP4 (length-prefixed NALU) to Annex-B
	// (start-code-prefixed) conversion before handing H.264 frames to
	// Encoder, for sources whose frames arrived MP4-framed (F4V/FLV AVCC)
	// rather than already Annex-B.
	ReframeH264 bool

	initialized bool
	nalLengthSz uint8
}

// Initialize is a no-op hook kept for symmetry with the other serializers'
// initialize(out) step; MPEG-TS has no header to write ahead of stream
// registration, which instead happens lazily on the first MediaInfoTag.
func (s *Serializer) Initialize(_ io.Writer) error { return nil }

// Serialize feeds one tag to the encoder. The bool result is always true:
// every tag kind is accepted, and tags arriving after Finalize are still
// fed to the Encoder.
func (s *Serializer) Serialize(t tag.Tag, timestampMs int64, _ io.Writer) (bool, error) {
	switch v := t.(type) {
	case *tag.MediaInfoTag:
		return true, s.onMediaInfo(v)
	case *tag.MediaTag:
		return true, s.onMediaTag(v, timestampMs)
	default:
		return true, nil // lifecycle/control tags carry nothing for a TS muxer
	}
}

func (s *Serializer) onMediaInfo(mi *tag.MediaInfoTag) error {
	if s.initialized {
		return nil
	}
	info := mi.Info
	if info == nil {
		return fmt.Errorf("mpegts: media-info tag carries no MediaInfo")
	}
	if info.Audio != nil {
		var extradata []byte
		if info.Audio.Format == tag.AudioFormatAAC {
			extradata = info.Audio.AACConfig[:]
		}
		if err := s.Encoder.AddAudioStream(info.Audio.Format, extradata); err != nil {
			return fmt.Errorf("mpegts: add audio stream: %w", err)
		}
	}
	if info.Video != nil {
		if err := s.Encoder.AddVideoStream(info.Video.Format, info.Video.H264AVCC); err != nil {
			return fmt.Errorf("mpegts: add video stream: %w", err)
		}
		s.nalLengthSz = info.Video.H264NALULengthSize
	}
	s.initialized = true
	return nil
}

func (s *Serializer) onMediaTag(mt *tag.MediaTag, timestampMs int64) error {
	if !s.initialized {
		return fmt.Errorf("mpegts: media tag arrived before media-info")
	}
	isAudio := mt.Attributes()&tag.AttrAudio != 0
	isKeyframe := mt.Attributes()&tag.AttrCanResync != 0
	data := mt.Payload.Bytes()
	if !isAudio && s.ReframeH264 {
		data = mp4ToAnnexB(data, s.nalLengthSz)
	}
	if err := s.Encoder.WriteFrame(isAudio, isKeyframe, timestampMs, data); err != nil {
		return fmt.Errorf("mpegts: write frame: %w", err)
	}
	return nil
}

// Finalize flushes the encoder's trailer.
func (s *Serializer) Finalize(_ io.Writer) error {
	if !s.initialized {
		return nil
	}
	return s.Encoder.Finalize()
}

// mp4ToAnnexB rewrites a length-prefixed NALU stream (MP4/AVCC framing) into
// Annex-B start-code-prefixed framing, for H.264 frames arriving
// MP4-style.
func mp4ToAnnexB(data []byte, nalLengthSize uint8) []byte {
	if nalLengthSize == 0 {
		nalLengthSize = 4
	}
	out := make([]byte, 0, len(data)+16)
	startCode := []byte{0, 0, 0, 1}
	pos := 0
	for pos+int(nalLengthSize) <= len(data) {
		var nalLen int
		for i := 0; i < int(nalLengthSize); i++ {
			nalLen = nalLen<<8 | int(data[pos+i])
		}
		pos += int(nalLengthSize)
		if pos+nalLen > len(data) {
			break
		}
		out = append(out, startCode...)
		out = append(out, data[pos:pos+nalLen]...)
		pos += nalLen
	}
	if len(out) == 0 {
		return data
	}
	return out
}

package tag

import "fmt"

// AudioFormat identifies the compressed audio codec.
type AudioFormat uint8

const (
	AudioFormatAAC AudioFormat = iota
	AudioFormatMP3
)

func (f AudioFormat) String() string {
	if f == AudioFormatMP3 {
		return "MP3"
	}
	return "AAC"
}

// VideoFormat identifies the compressed video codec.
type VideoFormat uint8

const (
	VideoFormatH263 VideoFormat = iota
	VideoFormatH264
	VideoFormatVP6
)

func (f VideoFormat) String() string {
	switch f {
	case VideoFormatH264:
		return "H264"
	case VideoFormatVP6:
		return "VP6"
	default:
		return "H263"
	}
}

// AudioInfo describes one audio track's codec configuration. A block's
// Format uniquely determines which codec-specific fields are meaningful.
type AudioInfo struct {
	Format     AudioFormat
	Channels   uint8  // 1 or 2
	SampleRate uint32 // e.g. 44100
	SampleSize uint32 // e.g. 16
	BitrateBps uint32

	MP4Language string // e.g. "eng"

	// AAC-specific.
	AACLevel    uint8
	AACProfile  uint8
	AACConfig   [2]byte
	AACInFLV    bool // 2 unknown bytes precede the AAC frame in FLV framing

	// MP3-specific.
	MP3InFLV bool // 1 unknown byte precedes the MP3 frame in FLV framing
}

// VideoInfo describes one video track's codec configuration.
type VideoInfo struct {
	Format    VideoFormat
	Width     uint32
	Height    uint32
	ClockRate uint32 // e.g. 90000 for H264/AVC
	FrameRate float32
	BitrateBps uint32
	Timescale uint32

	MP4MoovPosition uint32

	// H264-specific.
	H264ConfigVersion      uint8
	H264Profile            uint8
	H264ProfileCompat      uint8
	H264Level              uint8
	H264NALULengthSize     uint8 // 2 in FLV framing, 4 in MP4 framing
	H264SPS                [][]byte
	H264PPS                [][]byte
	H264InFLV              bool // 7 unknown bytes precede length-prefixed NALUs in FLV framing
	H264NALUStartCode      bool // true: Annex-B start codes; false: length-prefixed
	H264AVCC               []byte
}

// FrameRecord is one entry of a MediaInfo's frame index (populated by the
// F4V/MP4 decoder from the MOOV sample tables; FLV/MP3/AAC leave Frames
// empty.
type FrameRecord struct {
	IsAudio             bool
	Size                uint32
	DecodingTs          int64
	CompositionOffsetMs uint32
	IsKeyframe          bool
}

func (f FrameRecord) String() string {
	kind := "video"
	if f.IsAudio {
		kind = "audio"
	}
	return fmt.Sprintf("Frame{%s, size=%d, dts=%d, cts_off=%d, key=%v}",
		kind, f.Size, f.DecodingTs, f.CompositionOffsetMs, f.IsKeyframe)
}

// MediaInfo is the descriptor produced by a container decoder.
// At most one Audio and one Video block may be present.
type MediaInfo struct {
	Audio *AudioInfo
	Video *VideoInfo

	DurationMs uint32
	FileSize   uint64
	Seekable   bool
	Pausable   bool

	Frames []FrameRecord

	// Extra key/value metadata not captured by the typed fields above
	// (e.g. arbitrary onMetaData entries).
	ExtraMetadata map[string]interface{}

	// MP4Moov carries the raw MOOV atom bytes for F4V sources, so a
	// re-muxer can reuse box structure it has no typed model for, rather
	// than inventing a lossless typed mirror of every vendor-extension atom.
	MP4Moov []byte
}

func (m *MediaInfo) HasAudio() bool { return m != nil && m.Audio != nil }
func (m *MediaInfo) HasVideo() bool { return m != nil && m.Video != nil }

func (m *MediaInfo) String() string {
	if m == nil {
		return "MediaInfo{nil}"
	}
	return fmt.Sprintf("MediaInfo{audio=%v, video=%v, duration_ms=%d, frames=%d, seekable=%v, pausable=%v}",
		m.HasAudio(), m.HasVideo(), m.DurationMs, len(m.Frames), m.Seekable, m.Pausable)
}

// Clone returns a deep-enough copy safe for independent mutation by a
// caller (e.g. an element that strips a field before forwarding).
func (m *MediaInfo) Clone() *MediaInfo {
	if m == nil {
		return nil
	}
	out := *m
	if m.Audio != nil {
		a := *m.Audio
		out.Audio = &a
	}
	if m.Video != nil {
		v := *m.Video
		out.Video = &v
		out.Video.H264SPS = append([][]byte(nil), m.Video.H264SPS...)
		out.Video.H264PPS = append([][]byte(nil), m.Video.H264PPS...)
	}
	out.Frames = append([]FrameRecord(nil), m.Frames...)
	if m.ExtraMetadata != nil {
		out.ExtraMetadata = make(map[string]interface{}, len(m.ExtraMetadata))
		for k, v := range m.ExtraMetadata {
			out.ExtraMetadata[k] = v
		}
	}
	out.MP4Moov = append([]byte(nil), m.MP4Moov...)
	return &out
}

package rtp

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// Media describes one SDP media section (m=), for either the audio or
// video track of a stream.
type Media struct {
	IsAudio     bool
	PayloadType PayloadType
	ClockRate   uint32
	RTPMap      string // codec name after the clock rate, e.g. "H264", "mpeg4-generic"
	FMTP        string // format-specific parameters, empty if none
	TrackID     int
}

// SDP collects the session- and media-level fields needed to build an RTSP
// DESCRIBE response body for one media path.
type SDP struct {
	SessionName string
	Info        string
	DurationMs  uint32
	Media       []Media
}

// BuildSDP derives an SDP from a stream's MediaInfo, the shape
// DESCRIBE hands back in its response body (application/sdp).
func BuildSDP(name string, info *tag.MediaInfo) *SDP {
	s := &SDP{SessionName: name, Info: name, DurationMs: info.DurationMs}
	trackID := 0
	if info.HasAudio() {
		a := info.Audio
		m := Media{IsAudio: true, ClockRate: a.SampleRate, TrackID: trackID}
		trackID++
		switch a.Format {
		case tag.AudioFormatAAC:
			m.PayloadType = PayloadTypeDynamicAAC
			m.RTPMap = "mpeg4-generic"
			m.FMTP = fmt.Sprintf(
				"streamtype=5; profile-level-id=15; mode=AAC-hbr; config=%02x%02x; "+
					"SizeLength=13; IndexLength=3; IndexDeltaLength=3; Profile=1;",
				a.AACConfig[0], a.AACConfig[1])
		case tag.AudioFormatMP3:
			m.PayloadType = PayloadTypeMPA
			m.RTPMap = "MPA"
		}
		if m.RTPMap != "" {
			s.Media = append(s.Media, m)
		}
	}
	if info.HasVideo() {
		v := info.Video
		m := Media{IsAudio: false, ClockRate: v.ClockRate, TrackID: trackID}
		switch v.Format {
		case tag.VideoFormatH264:
			m.PayloadType = PayloadTypeDynamicH264
			m.RTPMap = "H264"
			sps, pps := "", ""
			if len(v.H264SPS) > 0 {
				sps = base64.StdEncoding.EncodeToString(v.H264SPS[0])
			}
			if len(v.H264PPS) > 0 {
				pps = base64.StdEncoding.EncodeToString(v.H264PPS[0])
			}
			m.FMTP = fmt.Sprintf(
				"packetization-mode=1;profile-level-id=%02x%02x%02x;sprop-parameter-sets=%s,%s;",
				v.H264Profile, v.H264ProfileCompat, v.H264Level, sps, pps)
		case tag.VideoFormatH263:
			m.PayloadType = PayloadTypeMPV
			m.RTPMap = "MPV"
		}
		if m.RTPMap != "" {
			s.Media = append(s.Media, m)
		}
	}
	return s
}

// WriteString renders the SDP per RFC 4566's minimal session-description
// grammar: one session-level block, then one m=/a= block per track.
func (s *SDP) WriteString(contentBase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- 0 0 IN IP4 0.0.0.0\r\n")
	fmt.Fprintf(&b, "s=%s\r\n", s.SessionName)
	fmt.Fprintf(&b, "i=%s\r\n", s.Info)
	fmt.Fprintf(&b, "u=%s\r\n", contentBase)
	fmt.Fprintf(&b, "e=NONE\r\n")
	fmt.Fprintf(&b, "c=IN IP4 0.0.0.0\r\n")
	if s.DurationMs > 0 {
		fmt.Fprintf(&b, "a=range:npt=0-%.2f\r\n", float64(s.DurationMs)/1000.0)
	}
	for _, m := range s.Media {
		kind := "video"
		if m.IsAudio {
			kind = "audio"
		}
		fmt.Fprintf(&b, "m=%s 0 RTP/AVP %d\r\n", kind, m.PayloadType)
		fmt.Fprintf(&b, "a=rtpmap:%d %s/%d\r\n", m.PayloadType, m.RTPMap, m.ClockRate)
		if m.FMTP != "" {
			fmt.Fprintf(&b, "a=fmtp:%d %s\r\n", m.PayloadType, m.FMTP)
		}
		fmt.Fprintf(&b, "a=control:trackID=%d\r\n", m.TrackID)
	}
	return b.String()
}

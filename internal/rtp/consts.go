// Package rtp packetizes the tag pipeline's media frames into RTP packets
// and delivers them to a pluggable Sender (UDP unicast/multicast, or the
// RTSP connection's TCP-interleaved channel).
package rtp

// PayloadType is the RFC 3551 static/dynamic payload type carried in an
// RTP header's PT field.
type PayloadType uint8

const (
	PayloadTypeMPV          PayloadType = 14 // H.263, static assignment
	PayloadTypeMPA          PayloadType = 15 // MP3, static assignment
	PayloadTypeDynamicH264  PayloadType = 96
	PayloadTypeDynamicAAC   PayloadType = 97
)

// Fixed SSRCs, one per track: real encoders pick a random SSRC per session,
// but a single-sender server with one audio and one video track never needs
// collision avoidance, so these stay constant across sessions.
const (
	ssrcAudio uint32 = 0xceafa03c
	ssrcVideo uint32 = 0x52d8e95a
)

// MTU bounds every packetizer's output payload size, leaving room for the
// 12-byte RTP header plus IP/UDP framing under a 1500-byte Ethernet frame.
const MTU = 1400

package rtp

import (
	"encoding/binary"
	"fmt"
)

// Packetizer splits one media frame into one or more RTP payloads, each
// bounded by MTU, with codec-specific framing prepended.
type Packetizer interface {
	Packetize(frame []byte) ([][]byte, error)
	Name() string
}

// H263Packetizer implements RFC 4629's mode-A framing: a 2-byte payload
// header (P-bit set only on a frame's first fragment) prepended to each
// MTU-sized chunk.
type H263Packetizer struct{}

func (H263Packetizer) Name() string { return "H263" }

func (H263Packetizer) Packetize(frame []byte) ([][]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("rtp: h263 frame too small: %d bytes", len(frame))
	}
	// First byte is an opaque FLV/container marker byte, skipped; the next
	// two must be the H.263 picture start code's all-zero lead-in.
	body := frame[1:]
	if body[0] != 0 || body[1] != 0 {
		return nil, fmt.Errorf("rtp: h263 header mismatch: %02x %02x", body[0], body[1])
	}

	var out [][]byte
	first := true
	for len(body) > 0 {
		n := len(body)
		if n > MTU-2 {
			n = MTU - 2
		}
		p := make([]byte, 2, 2+n)
		if first {
			p[0] = 0x04 // P-bit (bit 10 of the 16-bit header, big-endian byte 0)
		}
		p = append(p, body[:n]...)
		out = append(out, p)
		body = body[n:]
		first = false
	}
	return out, nil
}

// H264Packetizer implements RFC 6184 single-NAL and FU-A fragmentation.
// FLVContainer strips the 7 opaque bytes FLV prepends to every video tag
// and reads 2-byte NALU length prefixes; otherwise length prefixes are
// 4 bytes (MP4/AVCC framing).
type H264Packetizer struct {
	FLVContainer bool
}

func (H264Packetizer) Name() string { return "H264" }

func (p H264Packetizer) Packetize(frame []byte) ([][]byte, error) {
	if p.FLVContainer {
		if len(frame) >= 6 && frame[0] == 0x17 && frame[1] == 0 && frame[2] == 0 &&
			frame[3] == 0 && frame[4] == 0 && frame[5] == 1 {
			// AVC sequence header: carried out-of-band via SDP fmtp, not RTP.
			return nil, nil
		}
		if len(frame) < 7 {
			return nil, fmt.Errorf("rtp: h264 flv frame too small: %d bytes", len(frame))
		}
		frame = frame[7:]
	}
	naluSizeBytes := 4
	if p.FLVContainer {
		naluSizeBytes = 2
	}
	return splitNALUs(frame, naluSizeBytes)
}

func splitNALUs(in []byte, naluSizeBytes int) ([][]byte, error) {
	var out [][]byte
	for len(in) > 0 {
		if len(in) < naluSizeBytes {
			return nil, fmt.Errorf("rtp: h264 frame too small for length prefix")
		}
		var naluSize int
		switch naluSizeBytes {
		case 4:
			naluSize = int(binary.BigEndian.Uint32(in[:4]))
		case 2:
			naluSize = int(binary.BigEndian.Uint16(in[:2]))
		default:
			return nil, fmt.Errorf("rtp: unsupported nalu size prefix: %d bytes", naluSizeBytes)
		}
		in = in[naluSizeBytes:]
		if naluSize == 0 {
			continue
		}
		if naluSize > len(in) {
			return nil, fmt.Errorf("rtp: nalu_size %d exceeds remaining %d bytes", naluSize, len(in))
		}
		nalu := in[:naluSize]
		in = in[naluSize:]

		if naluSize <= MTU {
			out = append(out, append([]byte(nil), nalu...))
			continue
		}

		naluHdr := nalu[0]
		naluType := naluHdr & 0x1f
		rest := nalu[1:]
		consumed := 1
		first := true
		for consumed < naluSize {
			n := len(rest)
			if n > MTU-2 {
				n = MTU - 2
			}
			last := consumed+n == naluSize
			p := make([]byte, 2, 2+n)
			p[0] = (naluHdr & 0x60) | 28 // FU indicator: F/NRI from original NALU, type=FU-A
			p[1] = naluType
			if first {
				p[1] |= 0x80
			}
			if last {
				p[1] |= 0x40
			}
			p = append(p, rest[:n]...)
			out = append(out, p)
			rest = rest[n:]
			consumed += n
			first = false
		}
	}
	return out, nil
}

// MP4APacketizer implements RFC 3640 (mpeg4-generic/AAC-hbr): a 2-byte
// AU-headers-length field (always 0x0010, 16 bits) followed by one 16-bit
// AU header (13-bit size, 3-bit index) per packet.
type MP4APacketizer struct {
	FLVContainer bool
}

func (MP4APacketizer) Name() string { return "MP4A" }

func (p MP4APacketizer) Packetize(frame []byte) ([][]byte, error) {
	if p.FLVContainer {
		if len(frame) < 2 {
			return nil, fmt.Errorf("rtp: aac flv frame too small: %d bytes", len(frame))
		}
		frame = frame[2:]
	}
	var out [][]byte
	for len(frame) > 0 {
		n := len(frame)
		if n > MTU-4 {
			n = MTU - 4
		}
		p := make([]byte, 4, 4+n)
		binary.BigEndian.PutUint16(p[0:2], 0x0010)
		binary.BigEndian.PutUint16(p[2:4], uint16(n)<<3)
		p = append(p, frame[:n]...)
		out = append(out, p)
		frame = frame[n:]
	}
	return out, nil
}

// MP3Packetizer implements RFC 2250 §3's MPEG audio payload: a 4-byte ADU
// header (fragment/frag offsets, both left zero — this engine never spans
// an MP3 frame across RTP packets at the ADU level) precedes each chunk.
type MP3Packetizer struct {
	FLVContainer bool
}

func (MP3Packetizer) Name() string { return "MP3" }

func (p MP3Packetizer) Packetize(frame []byte) ([][]byte, error) {
	if p.FLVContainer {
		if len(frame) < 1 {
			return nil, fmt.Errorf("rtp: mp3 flv frame too small")
		}
		frame = frame[1:]
	}
	var out [][]byte
	for len(frame) > 0 {
		n := len(frame)
		if n > MTU-4 {
			n = MTU - 4
		}
		p := make([]byte, 4, 4+n)
		p = append(p, frame[:n]...)
		out = append(out, p)
		frame = frame[n:]
	}
	return out, nil
}

// SplitPacketizer does naive MTU-sized chunking with no codec framing, for
// tracks carried as opaque payload (e.g. raw passthrough).
type SplitPacketizer struct{}

func (SplitPacketizer) Name() string { return "SPLIT" }

func (SplitPacketizer) Packetize(frame []byte) ([][]byte, error) {
	var out [][]byte
	for len(frame) > 0 {
		n := len(frame)
		if n > MTU {
			n = MTU
		}
		out = append(out, append([]byte(nil), frame[:n]...))
		frame = frame[n:]
	}
	return out, nil
}

package f4v

import (
	"bytes"
	"encoding/binary"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// sampleDescription holds whichever of video/audio config this track's
// single (stsd almost always carries exactly one) sample entry yielded.
type sampleDescription struct {
	video *tag.VideoInfo
	audio *tag.AudioInfo
}

// parseSampleDescription decodes the first sample entry of an stsd box.
// Only avc1 (H.264) and mp4a (AAC) entries are recognized; others are
// ignored (this decoder targets the same codec set container/flv does).
func parseSampleDescription(payload []byte) sampleDescription {
	_, _, rest := versionFlags(payload)
	if len(rest) < 4 {
		return sampleDescription{}
	}
	rest = rest[4:] // entry count, assumed 1
	if len(rest) < 8 {
		return sampleDescription{}
	}
	entrySize := binary.BigEndian.Uint32(rest[0:4])
	entryType := string(rest[4:8])
	if int(entrySize) > len(rest) {
		entrySize = uint32(len(rest))
	}
	entry := rest[8:entrySize]

	switch entryType {
	case "avc1":
		return sampleDescription{video: parseAVC1(entry)}
	case "mp4a":
		return sampleDescription{audio: parseMP4A(entry)}
	default:
		return sampleDescription{}
	}
}

// parseAVC1 reads the fixed visual-sample-entry header (width/height) and
// the nested avcC box (SPS/PPS, NALU length size).
func parseAVC1(entry []byte) *tag.VideoInfo {
	if len(entry) < 78 {
		return nil
	}
	width := binary.BigEndian.Uint16(entry[24:26])
	height := binary.BigEndian.Uint16(entry[26:28])
	v := &tag.VideoInfo{
		Format:             tag.VideoFormatH264,
		Width:              uint32(width),
		Height:             uint32(height),
		ClockRate:          90000,
		H264NALULengthSize: 4,
	}

	r := bytes.NewReader(entry[78:])
	for {
		typ, box, err := readBox(r)
		if err != nil {
			break
		}
		if typ != "avcC" {
			continue
		}
		parseAVCC(box, v)
	}
	return v
}

// parseAVCC fills in the H.264-specific fields from an avcC configuration
// record (ISO/IEC 14496-15).
func parseAVCC(b []byte, v *tag.VideoInfo) {
	if len(b) < 7 {
		return
	}
	v.H264ConfigVersion = b[0]
	v.H264Profile = b[1]
	v.H264ProfileCompat = b[2]
	v.H264Level = b[3]
	v.H264NALULengthSize = (b[4] & 0x03) + 1
	v.H264AVCC = append([]byte(nil), b...)

	pos := 5
	numSPS := int(b[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS && pos+2 <= len(b); i++ {
		l := int(binary.BigEndian.Uint16(b[pos : pos+2]))
		pos += 2
		if pos+l > len(b) {
			break
		}
		v.H264SPS = append(v.H264SPS, append([]byte(nil), b[pos:pos+l]...))
		pos += l
	}
	if pos >= len(b) {
		return
	}
	numPPS := int(b[pos])
	pos++
	for i := 0; i < numPPS && pos+2 <= len(b); i++ {
		l := int(binary.BigEndian.Uint16(b[pos : pos+2]))
		pos += 2
		if pos+l > len(b) {
			break
		}
		v.H264PPS = append(v.H264PPS, append([]byte(nil), b[pos:pos+l]...))
		pos += l
	}
}

// parseMP4A reads the fixed audio-sample-entry header (channels, sample
// rate) and the nested esds box's AudioSpecificConfig, when present.
func parseMP4A(entry []byte) *tag.AudioInfo {
	if len(entry) < 28 {
		return nil
	}
	channels := binary.BigEndian.Uint16(entry[16:18])
	sampleSize := binary.BigEndian.Uint16(entry[18:20])
	sampleRate := binary.BigEndian.Uint32(entry[24:28]) >> 16 // 16.16 fixed point

	a := &tag.AudioInfo{
		Format:     tag.AudioFormatAAC,
		Channels:   uint8(channels),
		SampleRate: sampleRate,
		SampleSize: uint32(sampleSize),
	}

	r := bytes.NewReader(entry[28:])
	for {
		typ, box, err := readBox(r)
		if err != nil {
			break
		}
		if typ != "esds" {
			continue
		}
		if cfg := extractAudioSpecificConfig(box); cfg != nil {
			copy(a.AACConfig[:], cfg)
			if len(cfg) >= 2 {
				a.AACProfile = cfg[0] >> 3
				a.AACLevel = (cfg[0]&0x07)<<1 | cfg[1]>>7
			}
		}
	}
	return a
}

// extractAudioSpecificConfig walks an esds box's MPEG-4 descriptor chain
// far enough to find the DecoderSpecificInfo (tag 0x05) payload, which for
// AAC is the 2-byte AudioSpecificConfig.
func extractAudioSpecificConfig(esds []byte) []byte {
	_, _, rest := versionFlags(esds)
	pos := 0
	for pos < len(rest) {
		descTag := rest[pos]
		pos++
		length, n := readDescriptorLength(rest[pos:])
		pos += n
		if pos+length > len(rest) {
			return nil
		}
		body := rest[pos : pos+length]
		switch descTag {
		case 0x03: // ES_Descriptor: skip fixed fields, recurse into body
			if len(body) > 3 {
				if cfg := extractAudioSpecificConfig(prependVersionFlags(body[3:])); cfg != nil {
					return cfg
				}
			}
		case 0x04: // DecoderConfigDescriptor: skip 13 fixed bytes, recurse
			if len(body) > 13 {
				if cfg := extractAudioSpecificConfig(prependVersionFlags(body[13:])); cfg != nil {
					return cfg
				}
			}
		case 0x05: // DecoderSpecificInfo
			return body
		}
		pos += length
	}
	return nil
}

// prependVersionFlags re-wraps a byte slice so it can be re-walked by
// extractAudioSpecificConfig, which always skips a leading 4-byte
// version+flags field (esds is a full box; its descriptor chain isn't, so
// callers recursing into nested descriptor bodies pad a dummy 4 bytes).
func prependVersionFlags(b []byte) []byte {
	return append([]byte{0, 0, 0, 0}, b...)
}

// readDescriptorLength reads an MPEG-4 descriptor's variable-length size
// field (up to 4 bytes, continuation bit 0x80).
func readDescriptorLength(b []byte) (length int, consumed int) {
	for consumed < 4 && consumed < len(b) {
		c := b[consumed]
		length = length<<7 | int(c&0x7F)
		consumed++
		if c&0x80 == 0 {
			break
		}
	}
	return length, consumed
}

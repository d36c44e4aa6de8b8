package flv

import "github.com/alxayo/go-streamcore/internal/tag"

// decodeAudioFlags extracts the fields packed into an audio tag's first
// byte.
func decodeAudioFlags(body []byte, meta *tag.FLVMeta) {
	if len(body) == 0 {
		return
	}
	b := body[0]
	format := (b & maskSoundFormat) >> 4
	meta.AudioFormat = format
	meta.FrameType = tag.FLVFrameAudio
	if format == soundFormatAAC && len(body) >= 2 {
		meta.IsAACHeader = body[1] == 0
	}
}

// decodeVideoFlags extracts the fields packed into a video tag's first byte
// (and, for AVC, its second byte).
func decodeVideoFlags(body []byte, meta *tag.FLVMeta) {
	if len(body) == 0 {
		return
	}
	b := body[0]
	codec := b & maskVideoCodec
	frameType := (b & maskVideoFrameType) >> 4
	meta.VideoCodec = codec
	meta.FrameType = tag.FLVFrameVideo
	meta.IsKeyframe = frameType == videoFrameTypeKeyframe
	if codec == videoCodecAVC && len(body) >= 2 {
		meta.IsAVCSeqHeader = body[1] == avcPacketTypeSeqHeader
	}
}

// AudioFormatOf translates the raw FLV audio format nibble captured in
// FLVMeta into the generic tag.AudioFormat, when the codec is one this
// module decodes further (AAC, MP3).
func AudioFormatOf(meta *tag.FLVMeta) (tag.AudioFormat, bool) {
	switch meta.AudioFormat {
	case soundFormatAAC:
		return tag.AudioFormatAAC, true
	case soundFormatMP3:
		return tag.AudioFormatMP3, true
	default:
		return 0, false
	}
}

// VideoFormatOf translates the raw FLV video codec nibble into the generic
// tag.VideoFormat, when recognized.
func VideoFormatOf(meta *tag.FLVMeta) (tag.VideoFormat, bool) {
	switch meta.VideoCodec {
	case videoCodecAVC:
		return tag.VideoFormatH264, true
	case videoCodecVP6:
		return tag.VideoFormatVP6, true
	case videoCodecH263:
		return tag.VideoFormatH263, true
	default:
		return 0, false
	}
}

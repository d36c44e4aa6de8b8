package flv

import (
	"fmt"

	"github.com/alxayo/go-streamcore/internal/rtmp/amf"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// DecodeMessage decodes a single RTMP message body (audio type 8, video
// type 9, or notify/onMetaData type 18/20) into the MediaTag a splitter
// would have produced from the equivalent on-disk FLV tag, without the
// on-disk previous-tag-size/header framing RTMP's own chunk header already
// replaces with type id + timestamp. A metadata body that embeds a cue
// point table also yields a CuePointTag meant to precede it.
//
// Shares Splitter.decodeTag's per-frame-type body decode, factored out
// here so internal/rtmp's publish path can reuse it.
func DecodeMessage(frameType FrameType, body []byte, ts int64) (cue *tag.CuePointTag, mt *tag.MediaTag, err error) {
	meta := &tag.FLVMeta{}
	switch frameType {
	case FrameTypeAudio:
		decodeAudioFlags(body, meta)
	case FrameTypeVideo:
		decodeVideoFlags(body, meta)
	case FrameTypeMetadata:
		meta.FrameType = tag.FLVFrameMetadata
		c, err := decodeMetadataBody(body, meta, ts)
		if err != nil {
			return nil, nil, err
		}
		cue = c
	}

	mt = tag.NewMediaTag(tag.KindFLV, 0, tag.FlavourAll, ts, tag.NewPayload(body))
	mt.FLV = meta
	mt.LearnAttributes()
	return cue, mt, nil
}

// EncodeMessage is DecodeMessage's inverse: given a KindFLV MediaTag it
// returns the RTMP message type id (8 audio / 9 video / 18 notify) and the
// exact payload bytes to send as that message's body. mt.Payload already
// holds the bare tag body (no previous-tag-size/11-byte header), since
// that's what DecodeMessage/Splitter.decodeTag built it from, so no
// re-encoding of the body itself is needed.
func EncodeMessage(mt *tag.MediaTag) (typeID uint8, body []byte, err error) {
	if mt == nil || mt.Kind() != tag.KindFLV || mt.FLV == nil {
		return 0, nil, fmt.Errorf("flv: EncodeMessage: not a KindFLV media tag")
	}
	switch mt.FLV.FrameType {
	case tag.FLVFrameAudio:
		typeID = uint8(FrameTypeAudio)
	case tag.FLVFrameVideo:
		typeID = uint8(FrameTypeVideo)
	case tag.FLVFrameMetadata:
		typeID = uint8(FrameTypeMetadata)
	default:
		return 0, nil, fmt.Errorf("flv: EncodeMessage: unknown frame type %v", mt.FLV.FrameType)
	}
	return typeID, mt.Payload.Bytes(), nil
}

// decodeMetadataBody decodes an onMetaData/onCuePoint AMF payload, records
// its name on meta, and extracts a cue point table when present. Shared by
// Splitter.handleMetadata (on-disk tags) and DecodeMessage (RTMP messages).
func decodeMetadataBody(body []byte, meta *tag.FLVMeta, ts int64) (*tag.CuePointTag, error) {
	cue, _, err := decodeMetadataBodyWithValues(body, meta, ts)
	return cue, err
}

// decodeMetadataBodyWithValues is decodeMetadataBody plus the decoded values
// map, for callers (Splitter.handleMetadata) that also need it for
// MediaInfo extraction.
func decodeMetadataBodyWithValues(body []byte, meta *tag.FLVMeta, ts int64) (cue *tag.CuePointTag, valuesMap map[string]interface{}, err error) {
	br := newByteReader(body)
	name, err := amf.DecodeString(br)
	if err != nil {
		return nil, nil, fmt.Errorf("flv: decode metadata name: %w", err)
	}
	meta.MetadataName = name
	if name != onMetaDataName {
		return nil, nil, nil
	}

	values, err := amf.DecodeValue(br)
	if err != nil {
		return nil, nil, fmt.Errorf("flv: decode metadata values: %w", err)
	}
	valuesMap, ok := values.(map[string]interface{})
	if !ok {
		return nil, nil, nil
	}

	if cues := retrieveCuePoints(valuesMap); len(cues) > 0 {
		cue = tag.NewCuePointTag(tag.FlavourAll, ts, cues)
	}
	stripCuePoints(valuesMap)
	return cue, valuesMap, nil
}

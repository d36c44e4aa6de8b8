package flv

import (
	"math"
	"sort"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// retrieveCuePoints extracts the "cuePoints" array nested in an onMetaData
// object, returning a sorted (time, pos) cue table, or nil if the metadata
// carries none. It leaves values unchanged; stripCuePoints removes the entry.
//
// NOTE without floor() conversion from the AMF double seconds value, clients
// end up with off-by-fractional-ms drift that compounds when they seek
// against the table.
func retrieveCuePoints(values map[string]interface{}) []tag.CuePoint {
	raw, ok := values["cuePoints"]
	if !ok {
		return nil
	}
	cues, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	var out []tag.CuePoint
	for _, v := range cues {
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		timeVal, ok := entry["time"].(float64)
		if !ok {
			continue
		}
		timeMs := int64(math.Floor(timeVal * 1000.0))
		params, ok := entry["parameters"].(map[string]interface{})
		if !ok {
			continue
		}
		posVal, ok := params["pos"].(float64)
		if !ok {
			continue
		}
		pos := int64(math.Floor(posVal))
		out = append(out, tag.CuePoint{TimeMs: timeMs, Pos: pos})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeMs != out[j].TimeMs {
			return out[i].TimeMs < out[j].TimeMs
		}
		return out[i].Pos < out[j].Pos
	})
	return out
}

// stripCuePoints removes the nested cuePoints entry so the onMetaData tag
// forwarded downstream no longer duplicates what the CuePointTag already
// carries.
func stripCuePoints(values map[string]interface{}) {
	delete(values, "cuePoints")
}

func floatField(values map[string]interface{}, key string) (float64, bool) {
	v, ok := values[key].(float64)
	return v, ok
}

// extractMediaInfo builds a tag.MediaInfo from an onMetaData payload plus
// the first audio/video tag bodies seen (for codec-specific fields the
// onMetaData object does not reliably carry). Standard onMetaData key names
// (width, height, framerate, videocodecid, audiocodecid, ...) are the
// de facto FLV convention this splitter relies on.
func extractMediaInfo(values map[string]interface{}, firstAudio, firstVideo *tag.FLVMeta, firstAudioBody, firstVideoBody []byte) *tag.MediaInfo {
	info := &tag.MediaInfo{
		Seekable:      true,
		Pausable:      true,
		ExtraMetadata: make(map[string]interface{}),
	}
	if d, ok := floatField(values, "duration"); ok {
		info.DurationMs = uint32(math.Floor(d * 1000.0))
	}
	if fs, ok := floatField(values, "filesize"); ok {
		info.FileSize = uint64(fs)
	}

	if firstAudio != nil {
		a := &tag.AudioInfo{}
		if format, ok := AudioFormatOf(firstAudio); ok {
			a.Format = format
		}
		if sr, ok := floatField(values, "audiosamplerate"); ok {
			a.SampleRate = uint32(sr)
		}
		if ss, ok := floatField(values, "audiosamplesize"); ok {
			a.SampleSize = uint32(ss)
		}
		if stereo, ok := values["stereo"].(bool); ok && stereo {
			a.Channels = 2
		} else {
			a.Channels = 1
		}
		if br, ok := floatField(values, "audiodatarate"); ok {
			a.BitrateBps = uint32(br * 1000)
		}
		a.AACInFLV = firstAudio.AudioFormat == soundFormatAAC
		a.MP3InFLV = firstAudio.AudioFormat == soundFormatMP3
		if len(firstAudioBody) >= 4 && firstAudio.AudioFormat == soundFormatAAC {
			copy(a.AACConfig[:], firstAudioBody[2:4])
		}
		info.Audio = a
	}

	if firstVideo != nil {
		v := &tag.VideoInfo{}
		if format, ok := VideoFormatOf(firstVideo); ok {
			v.Format = format
		}
		if w, ok := floatField(values, "width"); ok {
			v.Width = uint32(w)
		}
		if h, ok := floatField(values, "height"); ok {
			v.Height = uint32(h)
		}
		if fr, ok := floatField(values, "framerate"); ok {
			v.FrameRate = float32(fr)
		}
		if br, ok := floatField(values, "videodatarate"); ok {
			v.BitrateBps = uint32(br * 1000)
		}
		v.ClockRate = 90000
		v.H264InFLV = firstVideo.VideoCodec == videoCodecAVC
		v.H264NALULengthSize = 4
		if len(firstVideoBody) >= 5 && firstVideo.VideoCodec == videoCodecAVC && firstVideo.IsAVCSeqHeader {
			v.H264AVCC = append([]byte(nil), firstVideoBody[5:]...)
		}
		info.Video = v
	}

	for k, val := range values {
		switch k {
		case "duration", "filesize", "width", "height", "framerate", "videodatarate",
			"videocodecid", "audiocodecid", "audiosamplerate", "audiosamplesize",
			"stereo", "audiodatarate", "cuePoints":
			continue
		default:
			info.ExtraMetadata[k] = val
		}
	}
	return info
}

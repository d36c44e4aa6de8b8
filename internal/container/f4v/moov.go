package f4v

import (
	"bytes"
	"sort"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// frameEntry is one sample located within the MOOV's sample tables, prior
// to being handed out as a tag.FrameRecord (which lacks file offset — only
// the reorder buffer needs that).
type frameEntry struct {
	offset      int64
	size        uint32
	dts         int64 // decoding timestamp, in ms
	ctsOffsetMs uint32
	keyframe    bool
	isAudio     bool
}

// trackInfo is one trak's worth of decoded sample-table data.
type trackInfo struct {
	handlerType string // "vide" or "soun"
	video       *tag.VideoInfo
	audio       *tag.AudioInfo
	timescale   uint32
	frames      []frameEntry
}

// MoovAtom is the fully decoded MOOV box: per-track media info and frame
// lists (BuildMediaInfo merges them into one offset-ordered index),
// simplified to hold decoded tables rather than a lossless atom tree.
type MoovAtom struct {
	MovieTimescale uint32
	Tracks         []*trackInfo
	Raw            []byte // original encoded bytes, kept for MediaInfo.MP4Moov
}

// ParseMoov decodes a moov box's payload (the bytes after the 8-byte
// header) into a MoovAtom.
func ParseMoov(payload []byte) (*MoovAtom, error) {
	m := &MoovAtom{Raw: append([]byte(nil), payload...)}
	r := bytes.NewReader(payload)
	for {
		typ, box, err := readBox(r)
		if err != nil {
			break
		}
		switch typ {
		case "mvhd":
			info := parseMovieHeader(box)
			m.MovieTimescale = info.Timescale
		case "trak":
			if t := parseTrak(box); t != nil {
				m.Tracks = append(m.Tracks, t)
			}
		}
	}
	return m, nil
}

func parseTrak(payload []byte) *trackInfo {
	t := &trackInfo{}
	var stts, ctts []sttsEntry
	var stsc []stscEntry
	var chunkOffsets []uint64
	var uniformSize uint32
	var sizes []uint32
	var syncSamples map[uint32]bool
	var sampleDesc sampleDescription

	var walk func(b []byte)
	walk = func(b []byte) {
		r := bytes.NewReader(b)
		for {
			typ, box, err := readBox(r)
			if err != nil {
				return
			}
			switch typ {
			case "mdia", "minf", "stbl":
				walk(box)
			case "mdhd":
				t.timescale = parseMediaHeader(box).Timescale
				if t.audio != nil {
					t.audio.MP4Language = parseMediaHeader(box).Language
				}
			case "hdlr":
				t.handlerType = parseHandlerType(box)
			case "stsd":
				sampleDesc = parseSampleDescription(box)
			case "stts":
				stts = parseTimeToSampleTable(box)
			case "ctts":
				ctts = parseTimeToSampleTable(box)
			case "stsc":
				stsc = parseSampleToChunk(box)
			case "stsz":
				uniformSize, sizes = parseSampleSizes(box)
			case "stco":
				chunkOffsets = parseChunkOffsets32(box)
			case "co64":
				chunkOffsets = parseChunkOffsets64(box)
			case "stss":
				syncSamples = parseSyncSamples(box)
			}
		}
	}
	walk(payload)

	if t.handlerType != "vide" && t.handlerType != "soun" {
		return nil
	}
	t.video = sampleDesc.video
	t.audio = sampleDesc.audio
	if t.timescale == 0 {
		t.timescale = 1000
	}

	sampleCount := len(sizes)
	if sampleCount == 0 && uniformSize != 0 {
		sampleCount = totalSampleCount(stsc, len(chunkOffsets))
	}

	offsets := sampleOffsets(stsc, chunkOffsets, sizes, uniformSize, sampleCount)
	dtsMs := decodingTimestampsMs(stts, t.timescale, sampleCount)
	ctsMs := compositionOffsetsMs(ctts, t.timescale, sampleCount)

	isAudio := t.handlerType == "soun"
	for i := 0; i < sampleCount; i++ {
		size := uniformSize
		if sizes != nil && i < len(sizes) {
			size = sizes[i]
		}
		keyframe := isAudio || syncSamples == nil || syncSamples[uint32(i+1)]
		t.frames = append(t.frames, frameEntry{
			offset:      offsets[i],
			size:        size,
			dts:         dtsMs[i],
			ctsOffsetMs: ctsMs[i],
			keyframe:    keyframe,
			isAudio:     isAudio,
		})
	}
	return t
}

func totalSampleCount(stsc []stscEntry, numChunks int) int {
	total := 0
	for i, e := range stsc {
		var chunkRunEnd uint32
		if i+1 < len(stsc) {
			chunkRunEnd = stsc[i+1].firstChunk - 1
		} else {
			chunkRunEnd = uint32(numChunks)
		}
		if e.firstChunk > chunkRunEnd {
			continue
		}
		total += int(chunkRunEnd-e.firstChunk+1) * int(e.samplesPerChunk)
	}
	return total
}

// sampleOffsets expands the (stsc, chunk-offset, sample-size) tables into
// one file offset per sample, in sample order.
func sampleOffsets(stsc []stscEntry, chunkOffsets []uint64, sizes []uint32, uniformSize uint32, sampleCount int) []int64 {
	out := make([]int64, 0, sampleCount)
	if len(stsc) == 0 || len(chunkOffsets) == 0 {
		return out
	}
	sampleIdx := 0
	for chunkIdx := 0; chunkIdx < len(chunkOffsets) && sampleIdx < sampleCount; chunkIdx++ {
		chunkNum := uint32(chunkIdx + 1)
		samplesPerChunk := samplesPerChunkFor(stsc, chunkNum)
		offset := int64(chunkOffsets[chunkIdx])
		for i := uint32(0); i < samplesPerChunk && sampleIdx < sampleCount; i++ {
			out = append(out, offset)
			size := uniformSize
			if sizes != nil && sampleIdx < len(sizes) {
				size = sizes[sampleIdx]
			}
			offset += int64(size)
			sampleIdx++
		}
	}
	return out
}

func samplesPerChunkFor(stsc []stscEntry, chunkNum uint32) uint32 {
	var samples uint32
	for _, e := range stsc {
		if e.firstChunk <= chunkNum {
			samples = e.samplesPerChunk
		} else {
			break
		}
	}
	return samples
}

func decodingTimestampsMs(stts []sttsEntry, timescale uint32, sampleCount int) []int64 {
	out := make([]int64, 0, sampleCount)
	var units int64
	for _, e := range stts {
		for i := uint32(0); i < e.count && len(out) < sampleCount; i++ {
			out = append(out, unitsToMs(units, timescale))
			units += int64(e.delta)
		}
	}
	for len(out) < sampleCount {
		out = append(out, unitsToMs(units, timescale))
	}
	return out
}

func compositionOffsetsMs(ctts []sttsEntry, timescale uint32, sampleCount int) []uint32 {
	out := make([]uint32, 0, sampleCount)
	for _, e := range ctts {
		for i := uint32(0); i < e.count && len(out) < sampleCount; i++ {
			out = append(out, uint32(unitsToMs(int64(e.delta), timescale)))
		}
	}
	for len(out) < sampleCount {
		out = append(out, 0)
	}
	return out
}

func unitsToMs(units int64, timescale uint32) int64 {
	if timescale == 0 {
		return units
	}
	return units * 1000 / int64(timescale)
}

// BuildMediaInfo merges a MoovAtom's tracks into the generic tag.MediaInfo
// descriptor, with Frames (and the parallel offsets slice) in ascending
// file-offset order — the order the splitter will actually read sample
// bytes in.
func BuildMediaInfo(m *MoovAtom) (*tag.MediaInfo, []int64) {
	info := &tag.MediaInfo{Seekable: true, Pausable: true, MP4Moov: m.Raw}
	var all []frameEntry

	for _, t := range m.Tracks {
		if t.audio != nil && info.Audio == nil {
			info.Audio = t.audio
		}
		if t.video != nil && info.Video == nil {
			info.Video = t.video
		}
		all = append(all, t.frames...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].offset < all[j].offset })

	offsets := make([]int64, len(all))
	for i, f := range all {
		info.Frames = append(info.Frames, tag.FrameRecord{
			IsAudio:             f.isAudio,
			Size:                f.size,
			DecodingTs:          f.dts,
			CompositionOffsetMs: f.ctsOffsetMs,
			IsKeyframe:          f.keyframe,
		})
		offsets[i] = f.offset
		if f.dts+int64(f.ctsOffsetMs) > int64(info.DurationMs) {
			info.DurationMs = uint32(f.dts + int64(f.ctsOffsetMs))
		}
	}
	return info, offsets
}

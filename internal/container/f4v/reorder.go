package f4v

import (
	"sort"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// TagReorder turns tags arriving in file (offset) order into tags leaving
// in a chosen target order — normally timestamp order, since interleaved
// audio/video samples read off disk in offset order are not guaranteed to
// be monotonic in presentation time across tracks.
type TagReorder struct {
	orderByTimestamp bool

	// orderedOffsets lists every frame's file offset in target pop order.
	orderedOffsets []int64
	nextIdx        int

	cache  map[int64]tag.Tag // tags pushed but not yet poppable, by offset
	output []tag.Tag         // tags ready to pop, in order
}

// NewTagReorder builds the target pop order from a MOOV-derived frame
// index. offsets and timestampsMs must be parallel slices in file-offset
// order (BuildMediaInfo's convention).
func NewTagReorder(offsets []int64, timestampsMs []int64, orderByTimestamp bool) *TagReorder {
	tr := &TagReorder{
		orderByTimestamp: orderByTimestamp,
		cache:            make(map[int64]tag.Tag),
	}
	idx := make([]int, len(offsets))
	for i := range idx {
		idx[i] = i
	}
	if orderByTimestamp {
		sort.SliceStable(idx, func(i, j int) bool { return timestampsMs[idx[i]] < timestampsMs[idx[j]] })
	}
	tr.orderedOffsets = make([]int64, len(idx))
	for i, j := range idx {
		tr.orderedOffsets[i] = offsets[j]
	}
	return tr
}

// Push stores t, keyed by the file offset its sample occupied, and promotes
// as many cached tags to the output queue as are now contiguous with the
// target order.
func (tr *TagReorder) Push(offset int64, t tag.Tag) {
	tr.cache[offset] = t
	tr.popCache()
}

func (tr *TagReorder) popCache() {
	for tr.nextIdx < len(tr.orderedOffsets) {
		want := tr.orderedOffsets[tr.nextIdx]
		t, ok := tr.cache[want]
		if !ok {
			return
		}
		delete(tr.cache, want)
		tr.output = append(tr.output, t)
		tr.nextIdx++
	}
}

// Pop returns the next tag in target order, if one is ready.
func (tr *TagReorder) Pop() (tag.Tag, bool) {
	if len(tr.output) == 0 {
		return nil, false
	}
	t := tr.output[0]
	tr.output = tr.output[1:]
	return t, true
}

// Flush force-releases every still-cached tag in whatever offset order
// remains, for use at end-of-stream when the target order can never fully
// complete (e.g. a track ended early).
func (tr *TagReorder) Flush() []tag.Tag {
	remaining := make([]int64, 0, len(tr.cache))
	for off := range tr.cache {
		remaining = append(remaining, off)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	out := tr.output
	tr.output = nil
	for _, off := range remaining {
		out = append(out, tr.cache[off])
	}
	tr.cache = make(map[int64]tag.Tag)
	return out
}

// Package streamtime tracks the relationship between a tag stream's own
// timestamps and wall-clock time, and paces delivery so a subscriber never
// gets more than a configured write-ahead window ahead of real time.
package streamtime

import "github.com/alxayo/go-streamcore/internal/tag"

// Calculator derives two running counters from a tag stream:
//
//   - MediaTimeMs: the declared media position, which segment_started tags
//     can jump arbitrarily (e.g. across a splice or ad break).
//   - StreamTimeMs: the wall-clock-relative position, which only ever
//     advances by each tag's timestamp delta, regardless of segment jumps.
//
// Both start at zero and are reset whenever the caller calls Reset (a new
// source, or a seek).
type Calculator struct {
	lastTagTs    int64
	mediaTimeMs  int64
	streamTimeMs int64
}

// Reset rebases the calculator: the next tag's delta is computed against
// timestampMs, and both counters return to zero.
func (c *Calculator) Reset(timestampMs int64) {
	c.lastTagTs = timestampMs
	c.mediaTimeMs = 0
	c.streamTimeMs = 0
}

// ProcessTag folds one tag into the running counters. Tags with no
// meaningful timestamp (bootstrap markers, end-of-stream, source_ended) are
// ignored entirely.
func (c *Calculator) ProcessTag(t tag.Tag) {
	switch t.Kind() {
	case tag.KindBootstrapBegin, tag.KindBootstrapEnd, tag.KindEOS, tag.KindSourceEnded:
		return
	}

	if t.Kind() == tag.KindSourceStarted {
		c.lastTagTs = t.TimestampMs()
	}

	delta := t.TimestampMs() - c.lastTagTs

	if seg, ok := t.(*tag.SegmentStartedTag); ok {
		c.mediaTimeMs += seg.MediaTimestampMs - c.mediaTimeMs
	} else {
		c.mediaTimeMs += delta
	}

	c.streamTimeMs += delta
	c.lastTagTs = t.TimestampMs()
}

// MediaTimeMs returns the declared media position.
func (c *Calculator) MediaTimeMs() int64 { return c.mediaTimeMs }

// StreamTimeMs returns the wall-clock-relative position.
func (c *Calculator) StreamTimeMs() int64 { return c.streamTimeMs }

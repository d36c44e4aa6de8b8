// Package distributor implements the tag distributor and its bootstrapper:
// the component that fans a single upstream tag stream out to many
// subscribers, bootstrapping each one with the minimum state it needs to
// start rendering from the live point.
package distributor

import "github.com/alxayo/go-streamcore/internal/tag"

// Bootstrapper tracks the "sticky" state a new subscriber must be replayed
// before it can join the live tag flow: the open source_started stack, the
// most recent media-info/cue-points/AVC-AAC sequence headers/MOOV, and
// (when keepMedia is set) every media tag since the last keyframe.
type Bootstrapper struct {
	keepMedia bool

	sourceStarted []*tag.SourceStartedTag
	mediaInfo     *tag.MediaInfoTag
	cuePoints     *tag.CuePointTag
	avcSeqHeader  *tag.MediaTag
	aacHeader     *tag.MediaTag
	moov          *tag.MoovTag

	mediaBootstrap []tag.Tag
}

// NewBootstrapper returns an empty Bootstrapper. keepMedia enables buffering
// every tag since the last keyframe, so late joiners can start mid-GOP
// instead of waiting for the next one.
func NewBootstrapper(keepMedia bool) *Bootstrapper {
	return &Bootstrapper{keepMedia: keepMedia}
}

// ProcessTag updates the bootstrapper's sticky state from a live tag. It
// never mutates or consumes the tag; the distributor is responsible for
// also forwarding it to running subscribers.
func (b *Bootstrapper) ProcessTag(t tag.Tag) {
	switch v := t.(type) {
	case *tag.SourceEndedTag:
		if len(b.sourceStarted) > 0 {
			b.sourceStarted = b.sourceStarted[:len(b.sourceStarted)-1]
		}
		b.ClearBootstrap()
		return

	case *tag.SourceStartedTag:
		b.sourceStarted = append(b.sourceStarted, v)

	case *tag.MediaInfoTag:
		b.mediaInfo = v
		return

	case *tag.CuePointTag:
		b.cuePoints = v
		return

	case *tag.MoovTag:
		b.moov = v
		return

	case *tag.MediaTag:
		if v.Kind() == tag.KindFLV && v.FLV != nil {
			if v.FLV.FrameType == tag.FLVFrameVideo && v.FLV.IsAVCSeqHeader {
				b.avcSeqHeader = v
				return
			}
			if v.FLV.FrameType == tag.FLVFrameAudio && v.FLV.IsAACHeader {
				b.aacHeader = v
				return
			}
		}
	}

	if !b.keepMedia {
		return
	}
	keyframe := t.Attributes()&tag.AttrVideo != 0 && t.Attributes()&tag.AttrCanResync != 0
	if keyframe {
		b.ClearMediaBootstrap()
	}
	if len(b.mediaBootstrap) == 0 && !keyframe {
		// No partial GOP can be replayed; wait for the next keyframe.
		return
	}
	b.mediaBootstrap = append(b.mediaBootstrap, t)
}

// ClearMediaBootstrap drops the buffered media-since-keyframe run, without
// touching the sticky headers or source_started stack.
func (b *Bootstrapper) ClearMediaBootstrap() {
	b.mediaBootstrap = nil
}

// ClearBootstrap drops every sticky field except the source_started stack
// (called on source_ended, and by the distributor on Reset/Switch).
func (b *Bootstrapper) ClearBootstrap() {
	b.mediaInfo = nil
	b.cuePoints = nil
	b.avcSeqHeader = nil
	b.aacHeader = nil
	b.moov = nil
	b.mediaBootstrap = nil
}

// maybeRebase clones t to timestampMs if it is >= 0, else returns t as-is
// a negative timestamp means "don't rebase".
func maybeRebase(t tag.Tag, timestampMs int64) tag.Tag {
	if t == nil {
		return nil
	}
	if timestampMs < 0 {
		return t
	}
	return t.WithTimestamp(timestampMs)
}

// PlayAtBegin emits the full bootstrap sequence a newly joined subscriber
// needs: bootstrap_begin, every open source_started (in push order),
// media-info, cue-points, AVC/AAC sequence headers, MOOV, the buffered
// media run, then bootstrap_end.
// timestampMs < 0 leaves each tag's own timestamp untouched.
func (b *Bootstrapper) PlayAtBegin(emit func(tag.Tag), timestampMs int64, flavourMask tag.FlavourMask) {
	beginTs := timestampMs
	if beginTs < 0 {
		beginTs = 0
	}
	emit(tag.NewBootstrapBeginTag(flavourMask, beginTs))

	for _, st := range b.sourceStarted {
		if rt := maybeRebase(st, timestampMs); rt != nil {
			emit(rt)
		}
	}
	if rt := maybeRebase(b.mediaInfo, timestampMs); rt != nil {
		emit(rt)
	}
	if rt := maybeRebase(b.cuePoints, timestampMs); rt != nil {
		emit(rt)
	}
	if rt := maybeRebase(b.avcSeqHeader, timestampMs); rt != nil {
		emit(rt)
	}
	if rt := maybeRebase(b.aacHeader, timestampMs); rt != nil {
		emit(rt)
	}
	if rt := maybeRebase(b.moov, timestampMs); rt != nil {
		emit(rt)
	}
	for _, mt := range b.mediaBootstrap {
		if rt := maybeRebase(mt, timestampMs); rt != nil {
			emit(rt)
		}
	}

	emit(tag.NewBootstrapEndTag(flavourMask, beginTs))
}

// PlayAtEnd synthesizes a source_ended for every still-open source_started
// whose flavour intersects flavourMask, in LIFO order.
func (b *Bootstrapper) PlayAtEnd(emit func(tag.Tag), flavourMask tag.FlavourMask) {
	for i := len(b.sourceStarted) - 1; i >= 0; i-- {
		st := b.sourceStarted[i]
		if st.FlavourMask()&flavourMask == 0 {
			continue
		}
		emit(tag.NewSourceEndedTag(st.FlavourMask(), 0, st.Name, st.Path, st.IsFinal))
	}
}

// GetBootstrapTags returns the current sticky state as a flat sequence,
// without the begin/end markers (used by callers that want to inspect
// bootstrap contents directly rather than push them through a callback).
func (b *Bootstrapper) GetBootstrapTags() []tag.Tag {
	out := make([]tag.Tag, 0, len(b.sourceStarted)+5+len(b.mediaBootstrap))
	for _, st := range b.sourceStarted {
		out = append(out, st)
	}
	if b.mediaInfo != nil {
		out = append(out, b.mediaInfo)
	}
	if b.cuePoints != nil {
		out = append(out, b.cuePoints)
	}
	if b.avcSeqHeader != nil {
		out = append(out, b.avcSeqHeader)
	}
	if b.aacHeader != nil {
		out = append(out, b.aacHeader)
	}
	if b.moov != nil {
		out = append(out, b.moov)
	}
	out = append(out, b.mediaBootstrap...)
	return out
}

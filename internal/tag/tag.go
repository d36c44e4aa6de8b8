package tag

import "fmt"

// Tag is the common interface every concrete tag type implements: a closed
// set of concrete Go types dispatched by Kind() rather than a virtual
// inheritance hierarchy.
type Tag interface {
	Kind() Kind
	Attributes() Attributes
	FlavourMask() FlavourMask
	TimestampMs() int64

	// WithTimestamp returns a new Tag of the same concrete type sharing any
	// payload, but reporting ts as its timestamp. The receiver is never
	// mutated.
	WithTimestamp(ts int64) Tag

	String() string
}

// Base is embedded by every concrete tag type and implements the three
// fields common to all of them.
type Base struct {
	attrs       Attributes
	flavour     FlavourMask
	timestampMs int64
}

func newBase(attrs Attributes, flavour FlavourMask, ts int64) Base {
	return Base{attrs: attrs, flavour: flavour, timestampMs: ts}
}

func (b Base) Attributes() Attributes   { return b.attrs }
func (b Base) FlavourMask() FlavourMask { return b.flavour }
func (b Base) TimestampMs() int64       { return b.timestampMs }

// ---------------------------------------------------------------------------
// Container payload tags (FLV, F4V, MP3, AAC, RAW, MPEG-TS, Composed).

// FLVMeta carries the FLV-specific fields a FLV tag's body parse fills in
// Populated by container/flv; consumed generically by
// internal/distributor's bootstrapper without that package importing
// container/flv (avoids an import cycle: container codecs depend on tag,
// not the reverse).
type FLVMeta struct {
	FrameType      FLVFrameType
	AudioFormat    uint8 // high nibble of the first audio byte, raw
	IsAACHeader    bool  // AAC sequence header (second byte == 0)
	VideoCodec     uint8 // first byte low nibble, raw
	IsAVCSeqHeader bool  // AVC NALU packet type == sequence header
	IsKeyframe     bool
	MetadataName   string // only for KindFLV tags with FrameType == FLVFrameMetadata
}

// FLVFrameType mirrors the FLV tag type byte.
type FLVFrameType uint8

const (
	FLVFrameAudio FLVFrameType = iota
	FLVFrameVideo
	FLVFrameMetadata
)

// F4VMeta carries the per-frame fields the F4V/MP4 decoder's MOOV-driven
// frame index produces.
type F4VMeta struct {
	Offset     int64
	SampleSize uint32
	SampleIdx  uint32
	IsAudio    bool
	IsKeyframe bool
}

// MediaTag is the concrete type for every tag kind that carries a
// container-level media payload: KindFLV, KindF4V, KindMP3, KindAAC,
// KindRAW, KindMPEGTS, KindComposed.
type MediaTag struct {
	Base
	kind                Kind
	Payload             *Payload
	CompositionOffsetMs int64
	DurationMs          int64

	FLV  *FLVMeta // non-nil only when kind == KindFLV
	F4V  *F4VMeta // non-nil only when kind == KindF4V

	// Composed is the run of constituent tags a KindComposed tag aggregates
	// empty for every other kind.
	Composed []Tag
}

// NewMediaTag constructs a payload-bearing tag of the given kind.
func NewMediaTag(kind Kind, attrs Attributes, flavour FlavourMask, ts int64, payload *Payload) *MediaTag {
	return &MediaTag{Base: newBase(attrs, flavour, ts), kind: kind, Payload: payload}
}

func (t *MediaTag) Kind() Kind { return t.kind }

func (t *MediaTag) WithTimestamp(ts int64) Tag {
	clone := *t
	clone.Base = newBase(t.attrs, t.flavour, ts)
	if t.Payload != nil {
		clone.Payload = t.Payload.Acquire()
	}
	return &clone
}

func (t *MediaTag) String() string {
	return fmt.Sprintf("MediaTag{kind=%s, attrs=%s, flavour=%#x, ts=%d, len=%d}",
		t.kind, t.attrs, uint32(t.flavour), t.timestampMs, t.Payload.Len())
}

// LearnAttributes inspects the FLV/F4V-specific decode results to set
// AUDIO/VIDEO/CAN_RESYNC. Called by the
// container codec right after body parsing, before the tag is handed to the
// rest of the pipeline.
func (t *MediaTag) LearnAttributes() {
	switch t.kind {
	case KindFLV:
		if t.FLV == nil {
			return
		}
		switch t.FLV.FrameType {
		case FLVFrameAudio:
			t.attrs |= AttrAudio
		case FLVFrameVideo:
			t.attrs |= AttrVideo
			if t.FLV.IsKeyframe {
				t.attrs |= AttrCanResync
			}
		case FLVFrameMetadata:
			t.attrs |= AttrMetadata
		}
	case KindF4V:
		if t.F4V == nil {
			return
		}
		if t.F4V.IsAudio {
			t.attrs |= AttrAudio
		} else {
			t.attrs |= AttrVideo
			if t.F4V.IsKeyframe {
				t.attrs |= AttrCanResync
			}
		}
	case KindMP3, KindAAC:
		t.attrs |= AttrAudio
	}
}

// ---------------------------------------------------------------------------
// Descriptor / lifecycle tags.

// MediaInfoTag carries a MediaInfo descriptor (KindMediaInfo).
type MediaInfoTag struct {
	Base
	Info *MediaInfo
}

func NewMediaInfoTag(flavour FlavourMask, ts int64, info *MediaInfo) *MediaInfoTag {
	return &MediaInfoTag{Base: newBase(AttrMetadata, flavour, ts), Info: info}
}
func (t *MediaInfoTag) Kind() Kind { return KindMediaInfo }
func (t *MediaInfoTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *MediaInfoTag) String() string {
	return fmt.Sprintf("MediaInfoTag{ts=%d, info=%s}", t.timestampMs, t.Info)
}

// CuePoint is one (time, position) entry of a cue-point table.
type CuePoint struct {
	TimeMs int64
	Pos    int64
}

// CuePointTag carries a sorted cue-point table (KindCuePoint).
type CuePointTag struct {
	Base
	Points []CuePoint
}

func NewCuePointTag(flavour FlavourMask, ts int64, points []CuePoint) *CuePointTag {
	return &CuePointTag{Base: newBase(AttrMetadata, flavour, ts), Points: points}
}
func (t *CuePointTag) Kind() Kind { return KindCuePoint }
func (t *CuePointTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *CuePointTag) String() string {
	return fmt.Sprintf("CuePointTag{ts=%d, points=%d}", t.timestampMs, len(t.Points))
}

// MoovTag carries the raw MOOV atom bytes emitted once by the F4V decoder
// ahead of frame tags.
type MoovTag struct {
	Base
	Raw []byte
}

func NewMoovTag(flavour FlavourMask, ts int64, raw []byte) *MoovTag {
	return &MoovTag{Base: newBase(0, flavour, ts), Raw: raw}
}
func (t *MoovTag) Kind() Kind { return KindMoov }
func (t *MoovTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *MoovTag) String() string { return fmt.Sprintf("MoovTag{ts=%d, len=%d}", t.timestampMs, len(t.Raw)) }

// FeatureFoundTag signals that a detector found a feature at this point in
// the stream. The detector itself lives outside this package.
type FeatureFoundTag struct {
	Base
	Name string
}

func NewFeatureFoundTag(flavour FlavourMask, ts int64, name string) *FeatureFoundTag {
	return &FeatureFoundTag{Base: newBase(0, flavour, ts), Name: name}
}
func (t *FeatureFoundTag) Kind() Kind { return KindFeatureFound }
func (t *FeatureFoundTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *FeatureFoundTag) String() string {
	return fmt.Sprintf("FeatureFoundTag{ts=%d, name=%s}", t.timestampMs, t.Name)
}

// SourceStartedTag marks the start of a nested source.
// Name identifies the source element/path for LIFO pairing with the
// matching SourceEndedTag.
type SourceStartedTag struct {
	Base
	Name    string
	Path    string
	IsFinal bool
}

func NewSourceStartedTag(flavour FlavourMask, ts int64, name, path string, isFinal bool) *SourceStartedTag {
	return &SourceStartedTag{Base: newBase(0, flavour, ts), Name: name, Path: path, IsFinal: isFinal}
}
func (t *SourceStartedTag) Kind() Kind { return KindSourceStarted }
func (t *SourceStartedTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *SourceStartedTag) String() string {
	return fmt.Sprintf("SourceStartedTag{ts=%d, name=%s, path=%s, final=%v}", t.timestampMs, t.Name, t.Path, t.IsFinal)
}

// SourceEndedTag is the LIFO-paired counterpart of a SourceStartedTag.
type SourceEndedTag struct {
	Base
	Name    string
	Path    string
	IsFinal bool
}

func NewSourceEndedTag(flavour FlavourMask, ts int64, name, path string, isFinal bool) *SourceEndedTag {
	return &SourceEndedTag{Base: newBase(0, flavour, ts), Name: name, Path: path, IsFinal: isFinal}
}
func (t *SourceEndedTag) Kind() Kind { return KindSourceEnded }
func (t *SourceEndedTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *SourceEndedTag) String() string {
	return fmt.Sprintf("SourceEndedTag{ts=%d, name=%s, path=%s, final=%v}", t.timestampMs, t.Name, t.Path, t.IsFinal)
}

// SegmentStartedTag announces a new media segment at a declared media
// timestamp.
type SegmentStartedTag struct {
	Base
	MediaTimestampMs int64
}

func NewSegmentStartedTag(flavour FlavourMask, ts, mediaTimestampMs int64) *SegmentStartedTag {
	return &SegmentStartedTag{Base: newBase(0, flavour, ts), MediaTimestampMs: mediaTimestampMs}
}
func (t *SegmentStartedTag) Kind() Kind { return KindSegmentStarted }
func (t *SegmentStartedTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *SegmentStartedTag) String() string {
	return fmt.Sprintf("SegmentStartedTag{ts=%d, media_ts=%d}", t.timestampMs, t.MediaTimestampMs)
}

// signalTag is the shared shape of the pure-lifecycle markers that carry no
// payload beyond kind/flavour/timestamp: BOS, EOS, BootstrapBegin,
// BootstrapEnd, SeekPerformed, Flush.
type signalTag struct {
	Base
	kind  Kind
	Force bool // meaningful for EOS: a "forced" end-of-stream
}

func (t *signalTag) Kind() Kind { return t.kind }
func (t *signalTag) WithTimestamp(ts int64) Tag {
	c := *t
	c.Base = newBase(t.attrs, t.flavour, ts)
	return &c
}
func (t *signalTag) String() string {
	return fmt.Sprintf("%sTag{ts=%d, forced=%v}", t.kind, t.timestampMs, t.Force)
}

func newSignalTag(kind Kind, flavour FlavourMask, ts int64, forced bool) Tag {
	return &signalTag{Base: newBase(0, flavour, ts), kind: kind, Force: forced}
}

func NewBOSTag(flavour FlavourMask, ts int64) Tag            { return newSignalTag(KindBOS, flavour, ts, false) }
func NewEOSTag(flavour FlavourMask, ts int64, forced bool) Tag { return newSignalTag(KindEOS, flavour, ts, forced) }
func NewBootstrapBeginTag(flavour FlavourMask, ts int64) Tag {
	return newSignalTag(KindBootstrapBegin, flavour, ts, false)
}
func NewBootstrapEndTag(flavour FlavourMask, ts int64) Tag {
	return newSignalTag(KindBootstrapEnd, flavour, ts, false)
}
func NewSeekPerformedTag(flavour FlavourMask, ts int64) Tag {
	return newSignalTag(KindSeekPerformed, flavour, ts, false)
}
func NewFlushTag(flavour FlavourMask, ts int64) Tag { return newSignalTag(KindFlush, flavour, ts, false) }

// IsForcedEOS reports whether t is an end-of-stream tag delivered with the
// forced flag: format/auth failures force-close subscribers this way.
func IsForcedEOS(t Tag) bool {
	s, ok := t.(*signalTag)
	return ok && s.kind == KindEOS && s.Force
}

// Package tag defines the fundamental unit flowing through the media
// pipeline: a timestamped, typed, attributed frame of media or control
// information.
package tag

import "fmt"

// Kind is the discriminant of the Tag sum type. Go has no native sum types;
// the pipeline models one with an interface (Tag) implemented by a small set
// of concrete structs, each reporting its own Kind.
type Kind uint8

const (
	KindInvalid Kind = iota

	// Container headers.
	KindFLVHeader

	// Container payloads.
	KindFLV
	KindF4V
	KindMP3
	KindAAC
	KindRAW
	KindMPEGTS

	// The parsed MOOV atom, emitted once by the F4V decoder ahead of frame
	// tags.
	KindMoov

	// Descriptors and metadata.
	KindMediaInfo
	KindCuePoint
	KindFeatureFound

	// Lifecycle / control.
	KindSourceStarted
	KindSourceEnded
	KindSegmentStarted
	KindComposed
	KindBOS
	KindEOS
	KindBootstrapBegin
	KindBootstrapEnd
	KindSeekPerformed
	KindFlush
)

func (k Kind) String() string {
	switch k {
	case KindFLVHeader:
		return "FLV_HEADER"
	case KindFLV:
		return "FLV"
	case KindF4V:
		return "F4V"
	case KindMP3:
		return "MP3"
	case KindAAC:
		return "AAC"
	case KindRAW:
		return "RAW"
	case KindMPEGTS:
		return "MPEG_TS"
	case KindMoov:
		return "MOOV"
	case KindMediaInfo:
		return "MEDIA_INFO"
	case KindCuePoint:
		return "CUE_POINT"
	case KindFeatureFound:
		return "FEATURE_FOUND"
	case KindSourceStarted:
		return "SOURCE_STARTED"
	case KindSourceEnded:
		return "SOURCE_ENDED"
	case KindSegmentStarted:
		return "SEGMENT_STARTED"
	case KindComposed:
		return "COMPOSED"
	case KindBOS:
		return "BOS"
	case KindEOS:
		return "EOS"
	case KindBootstrapBegin:
		return "BOOTSTRAP_BEGIN"
	case KindBootstrapEnd:
		return "BOOTSTRAP_END"
	case KindSeekPerformed:
		return "SEEK_PERFORMED"
	case KindFlush:
		return "FLUSH"
	}
	return "INVALID"
}

// IsMediaPayload reports whether a tag of this kind carries a decodable
// media payload (as opposed to a lifecycle/descriptor tag).
func (k Kind) IsMediaPayload() bool {
	switch k {
	case KindFLV, KindF4V, KindMP3, KindAAC, KindRAW, KindMPEGTS, KindComposed:
		return true
	}
	return false
}

// Attributes is a bitmask of per-tag attribute flags.
type Attributes uint8

const (
	AttrMetadata Attributes = 1 << iota
	AttrAudio
	AttrVideo
	AttrDroppable
	AttrCanResync
)

// String renders attributes as one letter per flag, '-' when absent, in
// a fixed order: metadata, audio, video, droppable, can-resync.
func (a Attributes) String() string {
	chars := [5]byte{'-', '-', '-', '-', '-'}
	if a&AttrMetadata != 0 {
		chars[0] = 'M'
	}
	if a&AttrAudio != 0 {
		chars[1] = 'A'
	}
	if a&AttrVideo != 0 {
		chars[2] = 'V'
	}
	if a&AttrDroppable != 0 {
		chars[3] = 'D'
	}
	if a&AttrCanResync != 0 {
		chars[4] = 'R'
	}
	return string(chars[:])
}

// FlavourMask is a 32-bit set of up to 32 distinct "flavours" used to route
// tags to subsets of subscribers (alternate bitrates/profiles).
// Zero is forbidden on a subscriber request; a tag may carry any subset.
type FlavourMask uint32

// FlavourAll matches every subscriber regardless of requested flavour.
const FlavourAll FlavourMask = 0xFFFFFFFF

// Matches reports whether a tag bearing mask m should reach a subscriber
// whose request carries sub (sub must be exactly one bit, but
// Matches does not enforce that — callers validate at request creation).
func (m FlavourMask) Matches(sub FlavourMask) bool { return m&sub != 0 }

// Flavour returns the single-bit mask for flavour index i (0-31).
func Flavour(i int) FlavourMask {
	if i < 0 || i > 31 {
		panic(fmt.Sprintf("tag: flavour index out of range: %d", i))
	}
	return FlavourMask(1) << uint(i)
}

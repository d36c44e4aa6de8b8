// Package element defines the media-graph surface: the Element/Request/
// Controller contract every tag source/sink implements, the ElementMapper
// that resolves a media path to an element, and the Authorizer hook that
// gates requests.
package element

import (
	"github.com/alxayo/go-streamcore/internal/distributor"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Capabilities describes what a subscriber accepts: the flavour bit it
// requested and, once an element has accepted the request, the flavour
// mask it actually serves, once an element accepts the request.
type Capabilities struct {
	FlavourMask tag.FlavourMask
}

// Controller is the subset of a connection-side stream a normalizer or
// element can use to apply flow control or honor a seek. It is the same
// shape streamtime.Normalizer expects, plus Seek.
type Controller interface {
	SupportsPause() bool
	Pause(paused bool)
	SupportsSeek() bool
	Seek(timestampMs int64) error
}

// Request is the per-subscriber object created by a connection-side
// stream and handed to the element mapper.
type Request struct {
	MediaPath    string
	Capabilities Capabilities
	Controller   Controller // nil if the subscriber doesn't support pause/seek
	WriteAheadMs int64

	Auth AuthorizerRequest

	// Element is set by whichever element accepts this request via
	// AddRequest, and cleared by RemoveRequest.
	Element Element
}

// Callback is the per-tag delivery function an element calls for a
// request's lifetime; matches distributor.Callback so elements can hand a
// request's callback directly to an embedded Distributor.
type Callback = distributor.Callback

// Element is the polymorphic media source/sink contract: add_request,
// remove_request, has_media, describe_media, list_media, close. A tag
// distributor may be embedded inside one.
type Element interface {
	Initialize() error

	// AddRequest attempts to serve req from mediaPath. On success the
	// element owns req and cb, filling req.Capabilities.FlavourMask with
	// the flavour mask it will actually serve.
	AddRequest(mediaPath string, req *Request, cb Callback) error

	// RemoveRequest tears a request down. cb may still receive a
	// synthetic end-of-stream before removal completes.
	RemoveRequest(req *Request)

	HasMedia(path string) bool
	ListMedia(dir string) []string

	// DescribeMedia is asynchronous: cb eventually receives the media's
	// MediaInfo, or nil if path is unknown.
	DescribeMedia(path string, cb func(*tag.MediaInfo))

	// Close is asynchronous: onDone fires once every request has received
	// end-of-stream and been removed.
	Close(onDone func())
}

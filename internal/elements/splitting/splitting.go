// Package splitting implements the splitting element: it wraps an
// upstream element's RAW byte stream and reassembles it, per subscriber,
// into typed tags via a container splitter. Each subscriber gets its own
// memory stream and splitter instance; an oversized reassembly buffer is
// a fatal error for that subscriber alone, and non-RAW tags pass through
// untouched.
package splitting

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Splitter is the contract every internal/container package implements:
// pull one tag from a stream of bytes, or an error once the stream has no
// complete tag left to offer.
type Splitter interface {
	Next(r *bufio.Reader) (tag.Tag, error)
}

// NewSplitterFunc builds a fresh Splitter for one subscriber's byte stream.
type NewSplitterFunc func() Splitter

// Element registers upstream with tag_type = RAW; on each RAW tag it
// appends bytes to a per-request byte stream and runs a container splitter
// to extract tags. max_tag_size caps the reassembly buffer; exceeding it
// is fatal for the subscriber.
type Element struct {
	name        string
	upstream    element.Element
	newSplitter NewSplitterFunc
	maxTagSize  int

	states map[*element.Request]*requestState
}

type requestState struct {
	req      *element.Request
	upReq    *element.Request
	splitter Splitter
	buf      []byte
	cb       element.Callback
	closed   bool
}

// New returns a splitting Element that demuxes upstream's RAW tag stream
// using a fresh Splitter (from newSplitter) per subscriber. maxTagSize <= 0
// means unbounded reassembly.
func New(name string, upstream element.Element, newSplitter NewSplitterFunc, maxTagSize int) *Element {
	return &Element{
		name:        name,
		upstream:    upstream,
		newSplitter: newSplitter,
		maxTagSize:  maxTagSize,
		states:      make(map[*element.Request]*requestState),
	}
}

func (e *Element) Initialize() error { return e.upstream.Initialize() }

// AddRequest registers a shadow request against upstream (same flavour
// mask, RAW framing implied) and demuxes whatever it emits into req's
// callback.
func (e *Element) AddRequest(mediaPath string, req *element.Request, cb element.Callback) error {
	st := &requestState{req: req, splitter: e.newSplitter(), cb: cb}
	upReq := &element.Request{
		MediaPath:    mediaPath,
		Capabilities: element.Capabilities{FlavourMask: req.Capabilities.FlavourMask},
		Controller:   req.Controller,
		WriteAheadMs: req.WriteAheadMs,
	}
	st.upReq = upReq

	if err := e.upstream.AddRequest(mediaPath, upReq, func(t tag.Tag, ts int64) {
		e.onUpstreamTag(st, t, ts)
	}); err != nil {
		return fmt.Errorf("splitting: %s: add_request upstream: %w", e.name, err)
	}

	req.Capabilities.FlavourMask = upReq.Capabilities.FlavourMask
	e.states[req] = st
	return nil
}

func (e *Element) RemoveRequest(req *element.Request) {
	st, ok := e.states[req]
	if !ok {
		return
	}
	delete(e.states, req)
	e.upstream.RemoveRequest(st.upReq)
}

func (e *Element) HasMedia(path string) bool      { return e.upstream.HasMedia(path) }
func (e *Element) ListMedia(dir string) []string  { return e.upstream.ListMedia(dir) }
func (e *Element) Close(onDone func())            { e.upstream.Close(onDone) }
func (e *Element) DescribeMedia(path string, cb func(*tag.MediaInfo)) {
	e.upstream.DescribeMedia(path, cb)
}

// passthroughKind reports whether a tag kind carries no RAW bytes and
// should simply be forwarded (media-info, lifecycle/control markers).
func passthroughKind(k tag.Kind) bool {
	switch k {
	case tag.KindRAW:
		return false
	default:
		return true
	}
}

func (e *Element) onUpstreamTag(st *requestState, t tag.Tag, ts int64) {
	if st.closed {
		return
	}
	if t.Kind() == tag.KindEOS {
		st.closed = true
		st.cb(t, ts)
		return
	}
	if passthroughKind(t.Kind()) {
		st.cb(t, ts)
		return
	}

	mt, ok := t.(*tag.MediaTag)
	if !ok {
		st.cb(t, ts)
		return
	}
	st.buf = append(st.buf, mt.Payload.Bytes()...)

	for {
		newTag, consumed, err := drainOne(st.splitter, st.buf)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // not enough bytes buffered yet for a full tag
			}
			e.fail(st, ts)
			return
		}
		st.buf = st.buf[consumed:]
		st.cb(newTag, newTag.TimestampMs())
	}

	if e.maxTagSize > 0 && len(st.buf) > e.maxTagSize {
		e.fail(st, ts)
	}
}

// fail emits a synthetic end-of-stream to the subscriber once its
// reassembly buffer is corrupted or has grown past max_tag_size.
func (e *Element) fail(st *requestState, ts int64) {
	st.closed = true
	st.cb(tag.NewEOSTag(st.req.Capabilities.FlavourMask, ts, false), ts)
}

// drainOne attempts to pull exactly one tag out of buf without consuming
// any bytes the splitter didn't actually need: bufio.Reader read-ahead
// means the bytes it pulled from the underlying reader can exceed what it
// handed back to the splitter, so consumed is computed as
// (bytes pulled from buf) - (bytes still sitting in bufio's internal
// buffer), not simply len(buf) minus the reader's remaining length.
func drainOne(splitter Splitter, buf []byte) (t tag.Tag, consumed int, err error) {
	br := bytes.NewReader(buf)
	bufioR := bufio.NewReader(br)

	t, err = splitter.Next(bufioR)
	if err != nil {
		return nil, 0, err
	}

	pulled := int64(len(buf)) - int64(br.Len())
	buffered := int64(bufioR.Buffered())
	return t, int(pulled - buffered), nil
}

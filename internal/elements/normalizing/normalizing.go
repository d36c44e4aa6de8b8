// Package normalizing implements the normalizing element: a per-flavour
// flow-control wrapper that paces a subscriber's tag stream to roughly
// real time using the write-ahead budget on its request, pausing and
// resuming the upstream controller as needed. It keeps one
// streamtime.Normalizer per flavour bit actually observed on a request,
// created lazily on first sight of that bit.
package normalizing

import (
	"math/bits"

	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/streamtime"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Element wraps an upstream element and runs every subscriber's tags through
// a per-flavour streamtime.Normalizer before forwarding them unchanged.
type Element struct {
	name     string
	upstream element.Element

	states map[*element.Request]*requestState
}

type requestState struct {
	req        *element.Request
	upReq      *element.Request
	cb         element.Callback
	flavourCap tag.FlavourMask
	normalizer [32]*streamtime.Normalizer
}

// New returns a normalizing Element wrapping upstream.
func New(name string, upstream element.Element) *Element {
	return &Element{name: name, upstream: upstream, states: make(map[*element.Request]*requestState)}
}

func (e *Element) Initialize() error { return e.upstream.Initialize() }

func (e *Element) AddRequest(mediaPath string, req *element.Request, cb element.Callback) error {
	st := &requestState{req: req, cb: cb, flavourCap: req.Capabilities.FlavourMask}
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
		return err
	}

	req.Capabilities.FlavourMask = upReq.Capabilities.FlavourMask
	st.flavourCap = req.Capabilities.FlavourMask
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

func (e *Element) HasMedia(path string) bool     { return e.upstream.HasMedia(path) }
func (e *Element) ListMedia(dir string) []string { return e.upstream.ListMedia(dir) }
func (e *Element) Close(onDone func())           { e.upstream.Close(onDone) }
func (e *Element) DescribeMedia(path string, cb func(*tag.MediaInfo)) {
	e.upstream.DescribeMedia(path, cb)
}

// onUpstreamTag runs t through the normalizer for the rightmost flavour bit
// it carries (restricted to what the subscriber actually asked for), purely
// for its pacing side effect, then forwards t unchanged: the normalizer never
// rewrites or drops a tag, it only throttles the upstream's controller.
func (e *Element) onUpstreamTag(st *requestState, t tag.Tag, ts int64) {
	mask := t.FlavourMask() & st.flavourCap
	if mask != 0 {
		id := bits.TrailingZeros32(uint32(mask))
		n := st.normalizer[id]
		if n == nil {
			n = streamtime.NewNormalizer()
			n.Reset(controllerOf(st.req), st.req.WriteAheadMs)
			st.normalizer[id] = n
		}
		n.ProcessTag(t)
	}
	st.cb(t, ts)
}

// controllerOf adapts an element.Controller to streamtime.Controller; both
// share the same Pause/SupportsPause shape by construction.
func controllerOf(req *element.Request) streamtime.Controller {
	if req.Controller == nil {
		return nil
	}
	return req.Controller
}

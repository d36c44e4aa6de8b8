package tag

import "sync/atomic"

// Payload is the shared, immutable byte body of a media tag. Multiple tags
// (e.g. a tag and its WithTimestamp rebase) may share one Payload; it is
// released back to its origin pool only once every holder has dropped it.
//
// Reference counting uses a plain atomic counter plus an explicit release
// hook; there is no borrow checker to erase the bookkeeping, so the
// counter stays, but GC already covers the case where every holder
// forgot to call Release.
type Payload struct {
	data    []byte
	refs    int32
	release func([]byte)
}

// NewPayload wraps data as an owned, unpooled payload with one reference.
func NewPayload(data []byte) *Payload {
	return &Payload{data: data, refs: 1}
}

// NewPooledPayload wraps data together with a release hook invoked once the
// last reference is dropped (typically returning the buffer to a bufpool).
func NewPooledPayload(data []byte, release func([]byte)) *Payload {
	return &Payload{data: data, refs: 1, release: release}
}

// Bytes returns the payload's bytes. Callers must not mutate the returned
// slice: payloads are logically immutable once shared.
func (p *Payload) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// Len returns the payload length, or 0 for a nil payload.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.data)
}

// Acquire increments the reference count and returns p, so callers can write
// `shared = payload.Acquire()` when handing the same payload to a second tag.
func (p *Payload) Acquire() *Payload {
	if p == nil {
		return nil
	}
	atomic.AddInt32(&p.refs, 1)
	return p
}

// Release decrements the reference count, invoking the release hook (if any)
// when it reaches zero. Safe to call on nil.
func (p *Payload) Release() {
	if p == nil {
		return
	}
	if atomic.AddInt32(&p.refs, -1) == 0 && p.release != nil {
		p.release(p.data)
		p.data = nil
	}
}

package splitting

import (
	"bufio"
	"io"
	"testing"

	"github.com/alxayo/go-streamcore/internal/container/raw"
	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// fakeUpstream emits whatever raw chunks are pushed into it via feed, as
// RAW media tags, to whichever single request last registered.
type fakeUpstream struct {
	cb element.Callback
}

func (u *fakeUpstream) Initialize() error { return nil }
func (u *fakeUpstream) AddRequest(mediaPath string, req *element.Request, cb element.Callback) error {
	u.cb = cb
	req.Capabilities.FlavourMask = tag.FlavourAll
	return nil
}
func (u *fakeUpstream) RemoveRequest(req *element.Request)                  {}
func (u *fakeUpstream) HasMedia(path string) bool                          { return true }
func (u *fakeUpstream) ListMedia(dir string) []string                      { return nil }
func (u *fakeUpstream) DescribeMedia(path string, cb func(*tag.MediaInfo)) { cb(nil) }
func (u *fakeUpstream) Close(onDone func())                                { onDone() }

func (u *fakeUpstream) feed(data []byte) {
	u.cb(tag.NewMediaTag(tag.KindRAW, 0, tag.FlavourAll, 0, tag.NewPayload(data)), 0)
}
func (u *fakeUpstream) feedEOS() {
	u.cb(tag.NewEOSTag(tag.FlavourAll, 0, false), 0)
}

// fixedChunkSplitter is a strict fixed-size Splitter fixture: unlike
// container/raw.Splitter (which tolerates a short final read so a
// file-at-rest's trailing partial chunk still comes out as a tag), it never
// consumes a short read, matching how the real container splitters (flv,
// f4v, mp3, aac) signal "not enough buffered yet" via Peek before committing
// to a read.
type fixedChunkSplitter struct{ size int }

func (s *fixedChunkSplitter) Next(r *bufio.Reader) (tag.Tag, error) {
	body := make([]byte, s.size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return tag.NewMediaTag(tag.KindRAW, 0, tag.FlavourAll, 0, tag.NewPayload(body)), nil
}

func newFixedChunkSplitter(size int) NewSplitterFunc {
	return func() Splitter { return &fixedChunkSplitter{size: size} }
}

func TestSplittingElementReassemblesAcrossPartialChunks(t *testing.T) {
	up := &fakeUpstream{}
	e := New("split", up, newFixedChunkSplitter(4), 0)

	var got []tag.Tag
	req := &element.Request{MediaPath: "m", Capabilities: element.Capabilities{FlavourMask: tag.FlavourAll}}
	if err := e.AddRequest("m", req, func(tg tag.Tag, ts int64) { got = append(got, tg) }); err != nil {
		t.Fatalf("add_request: %v", err)
	}

	// 8 bytes split across two upstream pushes that don't align with the
	// container's 4-byte chunk boundary.
	up.feed([]byte{1, 2, 3})
	up.feed([]byte{4, 5, 6, 7, 8})
	up.feedEOS()

	var mediaTags, eos int
	for _, tg := range got {
		if tg.Kind() == tag.KindEOS {
			eos++
			continue
		}
		mediaTags++
	}
	if mediaTags != 2 {
		t.Fatalf("expected 2 reassembled raw chunks, got %d (%+v)", mediaTags, got)
	}
	if eos != 1 {
		t.Fatalf("expected exactly one EOS forwarded, got %d", eos)
	}
}

func TestSplittingElementFailsSubscriberOnOversizedBuffer(t *testing.T) {
	up := &fakeUpstream{}
	e := New("split", up, newFixedChunkSplitter(1000), 4)

	var got []tag.Tag
	req := &element.Request{MediaPath: "m", Capabilities: element.Capabilities{FlavourMask: tag.FlavourAll}}
	e.AddRequest("m", req, func(tg tag.Tag, ts int64) { got = append(got, tg) })

	up.feed([]byte{1, 2, 3, 4, 5, 6, 7, 8}) // 8 bytes buffered, needs 1000 for a chunk
	if len(got) != 1 || got[0].Kind() != tag.KindEOS {
		t.Fatalf("expected a single synthetic EOS once buffer exceeds max_tag_size, got %+v", got)
	}
}

func TestDrainOneReportsExactConsumedBytes(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	splitter := raw.NewSplitter(4, 10)
	tg, consumed, err := drainOne(splitter, buf)
	if err != nil {
		t.Fatalf("drainOne: %v", err)
	}
	if consumed != 4 {
		t.Fatalf("expected 4 bytes consumed, got %d", consumed)
	}
	mt, ok := tg.(*tag.MediaTag)
	if !ok || len(mt.Payload.Bytes()) != 4 {
		t.Fatalf("expected a 4-byte media tag, got %+v", tg)
	}
}

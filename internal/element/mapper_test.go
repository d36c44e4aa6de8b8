package element

import (
	"testing"

	"github.com/alxayo/go-streamcore/internal/tag"
)

type fakeElement struct {
	name        string
	media       map[string]bool
	addErr      error
	removed     []*Request
	describeRes *tag.MediaInfo
}

func (e *fakeElement) Initialize() error { return nil }
func (e *fakeElement) AddRequest(mediaPath string, req *Request, cb Callback) error {
	if e.addErr != nil {
		return e.addErr
	}
	req.Capabilities.FlavourMask = tag.FlavourAll
	return nil
}
func (e *fakeElement) RemoveRequest(req *Request) { e.removed = append(e.removed, req) }
func (e *fakeElement) HasMedia(path string) bool  { return e.media[path] }
func (e *fakeElement) ListMedia(dir string) []string {
	var out []string
	for k := range e.media {
		out = append(out, k)
	}
	return out
}
func (e *fakeElement) DescribeMedia(path string, cb func(*tag.MediaInfo)) { cb(e.describeRes) }
func (e *fakeElement) Close(onDone func())                                { onDone() }

func TestMapperResolvesByExactName(t *testing.T) {
	m := NewMapper()
	fe := &fakeElement{name: "live", media: map[string]bool{"live/stream1": true}}
	if err := m.RegisterElement("live", fe); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := m.GetElementByName("live")
	if !ok || got != fe {
		t.Fatalf("expected exact-name resolution to find registered element")
	}
}

func TestMapperResolvesByAlias(t *testing.T) {
	m := NewMapper()
	fe := &fakeElement{name: "live"}
	m.RegisterElement("live", fe)
	m.SetAlias("home", "live")

	got, ok := m.GetElementByName("home")
	if !ok || got != fe {
		t.Fatalf("expected alias resolution to find aliased element")
	}
}

func TestMapperResolvesByLongestPrefix(t *testing.T) {
	m := NewMapper()
	short := &fakeElement{name: "short"}
	long := &fakeElement{name: "long"}
	m.RegisterPrefix("media/", short)
	m.RegisterPrefix("media/vod/", long)

	got, ok := m.GetElementByName("media/vod/movie1")
	if !ok || got != long {
		t.Fatalf("expected longest-prefix match to win, got %v", got)
	}

	got2, ok := m.GetElementByName("media/live1")
	if !ok || got2 != short {
		t.Fatalf("expected shorter prefix to match when the longer one doesn't apply")
	}
}

func TestMapperFallsBackToDelegateMapper(t *testing.T) {
	primary := NewMapper()
	fallback := NewMapper()
	fe := &fakeElement{name: "archive"}
	fallback.RegisterElement("archive", fe)
	if err := primary.SetFallback(fallback); err != nil {
		t.Fatalf("set fallback: %v", err)
	}

	got, ok := primary.GetElementByName("archive")
	if !ok || got != fe {
		t.Fatalf("expected unresolved path to fall back to delegate mapper")
	}
}

func TestMapperSetFallbackRejectsSelf(t *testing.T) {
	m := NewMapper()
	if err := m.SetFallback(m); err == nil {
		t.Fatalf("expected error setting a mapper as its own fallback")
	}
}

func TestMapperAddRequestFillsCapabilitiesOnSuccess(t *testing.T) {
	m := NewMapper()
	fe := &fakeElement{name: "live"}
	m.RegisterElement("live", fe)

	req := &Request{MediaPath: "live"}
	if err := m.AddRequest("live", req, func(tag.Tag, int64) {}); err != nil {
		t.Fatalf("add_request: %v", err)
	}
	if req.Capabilities.FlavourMask != tag.FlavourAll {
		t.Fatalf("expected element to fill capabilities")
	}
	if req.Element != fe {
		t.Fatalf("expected request.Element to be set to the serving element")
	}
}

func TestMapperRemoveRequestClearsElement(t *testing.T) {
	m := NewMapper()
	fe := &fakeElement{name: "live"}
	m.RegisterElement("live", fe)

	req := &Request{MediaPath: "live"}
	m.AddRequest("live", req, func(tag.Tag, int64) {})
	m.RemoveRequest(req)

	if req.Element != nil {
		t.Fatalf("expected request.Element cleared after remove")
	}
	if len(fe.removed) != 1 {
		t.Fatalf("expected element to observe the removed request")
	}
}

func TestMapperGetAuthorizerDefaultsToAllowAll(t *testing.T) {
	m := NewMapper()
	a := m.GetAuthorizer("nonexistent")
	if _, ok := a.(AllowAllAuthorizer); !ok {
		t.Fatalf("expected AllowAllAuthorizer fallback, got %T", a)
	}
}

func TestMapperImporterRegistration(t *testing.T) {
	m := NewMapper()
	imp := &fakeImporter{fakeElement: fakeElement{name: "pub"}, typ: "rtmp", path: "/live"}
	if err := m.AddImporter(imp); err != nil {
		t.Fatalf("add importer: %v", err)
	}
	got, ok := m.GetImporter("rtmp", "/live")
	if !ok || got != imp {
		t.Fatalf("expected importer lookup to succeed")
	}
	m.RemoveImporter(imp)
	if _, ok := m.GetImporter("rtmp", "/live"); ok {
		t.Fatalf("expected importer removed")
	}
}

type fakeImporter struct {
	fakeElement
	typ  string
	path string
}

func (i *fakeImporter) ImporterType() string { return i.typ }
func (i *fakeImporter) ImporterPath() string { return i.path }

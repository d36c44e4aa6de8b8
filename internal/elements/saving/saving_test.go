package saving

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/tag"
)

type fakeMapper struct {
	mu      sync.Mutex
	addErr  error
	cb      element.Callback
	req     *element.Request
	removed int
}

func (m *fakeMapper) AddRequest(mediaPath string, req *element.Request, cb element.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.cb = cb
	m.req = req
	return nil
}
func (m *fakeMapper) RemoveRequest(req *element.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed++
}
func (m *fakeMapper) callback() element.Callback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}
func (m *fakeMapper) setAddErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addErr = err
}
func (m *fakeMapper) removedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

func TestSavingElementWritesTagsAndRenamesOnEOS(t *testing.T) {
	dir := t.TempDir()
	m := &fakeMapper{}
	e := New("rec", m, "live/stream1", dir)
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	if err := e.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cb := m.callback()
	if cb == nil {
		t.Fatalf("expected element to have subscribed via mapper")
	}

	partPath := filepath.Join(dir, "rec-20260102T030405.000.flv.part")
	if _, err := os.Stat(partPath); err != nil {
		t.Fatalf("expected part file to exist: %v", err)
	}

	audio := tag.NewMediaTag(tag.KindFLV, tag.AttrAudio, tag.FlavourAll, 0, tag.NewPayload([]byte{1, 2, 3}))
	audio.FLV = &tag.FLVMeta{FrameType: tag.FLVFrameAudio}
	cb(audio, 0)

	cb(tag.NewEOSTag(tag.FlavourAll, 0, false), 0)

	finalPath := filepath.Join(dir, "rec-20260102T030405.000.flv")
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected part file renamed to final path after EOS: %v", err)
	}
	if _, err := os.Stat(partPath); err == nil {
		t.Fatalf("expected part file gone after rename")
	}
	if got := m.removedCount(); got != 1 {
		t.Fatalf("expected upstream request removed on EOS, got %d removals", got)
	}
}

func TestSavingElementSchedulesReconnectOnAddRequestFailure(t *testing.T) {
	dir := t.TempDir()
	m := &fakeMapper{addErr: errOops}
	e := New("rec", m, "live/stream1", dir)
	e.reconnect = time.Millisecond

	if err := e.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if m.callback() != nil {
		t.Fatalf("expected no subscription while upstream add_request fails")
	}

	deadline := time.Now().Add(time.Second)
	for m.callback() == nil && time.Now().Before(deadline) {
		m.setAddErr(nil)
		time.Sleep(time.Millisecond)
	}
	if m.callback() == nil {
		t.Fatalf("expected reconnect to eventually succeed once add_request stops failing")
	}
	e.Close(nil)
}

type stubErr string

func (e stubErr) Error() string { return string(e) }

var errOops = stubErr("upstream unavailable")

package streamtime

import (
	"sync"
	"testing"

	"github.com/alxayo/go-streamcore/internal/tag"
)

type fakeController struct {
	mu     sync.Mutex
	paused bool
	calls  int
}

func (f *fakeController) SupportsPause() bool { return true }
func (f *fakeController) Pause(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
	f.calls++
}
func (f *fakeController) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func TestNormalizerDisabledWithoutWriteAhead(t *testing.T) {
	n := NewNormalizer()
	ctrl := &fakeController{}
	n.Reset(ctrl, 0)

	n.ProcessTag(tag.NewMediaTag(tag.KindAAC, tag.AttrAudio, tag.FlavourAll, 0, tag.NewPayload([]byte{1})))
	n.ProcessTag(tag.NewMediaTag(tag.KindAAC, tag.AttrAudio, tag.FlavourAll, 100000, tag.NewPayload([]byte{2})))

	if ctrl.isPaused() {
		t.Fatalf("expected no pause when write-ahead pacing is disabled")
	}
}

func TestNormalizerPausesWhenStreamRunsAheadOfRealTime(t *testing.T) {
	n := NewNormalizer()
	ctrl := &fakeController{}
	n.Reset(ctrl, 20) // 20ms write-ahead budget

	// Feed many small-delta tags back-to-back with no real sleep between
	// them: stream time races far ahead of elapsed wall time, so the
	// write-ahead budget should exhaust and the source gets paused.
	ts := int64(0)
	for i := 0; i < 30; i++ {
		ts += 20
		n.ProcessTag(tag.NewMediaTag(tag.KindAAC, tag.AttrAudio, tag.FlavourAll, ts, tag.NewPayload([]byte{1})))
		if ctrl.isPaused() {
			return
		}
	}
	t.Fatalf("expected controller to be paused once stream outran its write-ahead budget")
}

func TestNormalizerRestartsPacingOnSourceStarted(t *testing.T) {
	n := NewNormalizer()
	ctrl := &fakeController{}
	n.Reset(ctrl, 20)

	ts := int64(0)
	for i := 0; i < 30 && !ctrl.isPaused(); i++ {
		ts += 20
		n.ProcessTag(tag.NewMediaTag(tag.KindAAC, tag.AttrAudio, tag.FlavourAll, ts, tag.NewPayload([]byte{1})))
	}
	if !ctrl.isPaused() {
		t.Fatalf("expected pause before source_started")
	}

	n.ProcessTag(tag.NewSourceStartedTag(tag.FlavourAll, ts, "src", "src", false))

	n.mu.Lock()
	pending := n.resumeTime
	n.mu.Unlock()
	if pending != nil {
		t.Fatalf("expected source_started to cancel any pending unpause timer")
	}
}

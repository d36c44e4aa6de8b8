package streamtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alxayo/go-streamcore/internal/tag"
)

// Controller is the subset of an element's control surface the normalizer
// needs to throttle a pushy source: pause it when it gets too far ahead of
// real time, resume it once real time has caught back up.
type Controller interface {
	SupportsPause() bool
	Pause(paused bool)
}

// Normalizer paces one subscriber's tag flow so it never runs more than
// WriteAheadMs ahead of wall-clock time. It models the allowed lead as a
// token bucket (golang.org/x/time/rate): one token per millisecond of
// stream time, burst capacity WriteAheadMs. Each tag "spends" tokens equal
// to its timestamp delta; once the bucket goes into debt, the source is
// paused until it would clear and a timer resumes it.
type Normalizer struct {
	mu sync.Mutex

	calc       Calculator
	limiter    *rate.Limiter
	controller Controller

	writeAheadMs int64
	elementSeqID int64

	firstTag   bool
	resumeTime *time.Timer
}

// NewNormalizer returns a Normalizer with no write-ahead limit (pacing
// disabled) until Reset is called with a positive writeAheadMs.
func NewNormalizer() *Normalizer {
	return &Normalizer{firstTag: true}
}

// Reset rebinds the normalizer to a new subscriber/controller and
// write-ahead budget (ms of stream time the source may run ahead of real
// time before being paused). writeAheadMs <= 0 disables pacing entirely.
func (n *Normalizer) Reset(controller Controller, writeAheadMs int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.resumeTime != nil {
		n.resumeTime.Stop()
		n.resumeTime = nil
	}

	n.controller = controller
	n.writeAheadMs = writeAheadMs
	n.firstTag = true
	n.elementSeqID++
	n.calc.Reset(0)

	if writeAheadMs > 0 {
		n.limiter = rate.NewLimiter(rate.Every(time.Millisecond), int(writeAheadMs))
	} else {
		n.limiter = nil
	}
}

// lifecycleIgnored mirrors Calculator.ProcessTag's skip-list: these tags'
// timestamps carry no pacing information.
func lifecycleIgnored(k tag.Kind) bool {
	switch k {
	case tag.KindBootstrapBegin, tag.KindBootstrapEnd, tag.KindEOS, tag.KindSourceEnded:
		return true
	}
	return false
}

// ProcessTag folds t into the stream-time calculator and, if pacing is
// enabled, decides whether the source has gotten far enough ahead of real
// time to warrant pausing it until the write-ahead budget recovers.
func (n *Normalizer) ProcessTag(t tag.Tag) {
	n.mu.Lock()
	defer n.mu.Unlock()

	before := n.calc.StreamTimeMs()
	n.calc.ProcessTag(t)
	delta := n.calc.StreamTimeMs() - before

	if n.limiter == nil {
		return
	}
	if lifecycleIgnored(t.Kind()) {
		return
	}

	if t.Kind() == tag.KindSourceStarted || t.Kind() == tag.KindSeekPerformed {
		n.restartPacing()
	}

	if n.firstTag {
		n.firstTag = false
		return
	}
	if delta <= 0 {
		return
	}
	// Clamp to the burst size: ReserveN refuses requests larger than the
	// bucket's capacity, and anything beyond the write-ahead window is
	// already maximally "in debt" for pacing purposes.
	reserve := delta
	if reserve > n.writeAheadMs {
		reserve = n.writeAheadMs
	}

	r := n.limiter.ReserveN(time.Now(), int(reserve))
	if !r.OK() {
		return
	}
	delay := r.Delay()

	if delay <= 0 {
		return
	}
	if n.controller == nil || !n.controller.SupportsPause() || n.resumeTime != nil {
		return
	}

	n.controller.Pause(true)
	seq := n.elementSeqID
	n.resumeTime = time.AfterFunc(delay+time.Duration(n.writeAheadMs/2)*time.Millisecond, func() {
		n.unpause(seq)
	})
}

// restartPacing re-anchors the write-ahead budget at the current stream
// time, cancelling any pending unpause (source_started/seek_performed
// always restart flow control from scratch).
func (n *Normalizer) restartPacing() {
	if n.resumeTime != nil {
		n.resumeTime.Stop()
		n.resumeTime = nil
		if n.controller != nil && n.controller.SupportsPause() {
			n.controller.Pause(false)
		}
	}
	if n.limiter != nil {
		n.limiter = rate.NewLimiter(rate.Every(time.Millisecond), int(n.writeAheadMs))
	}
}

func (n *Normalizer) unpause(seqID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.resumeTime = nil
	if seqID != n.elementSeqID {
		return
	}
	if n.controller != nil && n.controller.SupportsPause() {
		n.controller.Pause(false)
	}
}

// MediaTimeMs and StreamTimeMs expose the underlying calculator's counters.
func (n *Normalizer) MediaTimeMs() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calc.MediaTimeMs()
}

func (n *Normalizer) StreamTimeMs() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calc.StreamTimeMs()
}

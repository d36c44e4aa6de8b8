package distributor

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/alxayo/go-streamcore/internal/metrics"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Callback receives every tag destined for one subscriber, alongside the
// timestamp the distributor assigned it.
type Callback func(t tag.Tag, timestampMs int64)

type subscriberEntry struct {
	callback Callback
	done     bool
}

// Distributor owns a Bootstrapper and fans one upstream tag stream out to
// many subscribers, keyed by an opaque, comparable key supplied by the
// caller (typically a *Request pointer from internal/element — this
// package does not import element to avoid a cycle, since element embeds
// a Distributor).
type Distributor struct {
	mu sync.Mutex

	flavourMask tag.FlavourMask
	name        string

	bootstrapper *Bootstrapper
	running      map[any]*subscriberEntry
	toBootstrap  map[any]*subscriberEntry

	lastTagTs    int64
	distributing bool // reentrancy trap: no add/remove while distributing

	metrics *metrics.Registry
}

// SetMetrics attaches a metrics.Registry; nil (the default) disables
// instrumentation so tests and callers that don't care about metrics don't
// need to construct a registry.
func (d *Distributor) SetMetrics(m *metrics.Registry) { d.metrics = m }

// New returns a Distributor for one flavour bit (exactly one bit must be
// set), optionally named (named distributors emit source_started/ended
// around their subscribers' bootstrap window) and optionally keeping a
// media-since-keyframe buffer for late joiners.
func New(flavourMask tag.FlavourMask, name string, bootstrapMedia bool) (*Distributor, error) {
	if flavourMask == 0 || flavourMask&(flavourMask-1) != 0 {
		return nil, fmt.Errorf("distributor: flavour_mask %#x must contain exactly one bit", uint32(flavourMask))
	}
	return &Distributor{
		flavourMask:  flavourMask,
		name:         name,
		bootstrapper: NewBootstrapper(bootstrapMedia),
		running:      make(map[any]*subscriberEntry),
		toBootstrap:  make(map[any]*subscriberEntry),
	}, nil
}

// FlavourMask returns the single flavour bit this distributor serves.
func (d *Distributor) FlavourMask() tag.FlavourMask { return d.flavourMask }

// Count returns the total number of subscribers, running or pending bootstrap.
func (d *Distributor) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running) + len(d.toBootstrap)
}

// AddCallback registers a new subscriber. It joins "to_bootstrap" and will
// be bootstrapped on the next DistributeTag call.
func (d *Distributor) AddCallback(key any, cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.distributing {
		return fmt.Errorf("distributor: add_callback called while a tag distribution is in progress")
	}
	if _, ok := d.running[key]; ok {
		return fmt.Errorf("distributor: double add_callback for key %v", key)
	}
	if _, ok := d.toBootstrap[key]; ok {
		return fmt.Errorf("distributor: double add_callback for key %v", key)
	}
	d.toBootstrap[key] = &subscriberEntry{callback: cb}
	if d.metrics != nil {
		d.metrics.SubscribersJoined.Inc()
	}
	return nil
}

// RemoveCallback removes a subscriber without emitting end-of-stream; use
// CloseCallback when the subscriber needs a clean end-of-stream sequence.
func (d *Distributor) RemoveCallback(key any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.distributing {
		return fmt.Errorf("distributor: remove_callback called while a tag distribution is in progress")
	}
	if _, ok := d.running[key]; ok {
		delete(d.running, key)
		if d.metrics != nil {
			d.metrics.SubscribersParted.Inc()
		}
		return nil
	}
	if _, ok := d.toBootstrap[key]; ok {
		delete(d.toBootstrap, key)
		if d.metrics != nil {
			d.metrics.SubscribersParted.Inc()
		}
		return nil
	}
	return fmt.Errorf("distributor: remove_callback for unknown key %v", key)
}

// DistributeTag bootstraps any pending subscribers, feeds t to the
// bootstrapper's sticky state, then forwards t to every running subscriber.
// A bootstrap_begin/bootstrap_end tag arriving from upstream is consumed
// silently — the distributor synthesizes its own around each join.
func (d *Distributor) DistributeTag(t tag.Tag, timestampMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.Kind() == tag.KindBootstrapBegin || t.Kind() == tag.KindBootstrapEnd {
		return
	}

	d.distributing = true
	defer func() { d.distributing = false }()

	for key, entry := range d.toBootstrap {
		d.running[key] = entry
		delete(d.toBootstrap, key)

		if d.name != "" {
			entry.callback(tag.NewSourceStartedTag(d.flavourMask, timestampMs, d.name, d.name, false), timestampMs)
		}
		d.bootstrapper.PlayAtBegin(func(bt tag.Tag) {
			entry.callback(bt, timestampMs)
		}, timestampMs, d.flavourMask)
	}

	d.bootstrapper.ProcessTag(t)
	for _, entry := range d.running {
		entry.callback(t, timestampMs)
	}
	d.lastTagTs = timestampMs
	if d.metrics != nil {
		d.metrics.TagsDistributed.WithLabelValues(strconv.FormatUint(uint64(d.flavourMask), 10)).Inc()
	}
}

// CloseCallback sends one subscriber its end-of-stream sequence
// (play_at_end, an optional source_ended, end-of-stream) and removes it.
func (d *Distributor) CloseCallback(key any, forced bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.distributing {
		return fmt.Errorf("distributor: close_callback called while a tag distribution is in progress")
	}
	d.distributing = true
	defer func() { d.distributing = false }()

	if entry, ok := d.running[key]; ok {
		d.bootstrapper.PlayAtEnd(func(t tag.Tag) { entry.callback(t, d.lastTagTs) }, d.flavourMask)
		if d.name != "" {
			entry.callback(tag.NewSourceEndedTag(d.flavourMask, 0, d.name, d.name, false), 0)
		}
		entry.callback(tag.NewEOSTag(d.flavourMask, d.lastTagTs, forced), d.lastTagTs)
		entry.done = true
		delete(d.running, key)
		return nil
	}
	if entry, ok := d.toBootstrap[key]; ok {
		entry.callback(tag.NewEOSTag(d.flavourMask, d.lastTagTs, forced), d.lastTagTs)
		entry.done = true
		delete(d.toBootstrap, key)
		return nil
	}
	return fmt.Errorf("distributor: close_callback for unknown key %v", key)
}

// CloseAll sends every subscriber (running and pending) its end-of-stream
// sequence and removes all of them.
func (d *Distributor) CloseAll(forced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distributing = true
	defer func() { d.distributing = false }()

	for _, entry := range d.running {
		d.bootstrapper.PlayAtEnd(func(t tag.Tag) { entry.callback(t, d.lastTagTs) }, d.flavourMask)
		if d.name != "" {
			entry.callback(tag.NewSourceEndedTag(d.flavourMask, 0, d.name, d.name, false), 0)
		}
		entry.callback(tag.NewEOSTag(d.flavourMask, d.lastTagTs, forced), d.lastTagTs)
		entry.done = true
	}
	for _, entry := range d.toBootstrap {
		entry.callback(tag.NewEOSTag(d.flavourMask, d.lastTagTs, forced), d.lastTagTs)
		entry.done = true
	}
	d.running = make(map[any]*subscriberEntry)
	d.toBootstrap = make(map[any]*subscriberEntry)
}

// Reset treats the upstream source as ended: every running subscriber gets
// play_at_end plus a source_ended (if named), then is re-parked in
// to_bootstrap so it is re-bootstrapped when the stream resumes.
func (d *Distributor) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distributing = true

	for _, entry := range d.running {
		d.bootstrapper.PlayAtEnd(func(t tag.Tag) { entry.callback(t, d.lastTagTs) }, d.flavourMask)
	}
	if d.name != "" {
		sourceEnded := tag.NewSourceEndedTag(d.flavourMask, d.lastTagTs, d.name, d.name, false)
		for _, entry := range d.running {
			entry.callback(sourceEnded, d.lastTagTs)
		}
	}
	d.distributing = false

	for key, entry := range d.running {
		d.toBootstrap[key] = entry
		delete(d.running, key)
	}
	d.bootstrapper.ClearBootstrap()
	d.lastTagTs = 0
}

// Switch replays play_at_end to every running subscriber without parking
// them, for use ahead of an imminent splice point.
func (d *Distributor) Switch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distributing = true
	for _, entry := range d.running {
		d.bootstrapper.PlayAtEnd(func(t tag.Tag) { entry.callback(t, d.lastTagTs) }, d.flavourMask)
	}
	d.distributing = false

	d.bootstrapper.ClearBootstrap()
	d.lastTagTs = 0
}

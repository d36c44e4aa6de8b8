package tag

// Composer accumulates a run of small media tags into a single KindComposed
// tag once the run's aggregated duration crosses a threshold, a resync point
// starts a new run, or the caller forces a flush: small tags get batched
// into composed tags before crossing an element boundary.
type Composer struct {
	thresholdMs int64
	run         []Tag
	runStartMs  int64
}

// NewComposer returns a Composer that flushes once an accumulated run's span
// (last.TimestampMs - first.TimestampMs) reaches thresholdMs.
func NewComposer(thresholdMs int64) *Composer {
	if thresholdMs <= 0 {
		thresholdMs = 1
	}
	return &Composer{thresholdMs: thresholdMs}
}

// Add feeds t into the current run and returns a composed tag if this
// insertion closed one out (either by crossing the threshold or because t
// carries AttrCanResync and a non-empty run was already open).
func (c *Composer) Add(t Tag) *MediaTag {
	if t.Attributes()&AttrCanResync != 0 && len(c.run) > 0 {
		flushed := c.flush()
		c.run = append(c.run, t)
		c.runStartMs = t.TimestampMs()
		return flushed
	}
	if len(c.run) == 0 {
		c.runStartMs = t.TimestampMs()
	}
	c.run = append(c.run, t)
	if t.TimestampMs()-c.runStartMs >= c.thresholdMs {
		return c.flush()
	}
	return nil
}

// Flush forces out whatever run is currently open, or nil if none.
func (c *Composer) Flush() *MediaTag { return c.flush() }

func (c *Composer) flush() *MediaTag {
	if len(c.run) == 0 {
		return nil
	}
	run := c.run
	c.run = nil
	first := run[0]
	composed := &MediaTag{
		Base:     newBase(unionAttrs(run), first.FlavourMask(), first.TimestampMs()),
		kind:     KindComposed,
		Composed: run,
	}
	return composed
}

func unionAttrs(run []Tag) Attributes {
	var a Attributes
	for _, t := range run {
		a |= t.Attributes()
	}
	return a
}

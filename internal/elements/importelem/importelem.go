// Package importelem implements the import element: an ingest point that
// maintains a set of named publish slots. Each slot accepts one publisher
// connection at a time and fans its tags out to subscribers through its
// own distributor; the set of slot names survives restart via a state
// keeper backed by a modernc.org/sqlite key/value table.
package importelem

import (
	"fmt"
	"sync"

	"github.com/alxayo/go-streamcore/internal/distributor"
	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// StateKeeper persists the set of known slot names across restarts.
type StateKeeper interface {
	Save(name string) error
	Delete(name string) error
	LoadAll() ([]string, error)
}

// Element is an importer: an Element that also exposes AddImport/
// DeleteImport/PublishTag for wiring a publisher protocol (RTMP publish,
// HTTP PUT, ...) into the pipeline.
type Element struct {
	name         string
	importerType string
	importerPath string
	state        StateKeeper
	flavourMask  tag.FlavourMask

	mu       sync.Mutex
	slots    map[string]*slot
	requests map[*element.Request]*slot
}

type slot struct {
	dist *distributor.Distributor
}

// New returns an import Element identified by (importerType, importerPath)
// for element.Mapper's AddImporter/GetImporter, backed by state for slot
// persistence.
func New(name, importerType, importerPath string, state StateKeeper) *Element {
	return &Element{
		name:         name,
		importerType: importerType,
		importerPath: importerPath,
		state:        state,
		flavourMask:  tag.Flavour(0),
		slots:        make(map[string]*slot),
		requests:     make(map[*element.Request]*slot),
	}
}

func (e *Element) ImporterType() string { return e.importerType }
func (e *Element) ImporterPath() string { return e.importerPath }

// Initialize recreates every slot previously saved to the state keeper (as
// listed by StateKeeper.LoadAll), so imports survive restart; a slot recreated this way
// has no active publisher until one reconnects.
func (e *Element) Initialize() error {
	names, err := e.state.LoadAll()
	if err != nil {
		return fmt.Errorf("importelem: %s: load state: %w", e.name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range names {
		if _, ok := e.slots[n]; ok {
			continue
		}
		s, err := newSlot(e.flavourMask)
		if err != nil {
			return fmt.Errorf("importelem: %s: recreate slot %q: %w", e.name, n, err)
		}
		e.slots[n] = s
	}
	return nil
}

func newSlot(flavourMask tag.FlavourMask) (*slot, error) {
	d, err := distributor.New(flavourMask, "importelem-slot", true)
	if err != nil {
		return nil, err
	}
	return &slot{dist: d}, nil
}

// AddImport creates a new publish slot named importName. If saveState is
// true the name is persisted so Initialize recreates it after a restart.
func (e *Element) AddImport(importName string, saveState bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.slots[importName]; exists {
		return fmt.Errorf("importelem: %s: import %q already exists", e.name, importName)
	}
	s, err := newSlot(e.flavourMask)
	if err != nil {
		return err
	}
	if saveState {
		if err := e.state.Save(importName); err != nil {
			return fmt.Errorf("importelem: %s: save state for %q: %w", e.name, importName, err)
		}
	}
	e.slots[importName] = s
	logger.WithElement(logger.Logger(), e.name, e.importerType).Info("import slot opened", "import", importName, "save_state", saveState)
	return nil
}

// DeleteImport closes and forgets a slot, removing it from the state
// keeper too.
func (e *Element) DeleteImport(importName string) error {
	e.mu.Lock()
	s, ok := e.slots[importName]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("importelem: %s: import %q does not exist", e.name, importName)
	}
	delete(e.slots, importName)
	e.mu.Unlock()

	s.dist.CloseAll(true)
	logger.WithElement(logger.Logger(), e.name, e.importerType).Info("import slot closed", "import", importName)
	return e.state.Delete(importName)
}

// GetAllImports returns every currently known slot name.
func (e *Element) GetAllImports() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.slots))
	for n := range e.slots {
		out = append(out, n)
	}
	return out
}

// PublishTag feeds a publisher's tag into importName's slot, fanning it out
// to every current subscriber. It returns an error if the slot doesn't exist.
func (e *Element) PublishTag(importName string, t tag.Tag, timestampMs int64) error {
	e.mu.Lock()
	s, ok := e.slots[importName]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("importelem: %s: publish to unknown import %q", e.name, importName)
	}
	s.dist.DistributeTag(t, timestampMs)
	return nil
}

// AddRequest subscribes req to the slot named by media.
func (e *Element) AddRequest(media string, req *element.Request, cb element.Callback) error {
	e.mu.Lock()
	s, ok := e.slots[media]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("importelem: %s: no such import %q", e.name, media)
	}
	if err := s.dist.AddCallback(req, func(t tag.Tag, timestampMs int64) { cb(t, timestampMs) }); err != nil {
		return err
	}
	req.Capabilities.FlavourMask = s.dist.FlavourMask()

	e.mu.Lock()
	e.requests[req] = s
	e.mu.Unlock()
	return nil
}

func (e *Element) RemoveRequest(req *element.Request) {
	e.mu.Lock()
	s, ok := e.requests[req]
	delete(e.requests, req)
	e.mu.Unlock()
	if !ok {
		return
	}
	s.dist.CloseCallback(req, false)
}

func (e *Element) HasMedia(media string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.slots[media]
	return ok
}

func (e *Element) ListMedia(dir string) []string { return e.GetAllImports() }

func (e *Element) DescribeMedia(media string, cb func(*tag.MediaInfo)) { cb(nil) }

// Close tears down every slot, forcibly closing any live subscribers.
func (e *Element) Close(onDone func()) {
	e.mu.Lock()
	slots := e.slots
	e.slots = make(map[string]*slot)
	e.mu.Unlock()
	for _, s := range slots {
		s.dist.CloseAll(true)
	}
	if onDone != nil {
		onDone()
	}
}

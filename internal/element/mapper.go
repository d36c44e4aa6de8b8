package element

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	streamerrors "github.com/alxayo/go-streamcore/internal/errors"
	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Mapper resolves a media path to an Element: by alias table, exact name,
// longest-prefix path match, then a fallback delegate. A master mapper
// may wrap a primary for cross-namespace routing.
type Mapper struct {
	mu sync.RWMutex

	byName   map[string]Element
	byPrefix map[string]Element // path-prefix-registered elements, e.g. filesystem-backed
	aliases  map[string]string

	authorizers map[string]Authorizer
	importers   map[string]Importer

	exportClients map[string]int32 // "protocol:export_path" -> refcount

	fallback *Mapper
	master   *Mapper
}

// Importer is an Element that additionally accepts publisher connections,
// making itself available to the network; internal/elements/importelem
// implements this.
type Importer interface {
	Element
	ImporterType() string
	ImporterPath() string
}

// NewMapper returns an empty Mapper with no elements, aliases, or fallback.
func NewMapper() *Mapper {
	return &Mapper{
		byName:        make(map[string]Element),
		byPrefix:      make(map[string]Element),
		aliases:       make(map[string]string),
		authorizers:   make(map[string]Authorizer),
		importers:     make(map[string]Importer),
		exportClients: make(map[string]int32),
	}
}

// SetFallback sets the mapper consulted when this mapper can't resolve a
// path on its own. Must not be called with m itself.
func (m *Mapper) SetFallback(fallback *Mapper) error {
	if fallback == m {
		return fmt.Errorf("element: fallback mapper cannot be itself")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fallback
	return nil
}

// SetMaster sets the mapper this one defers to for cross-namespace
// routing. Must not be called with m itself.
func (m *Mapper) SetMaster(master *Mapper) error {
	if master == m {
		return fmt.Errorf("element: master mapper cannot be itself")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.master = master
	return nil
}

// RegisterElement makes an element reachable by exact name.
func (m *Mapper) RegisterElement(name string, e Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("element: duplicate element name %q", name)
	}
	m.byName[name] = e
	return nil
}

// RegisterPrefix makes an element reachable for any path under prefix
// (the longest matching prefix wins when several overlap).
func (m *Mapper) RegisterPrefix(prefix string, e Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPrefix[prefix] = e
}

// UnregisterElement removes name from the exact-name table.
func (m *Mapper) UnregisterElement(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byName, name)
}

// SetAlias maps aliasName to mediaName; resolved before exact-name lookup.
func (m *Mapper) SetAlias(aliasName, mediaName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[aliasName] = mediaName
}

// GetMediaAlias resolves aliasName, returning (mediaName, true) if one is
// registered.
func (m *Mapper) GetMediaAlias(aliasName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.aliases[aliasName]
	return name, ok
}

// TranslateMedia resolves a media name through the alias table, returning
// the name unchanged if no alias applies.
func (m *Mapper) TranslateMedia(mediaName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if real, ok := m.aliases[mediaName]; ok {
		return real
	}
	return mediaName
}

// GetElementByName resolves a media path to an element: alias, then exact
// name, then longest-prefix match, then a configured fallback mapper.
func (m *Mapper) GetElementByName(name string) (Element, bool) {
	m.mu.RLock()
	resolved := name
	if real, ok := m.aliases[name]; ok {
		resolved = real
	}
	if e, ok := m.byName[resolved]; ok {
		m.mu.RUnlock()
		return e, true
	}
	e, ok := m.longestPrefixLocked(resolved)
	fallback := m.fallback
	m.mu.RUnlock()

	if ok {
		return e, true
	}
	if fallback != nil {
		return fallback.GetElementByName(resolved)
	}
	return nil, false
}

func (m *Mapper) longestPrefixLocked(path string) (Element, bool) {
	var best string
	var bestElem Element
	found := false
	for prefix, e := range m.byPrefix {
		if strings.HasPrefix(path, prefix) && len(prefix) >= len(best) {
			best = prefix
			bestElem = e
			found = true
		}
	}
	return bestElem, found
}

// IsKnownElementName reports whether name resolves to a registered
// element, without consulting the fallback mapper.
func (m *Mapper) IsKnownElementName(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resolved := name
	if real, ok := m.aliases[name]; ok {
		resolved = real
	}
	if _, ok := m.byName[resolved]; ok {
		return true
	}
	_, ok := m.longestPrefixLocked(resolved)
	return ok
}

// HasMedia reports whether path resolves to an element that itself
// reports the media as present.
func (m *Mapper) HasMedia(path string) bool {
	e, ok := m.GetElementByName(path)
	if !ok {
		return false
	}
	return e.HasMedia(path)
}

// ListMedia lists every media name known to the element registered at or
// under dir, sorted for deterministic output.
func (m *Mapper) ListMedia(dir string) []string {
	e, ok := m.GetElementByName(dir)
	if !ok {
		return nil
	}
	names := e.ListMedia(dir)
	sort.Strings(names)
	return names
}

// AddRequest resolves req.MediaPath to an element and forwards the
// request, owning req and cb only on success.
func (m *Mapper) AddRequest(mediaPath string, req *Request, cb Callback) error {
	e, ok := m.GetElementByName(mediaPath)
	if !ok {
		if m.master != nil {
			return m.master.AddRequest(mediaPath, req, cb)
		}
		return streamerrors.NewNotFoundError(fmt.Sprintf("mapper.add_request %q", mediaPath), nil)
	}
	if err := e.AddRequest(mediaPath, req, cb); err != nil {
		return err
	}
	req.Element = e
	logger.WithFlavour(logger.Logger(), uint32(req.Capabilities.FlavourMask)).Debug("request subscribed", "media", mediaPath)
	return nil
}

// RemoveRequest tears req down through whichever element currently serves
// it.
func (m *Mapper) RemoveRequest(req *Request) {
	if req.Element == nil {
		return
	}
	req.Element.RemoveRequest(req)
	req.Element = nil
}

// DescribeMedia resolves path and asks its element to describe it
// asynchronously; cb receives nil if path is unknown.
func (m *Mapper) DescribeMedia(path string, cb func(*tag.MediaInfo)) {
	e, ok := m.GetElementByName(path)
	if !ok {
		cb(nil)
		return
	}
	e.DescribeMedia(path, cb)
}

// RegisterAuthorizer makes an Authorizer reachable by name for
// GetAuthorizer.
func (m *Mapper) RegisterAuthorizer(a Authorizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizers[a.Name()] = a
}

// GetAuthorizer returns the Authorizer registered under name, or
// AllowAllAuthorizer if none is configured.
func (m *Mapper) GetAuthorizer(name string) Authorizer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.authorizers[name]; ok {
		return a
	}
	return AllowAllAuthorizer{}
}

// AddImporter makes an Importer reachable by (type, path) for GetImporter.
func (m *Mapper) AddImporter(imp Importer) error {
	key := imp.ImporterType() + ":" + imp.ImporterPath()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.importers[key]; exists {
		return fmt.Errorf("element: duplicate importer %s", key)
	}
	m.importers[key] = imp
	return nil
}

// RemoveImporter unregisters a previously added Importer.
func (m *Mapper) RemoveImporter(imp Importer) {
	key := imp.ImporterType() + ":" + imp.ImporterPath()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.importers, key)
}

// GetImporter looks up a previously added Importer by type and path; used
// by a publish-side network protocol handler to obtain the importer it
// should feed tags into.
func (m *Mapper) GetImporter(importerType, path string) (Importer, bool) {
	key := importerType + ":" + path
	m.mu.RLock()
	defer m.mu.RUnlock()
	imp, ok := m.importers[key]
	return imp, ok
}

// AddExportClient increments the client count for (protocol, exportPath)
// and returns the new count, for export-side connection limiting.
func (m *Mapper) AddExportClient(protocol, exportPath string) int32 {
	key := protocol + ":" + exportPath
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportClients[key]++
	return m.exportClients[key]
}

// RemoveExportClient decrements the client count for (protocol, exportPath).
func (m *Mapper) RemoveExportClient(protocol, exportPath string) {
	key := protocol + ":" + exportPath
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exportClients[key] > 0 {
		m.exportClients[key]--
	}
}

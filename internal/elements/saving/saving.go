// Package saving implements the saving element: it subscribes internally
// (never serving outside requests itself) to a configured upstream media
// path and writes the tags it receives through a container serializer
// into a two-phase file — `.part` while being written, atomically renamed
// to its final name once closed — reopening after a fixed back-off
// whenever the upstream ends or the subscription fails. The file-writing
// side is folded into fileWriter below, built on container/flv.Serializer.
package saving

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alxayo/go-streamcore/internal/container/flv"
	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// ReconnectDelay is how long the element waits before retrying a failed or
// ended subscription.
const ReconnectDelay = 5 * time.Second

// Mapper is the subset of *element.Mapper the saving element needs to
// subscribe to its configured upstream media internally.
type Mapper interface {
	AddRequest(mediaPath string, req *element.Request, cb element.Callback) error
	RemoveRequest(req *element.Request)
}

// Element writes a single configured media's tag stream to rotating files
// under saveDir. It never serves outside requests: HasMedia/ListMedia/
// DescribeMedia/AddRequest all report "no media here" by design.
type Element struct {
	name      string
	mapper    Mapper
	media     string
	saveDir   string
	now       func() time.Time
	reconnect time.Duration

	mu      sync.Mutex
	req     *element.Request
	writer  *fileWriter
	closed  bool
	timerFn *time.Timer
}

// New returns a saving Element that subscribes to media through mapper and
// writes FLV files under saveDir.
func New(name string, mapper Mapper, media, saveDir string) *Element {
	return &Element{
		name:      name,
		mapper:    mapper,
		media:     media,
		saveDir:   saveDir,
		now:       time.Now,
		reconnect: ReconnectDelay,
	}
}

func (e *Element) Initialize() error {
	e.openMedia()
	return nil
}

func (e *Element) AddRequest(mediaPath string, req *element.Request, cb element.Callback) error {
	return fmt.Errorf("saving: %s: cannot serve requests", e.name)
}
func (e *Element) RemoveRequest(req *element.Request)             {}
func (e *Element) HasMedia(path string) bool                      { return false }
func (e *Element) ListMedia(dir string) []string                  { return nil }
func (e *Element) DescribeMedia(path string, cb func(*tag.MediaInfo)) { cb(nil) }

func (e *Element) Close(onDone func()) {
	e.mu.Lock()
	e.closed = true
	if e.timerFn != nil {
		e.timerFn.Stop()
		e.timerFn = nil
	}
	e.closeMediaLocked()
	e.mu.Unlock()
	if onDone != nil {
		onDone()
	}
}

func (e *Element) openMedia() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.req != nil {
		return
	}

	req := &element.Request{
		MediaPath:    e.media,
		Capabilities: element.Capabilities{FlavourMask: tag.FlavourAll},
	}
	if err := e.mapper.AddRequest(e.media, req, e.processTag); err != nil {
		e.scheduleReconnectLocked()
		return
	}

	w, err := newFileWriter(e.saveDir, e.name, e.now())
	if err != nil {
		e.mapper.RemoveRequest(req)
		e.scheduleReconnectLocked()
		return
	}

	e.req = req
	e.writer = w
}

func (e *Element) closeMediaLocked() {
	if e.req != nil {
		e.mapper.RemoveRequest(e.req)
		e.req = nil
	}
	if e.writer != nil {
		e.writer.close()
		e.writer = nil
	}
}

func (e *Element) scheduleReconnectLocked() {
	if e.closed {
		return
	}
	e.timerFn = time.AfterFunc(e.reconnect, e.openMedia)
}

// processTag is the callback handed to the upstream element: it writes
// every tag through the active file writer, and on end-of-stream closes the
// current file and reopens after the back-off.
func (e *Element) processTag(t tag.Tag, timestampMs int64) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if t.Kind() == tag.KindEOS {
		e.closeMediaLocked()
		e.scheduleReconnectLocked()
		e.mu.Unlock()
		return
	}
	w := e.writer
	e.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.writeTag(t); err != nil {
		e.mu.Lock()
		e.closeMediaLocked()
		e.scheduleReconnectLocked()
		e.mu.Unlock()
	}
}

// fileWriter is the two-phase `.part`-then-rename writer: a saving session
// writes into "<name>.flv.part" and the finished file is only visible under
// its final name once close() renames it, so a reader never observes a
// partially-written file under the final name.
type fileWriter struct {
	finalPath string
	partPath  string
	f         *os.File
	ser       flv.Serializer
}

func newFileWriter(dir, name string, at time.Time) (*fileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("saving: mkdir %s: %w", dir, err)
	}
	base := fmt.Sprintf("%s-%s.flv", name, at.UTC().Format("20060102T150405.000"))
	finalPath := filepath.Join(dir, base)
	partPath := finalPath + ".part"

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("saving: open %s: %w", partPath, err)
	}
	return &fileWriter{
		finalPath: finalPath,
		partPath:  partPath,
		f:         f,
		ser:       flv.Serializer{WriteHeader: true, HasAudio: true, HasVideo: true},
	}, nil
}

func (w *fileWriter) writeTag(t tag.Tag) error {
	return w.ser.Write(w.f, t)
}

// close flushes and finalizes the part file, renaming it to its final name.
// Errors are swallowed beyond logging scope: a failed rename just leaves the
// `.part` suffix behind, which is the documented signal a save never
// finished cleanly.
func (w *fileWriter) close() {
	w.f.Close()
	os.Rename(w.partPath, w.finalPath)
}

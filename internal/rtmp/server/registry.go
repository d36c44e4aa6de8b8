package server

// Stream registry: bookkeeping only. Media no longer flows through this
// type - PublishStream feeds tags into an importelem.Element and PlayStream
// subscribes through an element.Mapper (see publish_stream.go/play_stream.go).
// Registry just tracks which stream keys are live and who is publishing, for
// status/introspection and to give HandlePublish a cheap place to reject a
// second simultaneous publisher on the same key.

import (
	"errors"
	"sync"
	"time"

	"github.com/alxayo/go-streamcore/internal/rtmp/media"
)

// ErrPublisherExists is returned when trying to register a second publisher
// for the same stream key.
var ErrPublisherExists = errors.New("publisher already registered for stream")

// Registry holds per-stream-key bookkeeping.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{streams: make(map[string]*Stream)} }

// Stream is the bookkeeping record for one stream key: who is publishing
// (by connection id) and when it started. Subscriber fan-out is the
// responsibility of the importelem slot's distributor, not this type.
type Stream struct {
	Key         string
	PublisherID string
	StartTime   time.Time

	mu       sync.RWMutex
	recorder *media.Recorder // set when RecordAll enables on-disk FLV archival for this key
}

// CreateStream returns the existing stream record if present or creates a
// new one. The boolean indicates whether a new record was created.
func (r *Registry) CreateStream(key string) (*Stream, bool) {
	if key == "" {
		return nil, false
	}
	r.mu.RLock()
	if s, ok := r.streams[key]; ok {
		r.mu.RUnlock()
		return s, false
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[key]; ok {
		return s, false
	}
	s := &Stream{Key: key, StartTime: time.Now()}
	r.streams[key] = s
	return s, true
}

// GetStream returns the stream record for key or nil if absent.
func (r *Registry) GetStream(key string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[key]
}

// DeleteStream removes the stream record (if present) and returns true if
// deleted.
func (r *Registry) DeleteStream(key string) bool {
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[key]; ok {
		delete(r.streams, key)
		return true
	}
	return false
}

// SetPublisher records connID as the stream's publisher, or returns
// ErrPublisherExists if one is already recorded.
func (s *Stream) SetPublisher(connID string) error {
	if s == nil || connID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PublisherID != "" {
		return ErrPublisherExists
	}
	s.PublisherID = connID
	return nil
}

// ClearPublisher removes connID as the stream's publisher if it still
// matches.
func (s *Stream) ClearPublisher(connID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.PublisherID == connID {
		s.PublisherID = ""
	}
	s.mu.Unlock()
}

// HasPublisher reports whether the stream currently has a live publisher.
func (s *Stream) HasPublisher() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PublisherID != ""
}

// SetRecorder installs r as the stream's active on-disk archival recorder.
func (s *Stream) SetRecorder(r *media.Recorder) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// Recorder returns the stream's active recorder, or nil if recording isn't
// enabled for this key.
func (s *Stream) Recorder() *media.Recorder {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

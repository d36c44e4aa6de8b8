package server

// PublishStream receives audio/video/notify RTMP messages
// for one publish session, reassembles them back into tag.Tag values via
// container/flv.DecodeMessage, and pushes them into the importer the
// connection published against. It replaces the old Registry.BroadcastMessage
// raw chunk.Message relay: subscriber fan-out is now the importelem slot's
// distributor's job, reached through PublishTag.

import (
	"fmt"
	"log/slog"

	"github.com/alxayo/go-streamcore/internal/container/flv"
	"github.com/alxayo/go-streamcore/internal/rtmp/chunk"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Importer is the subset of importelem.Element a PublishStream needs.
type Importer interface {
	AddImport(importName string, saveState bool) error
	DeleteImport(importName string) error
	PublishTag(importName string, t tag.Tag, timestampMs int64) error
}

// PublishStream decodes one connection's incoming media messages and feeds
// the resulting tags into an Importer slot.
type PublishStream struct {
	streamKey string
	importer  Importer
	log       *slog.Logger
}

// NewPublishStream binds a publish session's stream key to the importer it
// should feed. The importer must already have (or be given) a slot named
// streamKey; use AddImport first if the import element requires explicit
// slot creation.
func NewPublishStream(streamKey string, importer Importer, log *slog.Logger) *PublishStream {
	return &PublishStream{streamKey: streamKey, importer: importer, log: log.With("component", "publish_stream", "stream_key", streamKey)}
}

// HandleMessage decodes one RTMP audio/video/notify message and forwards
// the resulting tag(s) to the importer. Non-media message types are
// ignored; this is the media-only half of a PublishStream, command
// messages are still dispatched by the rpc.Dispatcher.
func (p *PublishStream) HandleMessage(msg *chunk.Message) error {
	if msg == nil {
		return nil
	}
	var frameType flv.FrameType
	switch msg.TypeID {
	case 8:
		frameType = flv.FrameTypeAudio
	case 9:
		frameType = flv.FrameTypeVideo
	case 18: // onMetaData notify
		frameType = flv.FrameTypeMetadata
	default:
		return nil
	}

	cue, mt, err := flv.DecodeMessage(frameType, msg.Payload, int64(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("publish_stream: decode message: %w", err)
	}
	if cue != nil {
		if err := p.importer.PublishTag(p.streamKey, cue, cue.TimestampMs()); err != nil {
			p.log.Warn("publish cue point tag failed", "error", err)
		}
	}
	if err := p.importer.PublishTag(p.streamKey, mt, mt.TimestampMs()); err != nil {
		return fmt.Errorf("publish_stream: publish tag: %w", err)
	}
	return nil
}

package server

// PlayStream resolves a media path through the element
// mapper, subscribes to its tags, and translates each tag into an RTMP
// audio/video/notify message sent to the connection. It also sends a
// periodic clock ping (User Control PingRequest) so the client's player
// clock stays in sync with a live stream that otherwise has no natural
// "now" marker between frames.

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-streamcore/internal/container/flv"
	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/rtmp/chunk"
	"github.com/alxayo/go-streamcore/internal/rtmp/control"
	"github.com/alxayo/go-streamcore/internal/tag"
)

const defaultClockPingInterval = 15 * time.Second

// sender is the minimal interface required from a connection.
type sender interface {
	SendMessage(*chunk.Message) error
}

// PlayStream subscribes a connection to a media path and relays every tag
// it receives as an RTMP message.
type PlayStream struct {
	mediaPath string
	streamID  uint32
	conn      sender
	log       *slog.Logger

	mu       sync.Mutex
	req      *element.Request
	pingStop chan struct{}
}

// NewPlayStream subscribes conn to mediaPath via mapper, starting a clock
// ping ticker once the subscription is live.
func NewPlayStream(mapper *element.Mapper, mediaPath string, streamID uint32, conn sender, controller element.Controller, log *slog.Logger, pingInterval time.Duration) (*PlayStream, error) {
	if pingInterval <= 0 {
		pingInterval = defaultClockPingInterval
	}
	ps := &PlayStream{
		mediaPath: mediaPath,
		streamID:  streamID,
		conn:      conn,
		log:       log.With("component", "play_stream", "media_path", mediaPath),
		pingStop:  make(chan struct{}),
	}

	req := &element.Request{
		MediaPath:  mediaPath,
		Controller: controller,
	}
	if err := mapper.AddRequest(mediaPath, req, ps.onTag); err != nil {
		return nil, err
	}
	ps.req = req

	go ps.pingLoop(pingInterval)
	return ps, nil
}

func (ps *PlayStream) onTag(t tag.Tag, timestampMs int64) {
	switch t.Kind() {
	case tag.KindEOS:
		ps.log.Info("upstream ended")
		return
	case tag.KindBOS:
		return
	}

	mt, ok := t.(*tag.MediaTag)
	if !ok || mt.Kind() != tag.KindFLV {
		return
	}
	typeID, body, err := flv.EncodeMessage(mt)
	if err != nil {
		ps.log.Warn("encode message failed", "error", err)
		return
	}

	msg := &chunk.Message{
		CSID:            csidForTypeID(typeID),
		TypeID:          typeID,
		Timestamp:       uint32(timestampMs),
		MessageStreamID: ps.streamID,
		MessageLength:   uint32(len(body)),
		Payload:         body,
	}
	if err := ps.conn.SendMessage(msg); err != nil {
		ps.log.Debug("send media message failed", "error", err)
	}
}

func csidForTypeID(typeID uint8) uint32 {
	switch typeID {
	case 8:
		return 6
	case 9:
		return 7
	default:
		return 5
	}
}

func (ps *PlayStream) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	var elapsed uint32
	for {
		select {
		case <-ps.pingStop:
			return
		case <-t.C:
			elapsed += uint32(interval.Milliseconds())
			ping := control.EncodeUserControlPingRequest(elapsed)
			if err := ps.conn.SendMessage(ping); err != nil {
				ps.log.Debug("clock ping send failed", "error", err)
				return
			}
		}
	}
}

// Close unsubscribes from the media path and stops the clock ping loop.
func (ps *PlayStream) Close(mapper *element.Mapper) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.req == nil {
		return
	}
	close(ps.pingStop)
	mapper.RemoveRequest(ps.req)
	ps.req = nil
}

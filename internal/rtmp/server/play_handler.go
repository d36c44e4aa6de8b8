package server

// Play Handler
// ------------
// Subscribes a client connection to a media path through the element
// mapper. A path with no live publisher is rejected with
// NetStream.Play.StreamNotFound; repeated attempts against a path that was
// just rejected are held for MissingStreamCache's reject delay instead of
// re-paying the mapper lookup every time.

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alxayo/go-streamcore/internal/element"
	rtmperrors "github.com/alxayo/go-streamcore/internal/errors"
	"github.com/alxayo/go-streamcore/internal/rtmp/amf"
	"github.com/alxayo/go-streamcore/internal/rtmp/chunk"
	"github.com/alxayo/go-streamcore/internal/rtmp/control"
	"github.com/alxayo/go-streamcore/internal/rtmp/rpc"
)

// HandlePlay parses the incoming play command and attempts to subscribe
// the connection to the target media path. It sends (in order):
//  1. onStatus NetStream.Play.StreamNotFound (if no publisher is live), OR
//  1. User Control Stream Begin
//  2. onStatus NetStream.Play.Start
//
// Only the final onStatus (either StreamNotFound or Play.Start) is
// returned, alongside the PlayStream subscription on success (nil on
// StreamNotFound).
func HandlePlay(mapper *element.Mapper, missing *MissingStreamCache, conn sender, controller element.Controller, app string, msg *chunk.Message, log *slog.Logger, pingInterval time.Duration) (*chunk.Message, *PlayStream, error) {
	if mapper == nil || conn == nil || msg == nil {
		return nil, nil, rtmperrors.NewProtocolError("play.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePlayCommand(msg, app)
	if err != nil {
		return nil, nil, err
	}

	log.Info("play command", "stream_key", pcmd.StreamKey)

	if missing != nil && missing.CheckAndDelay(pcmd.StreamKey) {
		time.Sleep(missing.RejectDelay())
		notFound, err := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.StreamNotFound", fmt.Sprintf("Stream %s not found.", pcmd.StreamKey))
		if err != nil {
			return nil, nil, rtmperrors.NewProtocolError("play.handle.encode", err)
		}
		_ = conn.SendMessage(notFound)
		return notFound, nil, nil
	}

	if reply := element.AuthorizeBlocking(mapper.GetAuthorizer("rtmp_play"), element.AuthorizerRequest{MediaPath: pcmd.StreamKey}); !reply.Allowed {
		log.Warn("play command denied by authorizer", "stream_key", pcmd.StreamKey, "reason", reply.Reason)
		return nil, nil, rtmperrors.NewAuthError("play.handle.authorize", fmt.Errorf("%s: %s", pcmd.StreamKey, reply.Reason))
	}

	if !mapper.HasMedia(pcmd.StreamKey) {
		log.Warn("play command failed - no live publisher", "stream_key", pcmd.StreamKey)
		if missing != nil {
			missing.MarkMissing(pcmd.StreamKey)
		}
		notFound, err := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.StreamNotFound", fmt.Sprintf("Stream %s not found.", pcmd.StreamKey))
		if err != nil {
			return nil, nil, rtmperrors.NewProtocolError("play.handle.encode", err)
		}
		_ = conn.SendMessage(notFound)
		return notFound, nil, nil
	}
	if missing != nil {
		missing.Forget(pcmd.StreamKey)
	}

	uc := control.EncodeUserControlStreamBegin(msg.MessageStreamID)
	_ = conn.SendMessage(uc)

	started, err := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.Start", fmt.Sprintf("Started playing %s.", pcmd.StreamKey))
	if err != nil {
		return nil, nil, rtmperrors.NewProtocolError("play.handle.encode", err)
	}
	_ = conn.SendMessage(started)

	ps, err := NewPlayStream(mapper, pcmd.StreamKey, msg.MessageStreamID, conn, controller, log, pingInterval)
	if err != nil {
		return started, nil, rtmperrors.NewProtocolError("play.handle.subscribe", err)
	}

	return started, ps, nil
}

// buildOnStatus creates an AMF0 onStatus message.
func buildOnStatus(streamID uint32, streamKey, code, description string) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "status",
		"code":        code,
		"description": description,
		"details":     streamKey,
	}
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		return nil, err
	}
	return &chunk.Message{
		CSID:            5,
		TypeID:          rpc.CommandMessageAMF0TypeIDForTest(),
		MessageStreamID: streamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}, nil
}

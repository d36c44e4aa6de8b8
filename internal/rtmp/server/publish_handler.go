package server

// Publish Handler
// ---------------
// Registers a publisher connection in the registry (enforcing the single
// publisher invariant), opens an import slot for the stream key, and sends
// an `onStatus` NetStream.Publish.Start status message back to the client.
// Media itself flows through the returned PublishStream, decoded off the
// connection's raw audio/video/notify messages into tags.

import (
	"fmt"
	"log/slog"
	"strings"

	rtmperrors "github.com/alxayo/go-streamcore/internal/errors"
	"github.com/alxayo/go-streamcore/internal/rtmp/amf"
	"github.com/alxayo/go-streamcore/internal/rtmp/chunk"
	"github.com/alxayo/go-streamcore/internal/rtmp/rpc"
)

// HandlePublish parses the incoming publish command, registers the
// publisher, opens (or reopens) its import slot, and sends an onStatus
// NetStream.Publish.Start message. It returns the onStatus message
// (already sent) and a PublishStream ready to receive this connection's
// media messages.
func HandlePublish(reg *Registry, importer Importer, conn sender, connID, app string, msg *chunk.Message, log *slog.Logger) (*chunk.Message, *PublishStream, error) {
	if reg == nil || importer == nil || conn == nil || msg == nil {
		return nil, nil, rtmperrors.NewProtocolError("publish.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePublishCommand(app, msg)
	if err != nil {
		return nil, nil, err
	}

	stream, _ := reg.CreateStream(pcmd.StreamKey)
	if stream == nil {
		return nil, nil, rtmperrors.NewProtocolError("publish.handle", fmt.Errorf("failed to create stream"))
	}
	if err := stream.SetPublisher(connID); err != nil {
		return nil, nil, err
	}

	// The slot may already exist from a previous publish of the same key;
	// that's fine, PublishTag just resumes feeding it.
	if err := importer.AddImport(pcmd.StreamKey, false); err != nil && !strings.Contains(err.Error(), "already exists") {
		stream.ClearPublisher(connID)
		return nil, nil, rtmperrors.NewProtocolError("publish.handle.import", err)
	}

	info := map[string]interface{}{
		"level":       "status",
		"code":        "NetStream.Publish.Start",
		"description": fmt.Sprintf("Publishing %s.", pcmd.StreamKey),
		"details":     pcmd.StreamKey,
	}
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		return nil, nil, rtmperrors.NewProtocolError("publish.handle.encode", err)
	}
	onStatus := &chunk.Message{
		CSID:            5,
		TypeID:          rpc.CommandMessageAMF0TypeIDForTest(),
		MessageStreamID: msg.MessageStreamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}
	_ = conn.SendMessage(onStatus)

	ps := NewPublishStream(pcmd.StreamKey, importer, log)
	return onStatus, ps, nil
}

// PublisherDisconnected clears the publisher from the stream and closes its
// import slot so a stale slot doesn't keep answering play requests with no
// live source.
func PublisherDisconnected(reg *Registry, importer Importer, streamKey, connID string) {
	if reg == nil || streamKey == "" {
		return
	}
	s := reg.GetStream(streamKey)
	if s == nil {
		return
	}
	s.ClearPublisher(connID)
	if importer != nil {
		_ = importer.DeleteImport(streamKey)
	}
}

package server

// Command Integration
// --------------------
// Bridges the connection (handshake + control + chunking read/write loops)
// with RPC command parsing/handlers and the media tag pipeline, so a real
// RTMP client (OBS / ffmpeg) can complete connect -> createStream ->
// publish|play and have its media routed through container/flv + the
// element mapper instead of a raw byte relay.

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alxayo/go-streamcore/internal/rtmp/chunk"
	iconn "github.com/alxayo/go-streamcore/internal/rtmp/conn"
	"github.com/alxayo/go-streamcore/internal/rtmp/control"
	"github.com/alxayo/go-streamcore/internal/rtmp/media"
	"github.com/alxayo/go-streamcore/internal/rtmp/rpc"
	"github.com/alxayo/go-streamcore/internal/rtmp/server/hooks"
)

// commandState holds mutable per-connection fields needed by handlers.
type commandState struct {
	app           string
	streamKey     string // current publishing OR playing stream key
	allocator     *rpc.StreamIDAllocator
	mediaLogger   *MediaLogger
	publishStream *PublishStream
	playStream    *PlayStream
}

// attachCommandHandling installs a dispatcher-backed message handler on c,
// wiring connect/createStream/publish/play against s's registry, element
// mapper, and importer, and routing media messages through
// PublishStream/PlayStream instead of a raw chunk.Message relay.
func attachCommandHandling(c *iconn.Connection, s *Server) {
	if c == nil || s == nil {
		return
	}
	log := s.log.With("conn_id", c.ID())
	st := &commandState{
		allocator:   rpc.NewStreamIDAllocator(),
		mediaLogger: NewMediaLogger(c.ID(), log, 30*time.Second),
	}

	d := rpc.NewDispatcher(func() string { return st.app })

	d.OnConnect = func(cc *rpc.ConnectCommand, msg *chunk.Message) error {
		st.app = cc.App
		resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
		if err != nil {
			log.Error("connect response build failed", "error", err)
			return nil
		}
		if err := c.SendMessage(resp); err != nil {
			log.Error("connect response send failed", "error", err)
		} else {
			log.Info("connect response sent successfully", "app", cc.App)
		}
		return nil
	}

	d.OnCreateStream = func(cs *rpc.CreateStreamCommand, msg *chunk.Message) error {
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, st.allocator)
		if err != nil {
			log.Error("createStream response build failed", "error", err)
			return nil
		}
		if err := c.SendMessage(resp); err != nil {
			log.Error("createStream response send failed", "error", err)
		}
		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		if err := c.SendMessage(streamBegin); err != nil {
			log.Error("StreamBegin send failed", "error", err, "stream_id", streamID)
		}
		return nil
	}

	d.OnPublish = func(pc *rpc.PublishCommand, msg *chunk.Message) error {
		_, ps, err := HandlePublish(s.reg, s.importer, c, c.ID(), st.app, msg, log)
		if err != nil {
			log.Error("publish handle", "error", err)
			return nil
		}
		st.streamKey = pc.StreamKey
		st.publishStream = ps

		s.triggerHookEvent(hooks.EventPublishStart, c.ID(), pc.StreamKey, nil)

		if s.cfg.RecordAll {
			stream := s.reg.GetStream(pc.StreamKey)
			if stream != nil {
				if err := initRecorder(stream, s.cfg.RecordDir, log); err != nil {
					log.Error("failed to create recorder", "error", err, "stream_key", pc.StreamKey)
				} else {
					log.Info("recording started", "stream_key", pc.StreamKey, "record_dir", s.cfg.RecordDir)
				}
			}
		}
		return nil
	}

	d.OnPlay = func(pl *rpc.PlayCommand, msg *chunk.Message) error {
		_, ps, err := HandlePlay(s.mapper, s.missingCache, c, c, st.app, msg, log, s.cfg.ClockPingInterval)
		if err != nil {
			log.Error("play handle", "error", err)
			return nil
		}
		st.streamKey = pl.StreamKey
		st.playStream = ps
		return nil
	}

	c.SetCloseHandler(func() {
		if s.metrics != nil {
			s.metrics.RTMPConnections.Dec()
		}
		if st.publishStream != nil {
			PublisherDisconnected(s.reg, s.importer, st.streamKey, c.ID())
			cleanupRecorder(s.reg, st.streamKey, log)
			s.triggerHookEvent(hooks.EventPublishStop, c.ID(), st.streamKey, nil)
		}
		if st.playStream != nil {
			st.playStream.Close(s.mapper)
		}
		st.mediaLogger.Stop()
	})

	c.SetMessageHandler(func(m *chunk.Message) {
		if m == nil {
			return
		}

		if m.IsMedia() {
			st.mediaLogger.ProcessMessage(m)

			if st.publishStream != nil {
				if err := st.publishStream.HandleMessage(m); err != nil {
					log.Warn("publish stream handle message failed", "error", err)
				}
			}
			if s.destinationManager != nil {
				s.destinationManager.RelayMessage(m)
			}

			if st.streamKey != "" {
				if stream := s.reg.GetStream(st.streamKey); stream != nil {
					if rec := stream.Recorder(); rec != nil {
						rec.WriteMessage(m)
					}
				}
			}
			return
		}

		if m.TypeID != rpc.CommandMessageAMF0TypeIDForTest() {
			return
		}
		if err := d.Dispatch(m); err != nil {
			log.Error("dispatch error", "error", err)
		}
	})
}

// initRecorder creates and initializes a recorder for the given stream.
func initRecorder(stream *Stream, recordDir string, log *slog.Logger) error {
	if stream == nil {
		return fmt.Errorf("nil stream")
	}
	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	safeKey := strings.ReplaceAll(stream.Key, "/", "_")
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.flv", safeKey, timestamp)
	path := filepath.Join(recordDir, filename)

	recorder, err := media.NewRecorder(path, log)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}
	stream.SetRecorder(recorder)

	log.Info("recorder initialized", "stream_key", stream.Key, "file", path)
	return nil
}

// cleanupRecorder closes and removes the recorder for the given stream key.
func cleanupRecorder(reg *Registry, streamKey string, log *slog.Logger) {
	if reg == nil || streamKey == "" {
		return
	}
	stream := reg.GetStream(streamKey)
	if stream == nil {
		return
	}
	if rec := stream.Recorder(); rec != nil {
		if err := rec.Close(); err != nil {
			log.Error("recorder close error", "error", err, "stream_key", streamKey)
		} else {
			log.Info("recorder closed", "stream_key", streamKey)
		}
		stream.SetRecorder(nil)
	}
}

package rtp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/metrics"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Broadcaster adapts a subscriber's tag stream into RTP packets: it
// consumes MediaInfo to pick packetizers and payload types, then for every
// media tag, packetizes the frame, stamps an RTP header per payload, and
// hands it to Sender. A frame the packetizer rejects is dropped. onEOS(false)
// runs for each EOS tag and onEOS(true) for each Sender failure; repeated
// calls are not suppressed.
type Broadcaster struct {
	sender Sender
	onEOS  func(forced bool)
	log    *slog.Logger

	audioPacketizer Packetizer
	videoPacketizer Packetizer

	audioPayload    PayloadType
	audioSampleRate uint32
	videoPayload    PayloadType
	videoClockRate  uint32

	audioSeq uint16
	videoSeq uint16

	droppedFrames  uint64
	lastDropLogged time.Time

	metrics *metrics.Registry
}

// NewBroadcaster returns a Broadcaster that writes RTP packets to sender
// and calls onEOS(false) on each end-of-stream tag and onEOS(true) on each
// Sender error.
func NewBroadcaster(sender Sender, onEOS func(forced bool)) *Broadcaster {
	return &Broadcaster{
		sender: sender,
		onEOS:  onEOS,
		log:    logger.Logger().With("component", "rtp_broadcaster"),
	}
}

// SetMetrics attaches a metrics.Registry; nil (the default) disables
// instrumentation, mirroring distributor.Distributor.SetMetrics.
func (b *Broadcaster) SetMetrics(m *metrics.Registry) { b.metrics = m }

// SetMediaInfo selects packetizers and payload types/clock rates from a
// stream's codec configuration. Call once, before the first media tag.
func (b *Broadcaster) SetMediaInfo(info *tag.MediaInfo) {
	if info.HasAudio() {
		a := info.Audio
		switch a.Format {
		case tag.AudioFormatMP3:
			b.audioPayload = PayloadTypeMPA
			b.audioPacketizer = MP3Packetizer{FLVContainer: a.MP3InFLV}
		case tag.AudioFormatAAC:
			b.audioPayload = PayloadTypeDynamicAAC
			b.audioPacketizer = MP4APacketizer{FLVContainer: a.AACInFLV}
		}
		b.audioSampleRate = a.SampleRate
	}
	if info.HasVideo() {
		v := info.Video
		switch v.Format {
		case tag.VideoFormatH263:
			b.videoPayload = PayloadTypeMPV
			b.videoPacketizer = H263Packetizer{}
		case tag.VideoFormatH264:
			b.videoPayload = PayloadTypeDynamicH264
			b.videoPacketizer = H264Packetizer{FLVContainer: v.H264InFLV}
		}
		b.videoClockRate = v.ClockRate
	}
}

// HandleTag feeds one upstream tag. MediaInfo tags (re)configure the
// packetizers; EOS tags fire onEOS; every other kind is sent through
// RtpSend if it carries AttrAudio or AttrVideo payload, and ignored
// otherwise (metadata, cue points, bootstrap markers have no RTP analogue).
func (b *Broadcaster) HandleTag(t tag.Tag) {
	switch t.Kind() {
	case tag.KindMediaInfo:
		if mi, ok := t.(*tag.MediaInfoTag); ok {
			b.SetMediaInfo(mi.Info)
		}
	case tag.KindEOS:
		if b.onEOS != nil {
			b.onEOS(false)
		}
	default:
		mt, ok := t.(*tag.MediaTag)
		if !ok || mt.Payload == nil {
			return
		}
		isAudio := mt.Attributes()&tag.AttrAudio != 0
		isVideo := mt.Attributes()&tag.AttrVideo != 0
		if !isAudio && !isVideo {
			return
		}
		rate := b.videoClockRate
		if isAudio {
			rate = b.audioSampleRate
		}
		timestamp := uint32(uint64(t.TimestampMs()) * uint64(rate) / 1000)
		if err := b.RtpSend(mt.Payload.Bytes(), timestamp, isAudio); err != nil {
			b.log.Warn("rtp send failed, ending session", "error", err)
			if b.onEOS != nil {
				b.onEOS(true)
			}
		}
	}
}

// RtpSend packetizes one media frame and sends every resulting RTP packet.
// A missing packetizer or a packetization failure drops the frame (rate
// limited to one log line per 5 seconds) rather than ending the session —
// matching the original broadcaster's "keep going" stance on a single bad
// frame, reserving onEOS for a send failure on the transport itself.
func (b *Broadcaster) RtpSend(frameData []byte, timestamp uint32, isAudio bool) error {
	packetizer := b.videoPacketizer
	payloadType := b.videoPayload
	if isAudio {
		packetizer = b.audioPacketizer
		payloadType = b.audioPayload
	}
	if packetizer == nil {
		b.logDrop(isAudio, "no packetizer configured")
		return nil
	}

	packets, err := packetizer.Packetize(frameData)
	if err != nil {
		b.logDrop(isAudio, err.Error())
		return nil
	}

	for i, payload := range packets {
		marker := isAudio || i == len(packets)-1
		h := Header{
			Marker:         marker,
			PayloadType:    payloadType,
			Timestamp:      timestamp,
			SSRC:           ssrcVideo,
		}
		seq := &b.videoSeq
		if isAudio {
			h.SSRC = ssrcAudio
			seq = &b.audioSeq
		}
		h.SequenceNumber = *seq

		buf := h.Encode(make([]byte, 0, headerSize+len(payload)))
		buf = append(buf, payload...)
		if err := b.sender.SendRTP(buf, isAudio); err != nil {
			return fmt.Errorf("rtp: send %s packet: %w", trackName(isAudio), err)
		}
		if b.metrics != nil {
			b.metrics.RTPPacketsSent.WithLabelValues(trackName(isAudio)).Inc()
		}
		*seq++
	}
	return nil
}

func (b *Broadcaster) logDrop(isAudio bool, reason string) {
	b.droppedFrames++
	if time.Since(b.lastDropLogged) < 5*time.Second {
		return
	}
	b.lastDropLogged = time.Now()
	b.log.Warn("dropping frame", "track", trackName(isAudio), "reason", reason, "total_dropped", b.droppedFrames)
}

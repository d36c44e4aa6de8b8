package rtp

import (
	"errors"
	"testing"

	"github.com/alxayo/go-streamcore/internal/tag"
)

type fakeSender struct {
	sent    [][]byte
	isAudio []bool
	failOn  int
}

func (f *fakeSender) SendRTP(packet []byte, isAudio bool) error {
	if f.failOn > 0 && len(f.sent)+1 == f.failOn {
		return errors.New("boom")
	}
	f.sent = append(f.sent, packet)
	f.isAudio = append(f.isAudio, isAudio)
	return nil
}

func TestBroadcasterSetMediaInfoSelectsPacketizers(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroadcaster(sender, nil)
	b.SetMediaInfo(&tag.MediaInfo{
		Audio: &tag.AudioInfo{Format: tag.AudioFormatAAC, SampleRate: 44100},
		Video: &tag.VideoInfo{Format: tag.VideoFormatH264, ClockRate: 90000},
	})
	if b.audioPacketizer == nil || b.audioPacketizer.Name() != "MP4A" {
		t.Fatalf("expected MP4A audio packetizer, got %v", b.audioPacketizer)
	}
	if b.videoPacketizer == nil || b.videoPacketizer.Name() != "H264" {
		t.Fatalf("expected H264 video packetizer, got %v", b.videoPacketizer)
	}
	if b.audioPayload != PayloadTypeDynamicAAC || b.videoPayload != PayloadTypeDynamicH264 {
		t.Fatalf("unexpected payload types: audio=%d video=%d", b.audioPayload, b.videoPayload)
	}
}

func TestBroadcasterHandleTagDispatchesAudioAndVideo(t *testing.T) {
	sender := &fakeSender{}
	b := NewBroadcaster(sender, nil)
	b.HandleTag(tag.NewMediaInfoTag(0, 0, &tag.MediaInfo{
		Audio: &tag.AudioInfo{Format: tag.AudioFormatMP3, SampleRate: 44100},
		Video: &tag.VideoInfo{Format: tag.VideoFormatH263, ClockRate: 90000},
	}))

	audioPayload := tag.NewPayload([]byte{0, 1, 2, 3})
	videoPayload := tag.NewPayload([]byte{0, 0, 0, 5, 6})
	b.HandleTag(tag.NewMediaTag(tag.KindMP3, tag.AttrAudio, 0, 100, audioPayload))
	b.HandleTag(tag.NewMediaTag(tag.KindFLV, tag.AttrVideo, 0, 100, videoPayload))

	if len(sender.sent) == 0 {
		t.Fatalf("expected packets to be sent")
	}
	sawAudio, sawVideo := false, false
	for _, a := range sender.isAudio {
		if a {
			sawAudio = true
		} else {
			sawVideo = true
		}
	}
	if !sawAudio || !sawVideo {
		t.Fatalf("expected both audio and video packets, audio=%v video=%v", sawAudio, sawVideo)
	}
}

func TestBroadcasterEOSTagFiresCallback(t *testing.T) {
	sender := &fakeSender{}
	var gotForced *bool
	b := NewBroadcaster(sender, func(forced bool) { gotForced = &forced })
	b.HandleTag(tag.NewMediaInfoTag(0, 0, &tag.MediaInfo{}))
	b.HandleTag(tag.NewEOSTag(0, 0, false))
	if gotForced == nil || *gotForced {
		t.Fatalf("expected onEOS(false) to be called")
	}
}

func TestBroadcasterRtpSendPropagatesSenderError(t *testing.T) {
	sender := &fakeSender{failOn: 1}
	b := NewBroadcaster(sender, nil)
	b.SetMediaInfo(&tag.MediaInfo{Audio: &tag.AudioInfo{Format: tag.AudioFormatMP3, SampleRate: 44100}})
	err := b.RtpSend([]byte{1, 2, 3}, 0, true)
	if err == nil {
		t.Fatalf("expected error to propagate from sender")
	}
}

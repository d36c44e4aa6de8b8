package rtsp

import (
	"fmt"
	"net"
	"sync"
)

// interleavedSender implements rtp.Sender by wrapping RTP packets in
// InterleavedFrame and writing them directly to the RTSP TCP connection,
// for clients whose Transport header negotiated RTP/AVP/TCP instead of UDP.
type interleavedSender struct {
	conn net.Conn

	mu         sync.Mutex
	audioCh    byte
	videoCh    byte
	onSpace    func()
	writeErr   error
}

func newInterleavedSender(conn net.Conn, audioCh, videoCh byte) *interleavedSender {
	return &interleavedSender{conn: conn, audioCh: audioCh, videoCh: videoCh}
}

// SendRTP writes packet synchronously on the RTSP connection's socket.
// Unlike UDPSender there is no bounded queue to drop from, and no write
// deadline is set: a slow peer blocks the write.
func (s *interleavedSender) SendRTP(packet []byte, isAudio bool) error {
	s.mu.Lock()
	ch := s.videoCh
	if isAudio {
		ch = s.audioCh
	}
	s.mu.Unlock()

	frame := (&InterleavedFrame{Channel: ch, Payload: packet}).Encode()
	if _, err := s.conn.Write(frame); err != nil {
		s.mu.Lock()
		s.writeErr = err
		s.mu.Unlock()
		return fmt.Errorf("rtsp: interleaved write: %w", err)
	}

	s.mu.Lock()
	cb := s.onSpace
	s.onSpace = nil
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// SetSpaceCallback mirrors rtp.UDPSender's one-shot backpressure contract;
// the callback fires after the next successful SendRTP write.
func (s *interleavedSender) SetSpaceCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpace = fn
}

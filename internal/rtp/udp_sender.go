package rtp

import (
	"fmt"
	"net"
	"sync"

	"github.com/alxayo/go-streamcore/internal/metrics"
)

// outQueueMaxSize bounds the number of packets buffered for the writer
// goroutine before SendRTP starts silently dropping, mirroring the
// original sender's fixed out-queue cap rather than growing unbounded
// under a slow or congested peer.
const outQueueMaxSize = 100

type queuedPacket struct {
	data []byte
	dst  *net.UDPAddr
}

// UDPSender sends RTP packets as UDP datagrams to a pair of destinations,
// one for audio and one for video. A single local socket serves both
// tracks, matching how RTSP SETUP negotiates one client_port pair per
// track against one server-side session socket.
type UDPSender struct {
	conn *net.UDPConn

	mu       sync.Mutex
	audioDst *net.UDPAddr
	videoDst *net.UDPAddr
	onSpace  func() // one-shot backpressure callback, armed by SetSpaceCallback
	dropped  uint64

	queue   chan queuedPacket
	metrics *metrics.Registry
}

// SetMetrics attaches a metrics.Registry; nil (the default) disables
// instrumentation, mirroring distributor.Distributor.SetMetrics.
func (s *UDPSender) SetMetrics(m *metrics.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// NewUDPSender opens a UDP socket on an ephemeral local port (or laddr, if
// non-empty) and starts its writer loop.
func NewUDPSender(laddr string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("rtp: resolve local udp addr %q: %w", laddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtp: listen udp: %w", err)
	}
	s := &UDPSender{
		conn:  conn,
		queue: make(chan queuedPacket, outQueueMaxSize),
	}
	go s.writeLoop()
	return s, nil
}

// LocalPort returns the port this sender's socket is bound to, the value
// an RTSP SETUP response reports back as the server_port.
func (s *UDPSender) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetDestination binds the audio or video track's destination host/port.
func (s *UDPSender) SetDestination(dst *net.UDPAddr, isAudio bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isAudio {
		s.audioDst = dst
	} else {
		s.videoDst = dst
	}
}

// SendRTP enqueues packet for delivery to the track's destination. If the
// outbound queue is full the packet is dropped silently — a congested UDP
// peer should lose packets, not stall the broadcaster.
func (s *UDPSender) SendRTP(packet []byte, isAudio bool) error {
	s.mu.Lock()
	dst := s.videoDst
	if isAudio {
		dst = s.audioDst
	}
	s.mu.Unlock()
	if dst == nil {
		return fmt.Errorf("rtp: no destination set for %s track", trackName(isAudio))
	}

	select {
	case s.queue <- queuedPacket{data: packet, dst: dst}:
		return nil
	default:
		s.mu.Lock()
		s.dropped++
		m := s.metrics
		s.mu.Unlock()
		if m != nil {
			m.RTPPacketsDropped.WithLabelValues(trackName(isAudio)).Inc()
		}
		return nil
	}
}

// OutQueueSpace reports how many more packets can be enqueued before
// SendRTP starts dropping.
func (s *UDPSender) OutQueueSpace() int {
	return outQueueMaxSize - len(s.queue)
}

// SetSpaceCallback arms a one-shot callback fired the next time the writer
// loop observes queue space after having sent a packet; the callback must
// re-arm itself for another notification, matching the original sender's
// non-permanent-closure contract.
func (s *UDPSender) SetSpaceCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpace = fn
}

// Close stops the writer loop and releases the socket.
func (s *UDPSender) Close() error {
	close(s.queue)
	return s.conn.Close()
}

func (s *UDPSender) writeLoop() {
	for pkt := range s.queue {
		_, _ = s.conn.WriteToUDP(pkt.data, pkt.dst)

		s.mu.Lock()
		cb := s.onSpace
		s.onSpace = nil
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

func trackName(isAudio bool) string {
	if isAudio {
		return "audio"
	}
	return "video"
}

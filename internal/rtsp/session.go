package rtsp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/metrics"
	"github.com/alxayo/go-streamcore/internal/rtp"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// sessionState tracks where a Session sits in the SETUP -> PLAY/PAUSE ->
// TEARDOWN lifecycle.
type sessionState int

const (
	stateInit sessionState = iota
	stateReady
	statePlaying
	statePaused
	stateClosed
)

// Listener receives a Session's lifecycle notifications, the Go analogue
// of the original's SessionListener interface.
type Listener interface {
	SessionClosed(s *Session)
}

// ClientTransport is the SETUP request's negotiated transport for one
// track: either a UDP destination pair (client_port) or an interleaved
// channel pair carried on the RTSP TCP connection.
type ClientTransport struct {
	IsAudio       bool
	UDP           *net.UDPAddr // non-nil for RTP/AVP/UDP
	Interleaved   bool
	InterleavedCh byte // used when Interleaved is true
}

// ServerTransport is what a SETUP response reports back: the server's half
// of the negotiated transport.
type ServerTransport struct {
	UDPPort       int // server_port, valid only for UDP transport
	Interleaved   bool
	InterleavedCh byte
}

// Session manages one client's streaming lifecycle for one media path: it
// owns the rtp.Broadcaster started on PLAY, enforces a SETUP->PLAY
// watchdog so an abandoned negotiation doesn't leak a subscription, and
// gates tag delivery while paused.
type Session struct {
	id        string
	mapper    *element.Mapper
	listener  Listener
	metrics   *metrics.Registry
	log       *slog.Logger

	mu          sync.Mutex
	state       sessionState
	mediaPath   string
	req         *element.Request
	broadcaster *rtp.Broadcaster
	udpSender   *rtp.UDPSender
	rtspSender  *interleavedSender
	watchdog    *time.Timer
}

// NewSession constructs an idle Session identified by id; media is bound by
// the first Setup call. m may be nil to disable prometheus instrumentation.
func NewSession(id string, mapper *element.Mapper, listener Listener, m *metrics.Registry) *Session {
	return &Session{
		id:       id,
		mapper:   mapper,
		listener: listener,
		metrics:  m,
		log:      logger.Logger().With("component", "rtsp_session", "session_id", id),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Media() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaPath
}

// LocalPort reports the UDP socket's local port, or 0 if this session
// hasn't negotiated a UDP transport.
func (s *Session) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpSender == nil {
		return 0
	}
	return s.udpSender.LocalPort()
}

// Setup binds one track's transport (UDP or RTSP-interleaved). The first
// Setup call for a session arms the SETUP->PLAY watchdog; every subsequent
// SETUP call for the same session (e.g. the second track) extends nothing
// further, matching the original's single shared deadline per session.
func (s *Session) Setup(mediaPath string, ct ClientTransport, rtspConn net.Conn, onWatchdogExpired func(*Session)) (ServerTransport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return ServerTransport{}, fmt.Errorf("rtsp: session %s already torn down", s.id)
	}
	if s.mediaPath == "" {
		s.mediaPath = mediaPath
		s.watchdog = time.AfterFunc(setupTimeout*time.Millisecond, func() {
			if onWatchdogExpired != nil {
				onWatchdogExpired(s)
			}
		})
	}

	var out ServerTransport
	if ct.Interleaved {
		if s.rtspSender == nil {
			s.rtspSender = newInterleavedSender(rtspConn, 0, 0)
			s.attachSenderLocked(s.rtspSender)
		}
		s.rtspSender.mu.Lock()
		if ct.IsAudio {
			s.rtspSender.audioCh = ct.InterleavedCh
		} else {
			s.rtspSender.videoCh = ct.InterleavedCh
		}
		s.rtspSender.mu.Unlock()
		out = ServerTransport{Interleaved: true, InterleavedCh: ct.InterleavedCh}
		s.state = stateReady
		return out, nil
	}

	if s.udpSender == nil {
		sender, err := rtp.NewUDPSender("0.0.0.0:0")
		if err != nil {
			return ServerTransport{}, fmt.Errorf("rtsp: allocate udp sender: %w", err)
		}
		s.udpSender = sender
		s.udpSender.SetMetrics(s.metrics)
		s.attachSenderLocked(s.udpSender)
	}
	s.udpSender.SetDestination(ct.UDP, ct.IsAudio)
	out = ServerTransport{UDPPort: s.udpSender.LocalPort()}
	s.state = stateReady
	return out, nil
}

// attachSenderLocked installs sender as this session's RTP transport. Only
// one transport kind (UDP or interleaved) is used per session in practice,
// but holding the broadcaster's sender field lets Setup be called per track
// without constructing a new Broadcaster.
func (s *Session) attachSenderLocked(sender rtp.Sender) {
	s.broadcaster = rtp.NewBroadcaster(sender, s.broadcasterEOSLocked)
	s.broadcaster.SetMetrics(s.metrics)
}

// Play subscribes this session's broadcaster to its media path through the
// element mapper. Calling Play again after Pause resumes tag delivery
// in-place rather than resubscribing, since the distributor has no concept
// of a paused subscriber.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return fmt.Errorf("rtsp: session %s already torn down", s.id)
	}
	s.stopWatchdogLocked()

	if s.state == statePaused {
		s.state = statePlaying
		return nil
	}
	if s.req != nil {
		s.state = statePlaying
		return nil
	}

	req := &element.Request{MediaPath: s.mediaPath, Controller: s}
	if err := s.mapper.AddRequest(s.mediaPath, req, s.onTag); err != nil {
		return err
	}
	s.req = req
	s.state = statePlaying
	return nil
}

// PauseStream gates tag delivery without unsubscribing, in response to an
// RTSP PAUSE request.
func (s *Session) PauseStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != statePlaying {
		return fmt.Errorf("rtsp: session %s: PAUSE requires PLAYING state", s.id)
	}
	s.state = statePaused
	return nil
}

// Teardown unsubscribes from the media path, releases transports, and
// notifies the listener exactly once.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	s.stopWatchdogLocked()
	req := s.req
	s.req = nil
	udp := s.udpSender
	s.mu.Unlock()

	if req != nil {
		s.mapper.RemoveRequest(req)
	}
	if udp != nil {
		udp.Close()
	}
	if s.listener != nil {
		s.listener.SessionClosed(s)
	}
}

func (s *Session) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Session) onTag(t tag.Tag, _ int64) {
	s.mu.Lock()
	paused := s.state != statePlaying
	b := s.broadcaster
	s.mu.Unlock()
	if paused || b == nil {
		return
	}
	b.HandleTag(t)
}

func (s *Session) broadcasterEOSLocked(forced bool) {
	s.log.Info("broadcaster ended", "forced", forced)
	go s.Teardown()
}

// --- element.Controller ---
//
// These satisfy element.Request.Controller so a normalizer upstream of this
// session's subscription can honor a server-initiated pause or reject a
// seek it doesn't support; they are distinct from PauseStream, which
// handles this session's own client-initiated PAUSE request.

func (s *Session) SupportsPause() bool { return true }
func (s *Session) Pause(paused bool) {
	if paused {
		s.PauseStream()
		return
	}
	s.Play()
}
func (s *Session) SupportsSeek() bool { return false }
func (s *Session) Seek(int64) error   { return fmt.Errorf("rtsp: seek not supported") }

package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alxayo/go-streamcore/internal/element"
	streamerrors "github.com/alxayo/go-streamcore/internal/errors"
	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/metrics"
	"github.com/alxayo/go-streamcore/internal/rtmp/server/hooks"
	"github.com/alxayo/go-streamcore/internal/rtp"
	"github.com/alxayo/go-streamcore/internal/tag"
)

// Server accepts RTSP connections, resolves media paths through an
// element.Mapper, and drives OPTIONS/DESCRIBE/SETUP/PLAY/PAUSE/TEARDOWN
// against per-client Sessions.
type Server struct {
	mapper      *element.Mapper
	metrics     *metrics.Registry
	hookManager *hooks.HookManager
	log         *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	sessionSeq uint64

	l net.Listener
}

// NewServer returns a Server resolving media paths through mapper. m may be
// nil to disable prometheus instrumentation. hookManager may be nil, in
// which case RTSP sessions raise no hook events (the RTMP front-end is then
// the only source of EventPlayStart/EventPlayStop for a shared hookManager).
func NewServer(mapper *element.Mapper, m *metrics.Registry, hookManager *hooks.HookManager) *Server {
	return &Server{
		mapper:      mapper,
		metrics:     m,
		hookManager: hookManager,
		sessions:    make(map[string]*Session),
		log:         logger.Logger().With("component", "rtsp_server"),
	}
}

// triggerHookEvent mirrors internal/rtmp/server's helper of the same name:
// an RTSP session counts as a "play" consumer of the same media namespace,
// so it raises the same EventPlayStart/EventPlayStop events an RTMP player
// would, letting one set of configured hooks observe both front-ends.
func (srv *Server) triggerHookEvent(eventType hooks.EventType, sessionID, mediaPath string) {
	if srv == nil || srv.hookManager == nil {
		return
	}
	event := hooks.NewEvent(eventType).WithConnID(sessionID).WithStreamKey(mediaPath).WithData("protocol", "rtsp")
	srv.hookManager.TriggerEvent(context.Background(), *event)
}

// Serve accepts connections on ln until it returns an error (including a
// deliberate Close).
func (srv *Server) Serve(ln net.Listener) error {
	srv.l = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go srv.handleConn(conn)
	}
}

func (srv *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := srv.log.With("remote", remote)
	log.Info("rtsp connection accepted")

	var session *Session
	defer func() {
		if session != nil {
			session.Teardown()
		}
		conn.Close()
		log.Info("rtsp connection closed")
	}()

	reader := NewMessageReader(conn)
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			return
		}
		req, ok := msg.(*Request)
		if !ok {
			// A client sending us interleaved RTP or an unsolicited response
			// is outside this server's role; ignore and keep reading.
			continue
		}

		resp, sess := srv.handleRequest(conn, req, session)
		if sess != nil {
			session = sess
		}
		if _, err := conn.Write(resp.Encode()); err != nil {
			return
		}
	}
}

// handleRequest dispatches one request and returns the response to send,
// plus the connection's session if this request established or resolved
// one (nil otherwise, leaving the caller's current session unchanged).
func (srv *Server) handleRequest(conn net.Conn, req *Request, current *Session) (*Response, *Session) {
	switch req.Method {
	case MethodOptions:
		return srv.handleOptions(req), nil
	case MethodDescribe:
		return srv.handleDescribe(req), nil
	case MethodSetup:
		return srv.handleSetup(conn, req, current)
	case MethodPlay:
		return srv.handlePlay(req, current), nil
	case MethodPause:
		return srv.handlePause(req, current), nil
	case MethodTeardown:
		return srv.handleTeardown(req, current), nil
	case MethodAnnounce, MethodRecord, MethodRedirect, MethodGetParameter, MethodSetParameter:
		return simpleReply(req, StatusNotImplemented), nil
	default:
		return simpleReply(req, StatusMethodNotAllowed), nil
	}
}

func (srv *Server) handleOptions(req *Request) *Response {
	resp := NewResponse(req, StatusOK)
	resp.Header.Set(HeaderPublic, "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN")
	return resp
}

func (srv *Server) handleDescribe(req *Request) *Response {
	mediaPath, _, _ := parseURIPath(req.URI)
	if !srv.mapper.HasMedia(mediaPath) {
		return simpleReply(req, StatusNotFound)
	}

	info := make(chan *tag.MediaInfo, 1)
	srv.mapper.DescribeMedia(mediaPath, func(mi *tag.MediaInfo) {
		info <- mi
	})
	// DescribeMedia invokes its callback from whichever goroutine owns the
	// element (possibly this one, possibly another); block this connection's
	// single reader goroutine until it arrives, matching the original's
	// asynchronous-describe-then-reply flow collapsed onto a blocking call.
	mi := <-info
	if mi == nil {
		return simpleReply(req, StatusNotFound)
	}

	sdp := rtp.BuildSDP(mediaPath, mi)
	body := []byte(sdp.WriteString(fmt.Sprintf("rtsp://%s/%s", req.Header.Get("Host"), mediaPath)))

	resp := NewResponse(req, StatusOK)
	resp.Header.Set(HeaderContentType, "application/sdp")
	resp.Header.Set(HeaderContentBase, fmt.Sprintf("rtsp://%s/%s/", req.Header.Get("Host"), mediaPath))
	resp.Body = body
	return resp
}

func (srv *Server) handleSetup(conn net.Conn, req *Request, current *Session) (*Response, *Session) {
	mediaPath, trackID, hasTrack := parseURIPath(req.URI)
	if !srv.mapper.HasMedia(mediaPath) {
		return simpleReply(req, StatusNotFound), nil
	}

	authReq := element.AuthorizerRequest{MediaPath: mediaPath, UserAgent: req.Header.Get("User-Agent")}
	if reply := element.AuthorizeBlocking(srv.mapper.GetAuthorizer("rtsp_play"), authReq); !reply.Allowed {
		srv.log.Warn("setup denied by authorizer", "media", mediaPath, "reason", reply.Reason)
		return simpleReply(req, StatusUnauthorized), nil
	}

	isAudio := !hasTrack || trackID == 0

	transportHeader := req.Header.Get(HeaderTransport)
	clientHost, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	ct, err := parseTransport(transportHeader, isAudio, clientHost)
	if err != nil {
		return simpleReply(req, StatusUnsupportedTransport), nil
	}

	session := current
	if session == nil {
		session = srv.newSession()
	}

	serverTransport, err := session.Setup(mediaPath, ct, conn, srv.onWatchdogExpired)
	if err != nil {
		srv.log.Warn("setup failed", "error", err, "media", mediaPath)
		return simpleReply(req, StatusInternalServerError), nil
	}

	resp := NewResponse(req, StatusOK)
	resp.Header.Set(HeaderSession, fmt.Sprintf("%s;timeout=%d", session.ID(), sessionTimeoutSec))
	resp.Header.Set(HeaderTransport, encodeServerTransport(serverTransport, ct))
	return resp, session
}

func (srv *Server) handlePlay(req *Request, session *Session) *Response {
	if session == nil {
		return simpleReply(req, StatusSessionNotFound)
	}
	if err := session.Play(); err != nil {
		return simpleReply(req, StatusMethodNotValidInThisState)
	}
	srv.triggerHookEvent(hooks.EventPlayStart, session.ID(), session.Media())
	resp := NewResponse(req, StatusOK)
	resp.Header.Set(HeaderSession, session.ID())
	return resp
}

func (srv *Server) handlePause(req *Request, session *Session) *Response {
	if session == nil {
		return simpleReply(req, StatusSessionNotFound)
	}
	if err := session.PauseStream(); err != nil {
		return simpleReply(req, StatusMethodNotValidInThisState)
	}
	resp := NewResponse(req, StatusOK)
	resp.Header.Set(HeaderSession, session.ID())
	return resp
}

func (srv *Server) handleTeardown(req *Request, session *Session) *Response {
	if session == nil {
		return simpleReply(req, StatusSessionNotFound)
	}
	srv.removeSession(session.ID())
	session.Teardown()
	return NewResponse(req, StatusOK)
}

func (srv *Server) newSession() *Session {
	id := fmt.Sprintf("%d", atomic.AddUint64(&srv.sessionSeq, 1))
	s := NewSession(id, srv.mapper, srv, srv.metrics)
	srv.mu.Lock()
	srv.sessions[id] = s
	srv.mu.Unlock()
	if srv.metrics != nil {
		srv.metrics.RTSPSessions.Inc()
	}
	return s
}

func (srv *Server) removeSession(id string) {
	srv.mu.Lock()
	_, existed := srv.sessions[id]
	delete(srv.sessions, id)
	srv.mu.Unlock()
	if existed && srv.metrics != nil {
		srv.metrics.RTSPSessions.Dec()
	}
}

// SessionClosed implements Listener: a Session that ends itself (watchdog,
// EOS, explicit TEARDOWN, or forced close) unregisters from the server's
// session table and raises EventPlayStop exactly once regardless of which
// path ended it.
func (srv *Server) SessionClosed(s *Session) {
	srv.removeSession(s.ID())
	srv.triggerHookEvent(hooks.EventPlayStop, s.ID(), s.Media())
}

func (srv *Server) onWatchdogExpired(s *Session) {
	srv.log.Info("session setup watchdog expired, tearing down", "session_id", s.ID())
	s.Teardown()
}

func simpleReply(req *Request, status StatusCode) *Response {
	return NewResponse(req, status)
}

// parseURIPath extracts the media path and, if present, a ?trackID=N or
// /trackID=N suffix SETUP uses to address one track of a multi-track
// media path.
func parseURIPath(rawURI string) (mediaPath string, trackID int, hasTrack bool) {
	u, err := url.Parse(rawURI)
	path := rawURI
	if err == nil {
		path = u.Path
		if tid := u.Query().Get("trackID"); tid != "" {
			if n, convErr := strconv.Atoi(tid); convErr == nil {
				return strings.Trim(path, "/"), n, true
			}
		}
	}
	path = strings.Trim(path, "/")
	if idx := strings.LastIndex(path, "/trackID="); idx >= 0 {
		if n, convErr := strconv.Atoi(path[idx+len("/trackID="):]); convErr == nil {
			return path[:idx], n, true
		}
	}
	return path, 0, false
}

// parseTransport parses an RTSP Transport header for either
// "RTP/AVP;unicast;client_port=P1-P2" (UDP) or
// "RTP/AVP/TCP;interleaved=C1-C2" (interleaved) forms.
func parseTransport(header string, isAudio bool, clientHost string) (ClientTransport, error) {
	if strings.Contains(header, "interleaved=") {
		ch, err := parseChannelPair(header, "interleaved=")
		if err != nil {
			return ClientTransport{}, err
		}
		return ClientTransport{IsAudio: isAudio, Interleaved: true, InterleavedCh: ch}, nil
	}
	if strings.Contains(header, "client_port=") {
		port, err := parsePortPair(header, "client_port=")
		if err != nil {
			return ClientTransport{}, err
		}
		return ClientTransport{IsAudio: isAudio, UDP: &net.UDPAddr{IP: net.ParseIP(clientHost), Port: port}}, nil
	}
	return ClientTransport{}, streamerrors.NewFormatError("rtsp.parse_transport", fmt.Errorf("unsupported Transport header: %q", header))
}

func parsePortPair(header, key string) (int, error) {
	idx := strings.Index(header, key)
	if idx < 0 {
		return 0, fmt.Errorf("rtsp: missing %s", key)
	}
	rest := header[idx+len(key):]
	if end := strings.IndexAny(rest, ";, "); end >= 0 {
		rest = rest[:end]
	}
	first := strings.SplitN(rest, "-", 2)[0]
	return strconv.Atoi(first)
}

func parseChannelPair(header, key string) (byte, error) {
	idx := strings.Index(header, key)
	if idx < 0 {
		return 0, fmt.Errorf("rtsp: missing %s", key)
	}
	rest := header[idx+len(key):]
	if end := strings.IndexAny(rest, ";, "); end >= 0 {
		rest = rest[:end]
	}
	first := strings.SplitN(rest, "-", 2)[0]
	n, err := strconv.Atoi(first)
	if err != nil {
		return 0, err
	}
	return byte(n), nil
}

func encodeServerTransport(st ServerTransport, ct ClientTransport) string {
	if st.Interleaved {
		return fmt.Sprintf("RTP/AVP/TCP;interleaved=%d-%d", st.InterleavedCh, st.InterleavedCh+1)
	}
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
		ct.UDP.Port, ct.UDP.Port+1, st.UDPPort, st.UDPPort+1)
}

package rtsp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alxayo/go-streamcore/internal/element"
	"github.com/alxayo/go-streamcore/internal/elements/importelem"
	"github.com/alxayo/go-streamcore/internal/rtmp/server/hooks"
)

func newTestServer(t *testing.T, path string) (*Server, *importelem.Element) {
	t.Helper()
	imp := importelem.New("test-import", "rtsp", "/", newMemStateKeeper())
	mapper := element.NewMapper()
	mapper.RegisterPrefix("", imp)
	if err := imp.AddImport(path, false); err != nil {
		t.Fatalf("AddImport: %v", err)
	}
	return NewServer(mapper, nil, nil), imp
}

func dialServer(t *testing.T, srv *Server) (net.Conn, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(ln)
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Fatalf("Dial: %v", err)
	}
	return conn, func() { conn.Close(); ln.Close() }
}

func sendRequest(t *testing.T, conn net.Conn, r *bufio.Reader, method, uri string, headers map[string]string) *Response {
	t.Helper()
	req := &Request{Method: parseMethodOrFatal(t, method), URI: uri, Header: Header{}}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if _, err := conn.Write(req.Encode()); err != nil {
		t.Fatalf("write request: %v", err)
	}
	d := NewMessageReader(r)
	msg, err := d.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp, ok := msg.(*Response)
	if !ok {
		t.Fatalf("expected *Response, got %T", msg)
	}
	return resp
}

func parseMethodOrFatal(t *testing.T, s string) Method {
	t.Helper()
	m, ok := ParseMethod(s)
	if !ok {
		t.Fatalf("unknown method %q", s)
	}
	return m
}

func TestServerOptionsListsMethods(t *testing.T) {
	srv, _ := newTestServer(t, "stream1")
	conn, cleanup := dialServer(t, srv)
	defer cleanup()
	r := bufio.NewReader(conn)

	resp := sendRequest(t, conn, r, "OPTIONS", "*", map[string]string{"CSeq": "1"})
	if resp.Status != StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.Status)
	}
	if !strings.Contains(resp.Header.Get(HeaderPublic), "SETUP") {
		t.Fatalf("expected Public header to list SETUP, got %q", resp.Header.Get(HeaderPublic))
	}
}

func TestServerDescribeUnknownMediaReturns404(t *testing.T) {
	srv, _ := newTestServer(t, "stream1")
	conn, cleanup := dialServer(t, srv)
	defer cleanup()
	r := bufio.NewReader(conn)

	resp := sendRequest(t, conn, r, "DESCRIBE", "rtsp://host/does-not-exist", map[string]string{"CSeq": "1"})
	if resp.Status != StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
}

func TestServerSetupPlayTeardownLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, "stream1")
	conn, cleanup := dialServer(t, srv)
	defer cleanup()
	r := bufio.NewReader(conn)

	rx, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer rx.Close()
	clientPort := rx.LocalAddr().(*net.UDPAddr).Port

	setupResp := sendRequest(t, conn, r, "SETUP", "rtsp://host/stream1/trackID=0", map[string]string{
		"CSeq":      "1",
		"Transport": fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", clientPort, clientPort+1),
	})
	if setupResp.Status != StatusOK {
		t.Fatalf("expected 200 OK from SETUP, got %d", setupResp.Status)
	}
	sessionHeader := setupResp.Header.Get(HeaderSession)
	if sessionHeader == "" {
		t.Fatalf("expected a Session header in SETUP response")
	}
	sessionID := strings.SplitN(sessionHeader, ";", 2)[0]
	if !strings.Contains(setupResp.Header.Get(HeaderTransport), "server_port=") {
		t.Fatalf("expected server_port in Transport response, got %q", setupResp.Header.Get(HeaderTransport))
	}

	playResp := sendRequest(t, conn, r, "PLAY", "rtsp://host/stream1", map[string]string{
		"CSeq":    "2",
		"Session": sessionID,
	})
	if playResp.Status != StatusOK {
		t.Fatalf("expected 200 OK from PLAY, got %d", playResp.Status)
	}

	teardownResp := sendRequest(t, conn, r, "TEARDOWN", "rtsp://host/stream1", map[string]string{
		"CSeq":    "3",
		"Session": sessionID,
	})
	if teardownResp.Status != StatusOK {
		t.Fatalf("expected 200 OK from TEARDOWN, got %d", teardownResp.Status)
	}

	time.Sleep(50 * time.Millisecond)
	if len(srv.sessions) != 0 {
		t.Fatalf("expected server to have forgotten the torn-down session, got %d remaining", len(srv.sessions))
	}
}

type denyingAuthorizer struct{ name string }

func (d denyingAuthorizer) Type() string      { return "deny-all" }
func (d denyingAuthorizer) Name() string      { return d.name }
func (d denyingAuthorizer) Initialize() error { return nil }
func (d denyingAuthorizer) Authorize(_ element.AuthorizerRequest, reply *element.AuthorizerReply, completion func()) {
	reply.Allowed = false
	reply.Reason = "not entitled"
	completion()
}

func TestServerSetupDeniedByAuthorizerReturns401(t *testing.T) {
	imp := importelem.New("test-import", "rtsp", "/", newMemStateKeeper())
	mapper := element.NewMapper()
	mapper.RegisterPrefix("", imp)
	mapper.RegisterAuthorizer(denyingAuthorizer{name: "rtsp_play"})
	if err := imp.AddImport("stream1", false); err != nil {
		t.Fatalf("AddImport: %v", err)
	}
	srv := NewServer(mapper, nil, nil)

	conn, cleanup := dialServer(t, srv)
	defer cleanup()
	r := bufio.NewReader(conn)

	resp := sendRequest(t, conn, r, "SETUP", "rtsp://host/stream1/trackID=0", map[string]string{
		"CSeq":      "1",
		"Transport": "RTP/AVP;unicast;client_port=5000-5001",
	})
	if resp.Status != StatusUnauthorized {
		t.Fatalf("expected 401 Unauthorized, got %d", resp.Status)
	}
}

type recordingHook struct {
	events chan hooks.Event
}

func (h *recordingHook) Type() string { return "recording" }
func (h *recordingHook) ID() string   { return "test-recorder" }
func (h *recordingHook) Execute(_ context.Context, event hooks.Event) error {
	h.events <- event
	return nil
}

func TestServerPlayAndTeardownRaiseHookEvents(t *testing.T) {
	imp := importelem.New("test-import", "rtsp", "/", newMemStateKeeper())
	mapper := element.NewMapper()
	mapper.RegisterPrefix("", imp)
	if err := imp.AddImport("stream1", false); err != nil {
		t.Fatalf("AddImport: %v", err)
	}
	hookManager := hooks.NewHookManager(hooks.DefaultHookConfig(), nil)
	rec := &recordingHook{events: make(chan hooks.Event, 4)}
	if err := hookManager.RegisterHook(hooks.EventPlayStart, rec); err != nil {
		t.Fatalf("RegisterHook play_start: %v", err)
	}
	if err := hookManager.RegisterHook(hooks.EventPlayStop, rec); err != nil {
		t.Fatalf("RegisterHook play_stop: %v", err)
	}
	srv := NewServer(mapper, nil, hookManager)

	conn, cleanup := dialServer(t, srv)
	defer cleanup()
	r := bufio.NewReader(conn)

	setupResp := sendRequest(t, conn, r, "SETUP", "rtsp://host/stream1/trackID=0", map[string]string{
		"CSeq":      "1",
		"Transport": "RTP/AVP;unicast;client_port=5000-5001",
	})
	if setupResp.Status != StatusOK {
		t.Fatalf("expected 200 OK from SETUP, got %d", setupResp.Status)
	}
	sessionID := strings.SplitN(setupResp.Header.Get(HeaderSession), ";", 2)[0]

	playResp := sendRequest(t, conn, r, "PLAY", "rtsp://host/stream1", map[string]string{
		"CSeq":    "2",
		"Session": sessionID,
	})
	if playResp.Status != StatusOK {
		t.Fatalf("expected 200 OK from PLAY, got %d", playResp.Status)
	}

	select {
	case ev := <-rec.events:
		if ev.Type != hooks.EventPlayStart || ev.StreamKey != "stream1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for play_start hook event")
	}

	teardownResp := sendRequest(t, conn, r, "TEARDOWN", "rtsp://host/stream1", map[string]string{
		"CSeq":    "3",
		"Session": sessionID,
	})
	if teardownResp.Status != StatusOK {
		t.Fatalf("expected 200 OK from TEARDOWN, got %d", teardownResp.Status)
	}

	select {
	case ev := <-rec.events:
		if ev.Type != hooks.EventPlayStop || ev.StreamKey != "stream1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for play_stop hook event")
	}
}

func TestServerPlayWithoutSessionReturnsSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "stream1")
	conn, cleanup := dialServer(t, srv)
	defer cleanup()
	r := bufio.NewReader(conn)

	resp := sendRequest(t, conn, r, "PLAY", "rtsp://host/stream1", map[string]string{"CSeq": "1"})
	if resp.Status != StatusSessionNotFound {
		t.Fatalf("expected 454 Session Not Found, got %d", resp.Status)
	}
}

func TestParseURIPathExtractsTrackID(t *testing.T) {
	path, track, ok := parseURIPath("rtsp://host/stream1/trackID=1")
	if !ok || path != "stream1" || track != 1 {
		t.Fatalf("unexpected parse: path=%q track=%d ok=%v", path, track, ok)
	}
}

func TestParseURIPathWithoutTrackID(t *testing.T) {
	path, _, ok := parseURIPath("rtsp://host/stream1")
	if ok {
		t.Fatalf("expected no track id")
	}
	if path != "stream1" {
		t.Fatalf("unexpected path: %q", path)
	}
}

func TestParseTransportUDP(t *testing.T) {
	ct, err := parseTransport("RTP/AVP;unicast;client_port=5000-5001", true, "192.168.1.5")
	if err != nil {
		t.Fatalf("parseTransport: %v", err)
	}
	if ct.UDP == nil || ct.UDP.Port != 5000 || ct.UDP.IP.String() != "192.168.1.5" {
		t.Fatalf("unexpected transport: %+v", ct.UDP)
	}
}

func TestParseTransportInterleaved(t *testing.T) {
	ct, err := parseTransport("RTP/AVP/TCP;interleaved=2-3", false, "")
	if err != nil {
		t.Fatalf("parseTransport: %v", err)
	}
	if !ct.Interleaved || ct.InterleavedCh != 2 {
		t.Fatalf("unexpected transport: %+v", ct)
	}
}

func TestParseTransportUnsupportedReturnsError(t *testing.T) {
	if _, err := parseTransport("RTP/AVP/TCP", true, ""); err == nil {
		t.Fatalf("expected an error for a transport header with no addressing")
	}
}

func TestEncodeServerTransportUDP(t *testing.T) {
	st := ServerTransport{UDPPort: 6000}
	ct := ClientTransport{UDP: &net.UDPAddr{Port: 5000}}
	out := encodeServerTransport(st, ct)
	if !strings.Contains(out, "client_port=5000-5001") || !strings.Contains(out, "server_port=6000-6001") {
		t.Fatalf("unexpected transport encoding: %q", out)
	}
}

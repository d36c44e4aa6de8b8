package conn

// Package conn provides the TCP connection lifecycle integration glue that
// sits above the handshake layer and (later) below the chunk/control layers.
//
// T016: Integrate Handshake into Connection
//  - After net.Listener.Accept() perform handshake.ServerHandshake
//  - Log handshake completion with duration
//  - On handshake error: close connection and return error
//
// The package purposefully keeps scope tiny for this task: a single Accept
// helper plus a lightweight Connection wrapper that will be expanded by
// subsequent tasks (control burst, read/write loops, stream registry, etc.).

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	streamerrors "github.com/alxayo/go-streamcore/internal/errors"
	"github.com/alxayo/go-streamcore/internal/logger"
	"github.com/alxayo/go-streamcore/internal/rtmp/chunk"
	"github.com/alxayo/go-streamcore/internal/rtmp/handshake"
)

// defaultMinSendBytes is the minimum-to-send watermark used when a
// connection doesn't configure one explicitly via SetMinSendBytes.
const defaultMinSendBytes = 4096

// Connection represents an accepted RTMP connection that has successfully
// completed the RTMP simple handshake and is ready for chunk layer processing.
// It owns the write loop (started by Accept), the read loop (started by
// Start), the outbound queue and per-connection flow control.
// (Session entity implemented in session.go – placeholder removed)

type Connection struct {
	// Immutable / identity
	id                string
	netConn           net.Conn
	remoteAddr        net.Addr
	acceptedAt        time.Time
	handshakeDuration time.Duration
	log               *slog.Logger

	// Context & lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Protocol state (subset per T046 requirements)
	readChunkSize  uint32
	writeChunkSize uint32
	windowAckSize  uint32
	chunkStreams   map[uint32]*chunk.ChunkStreamState // accessed only by readLoop
	outboundQueue  chan *chunk.Message
	session        *Session // placeholder (T047)

	// Per-connection flow control: an outbound byte budget
	// that closes the connection when exceeded, and a pause/idle timeout
	// that does the same for a client that never resumes.
	maxOutbufSize int64 // 0 = unlimited
	queuedBytes   int64 // atomic: sum of payload bytes currently in outboundQueue
	paused        int32 // atomic bool
	pauseTimeout  time.Duration
	pauseTimer    *time.Timer
	pauseMu       sync.Mutex
	minSendBytes  int // write syscall amortization watermark; 0 uses defaultMinSendBytes

	// Internal helpers
	onMessage func(*chunk.Message) // test hook / dispatcher injection
	onClose   func()               // invoked once readLoop exits, for session cleanup
}

// ID returns the logical connection id.
func (c *Connection) ID() string { return c.id }

// NetConn exposes the underlying net.Conn (read-only usage expected by higher layers).
func (c *Connection) NetConn() net.Conn { return c.netConn }

// HandshakeDuration returns how long the RTMP handshake took.
func (c *Connection) HandshakeDuration() time.Duration { return c.handshakeDuration }

// Close closes the underlying connection.
func (c *Connection) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	// Closing the underlying net.Conn will unblock reader/writer.
	_ = c.netConn.Close()
	// Wait for goroutines (bounded: they exit on ctx cancellation).
	c.wg.Wait()
	return nil
}

// SetMessageHandler installs a callback invoked by the readLoop for every
// fully reassembled RTMP message. MUST be called before Start().
func (c *Connection) SetMessageHandler(fn func(*chunk.Message)) { c.onMessage = fn }

// SetCloseHandler installs a callback invoked once after readLoop exits
// (handshake-level EOF, protocol error, or explicit Close), so callers can
// clean up publish/play session state without polling connection liveness.
func (c *Connection) SetCloseHandler(fn func()) { c.onClose = fn }

// Start begins the readLoop. MUST be called after SetMessageHandler() to avoid race condition.
func (c *Connection) Start() {
	c.startReadLoop()
}

// SendMessage enqueues a message for outbound transmission (chunked by writeLoop).
// It enforces a small timeout to provide backpressure behavior, and rejects
// the send outright once SetMaxOutbufSize's budget is exceeded: a client
// that can't keep up gets disconnected instead of growing the queue without
// bound ("exceeding it closes the connection").
func (c *Connection) SendMessage(msg *chunk.Message) error {
	if c == nil || c.outboundQueue == nil {
		return errors.New("connection not initialized")
	}
	if msg == nil {
		return errors.New("nil message")
	}
	if c.maxOutbufSize > 0 {
		queued := atomic.AddInt64(&c.queuedBytes, int64(len(msg.Payload)))
		if queued > c.maxOutbufSize {
			atomic.AddInt64(&c.queuedBytes, -int64(len(msg.Payload)))
			_ = c.Close()
			return streamerrors.NewResourceError("conn.send_message.outbuf", fmt.Errorf("outbound buffer exceeded max_outbuf_size (%d > %d)", queued, c.maxOutbufSize))
		}
	}
	// Derive short timeout context.
	deadline := time.NewTimer(200 * time.Millisecond)
	defer deadline.Stop()
	select {
	case <-c.ctx.Done():
		return context.Canceled
	case c.outboundQueue <- msg:
		return nil
	case <-deadline.C:
		if c.maxOutbufSize > 0 {
			atomic.AddInt64(&c.queuedBytes, -int64(len(msg.Payload)))
		}
		return streamerrors.NewResourceError("conn.send_message.queue_full", fmt.Errorf("send queue full (len=%d)", len(c.outboundQueue)))
	}
}

// SetMaxOutbufSize configures the outbound byte budget; 0 disables the
// check.
func (c *Connection) SetMaxOutbufSize(n int64) { c.maxOutbufSize = n }

// SetPauseTimeout configures how long a paused connection may stay paused
// before it is closed as idle. 0 disables the timeout.
func (c *Connection) SetPauseTimeout(d time.Duration) { c.pauseTimeout = d }

// SetMinSendBytes configures the write-coalescing watermark: the
// writeLoop buffers outgoing bytes and only issues a write syscall once
// at least this many bytes are buffered, or the outbound queue has
// temporarily drained (so a lone message isn't held back waiting for
// more traffic that may never come).
func (c *Connection) SetMinSendBytes(n int) { c.minSendBytes = n }

// SupportsPause reports that RTMP play streams can be paused (element.Controller).
func (c *Connection) SupportsPause() bool { return true }

// Pause marks the connection paused or resumed and arms/disarms the pause
// timeout accordingly.
func (c *Connection) Pause(paused bool) {
	if paused {
		atomic.StoreInt32(&c.paused, 1)
	} else {
		atomic.StoreInt32(&c.paused, 0)
	}

	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.pauseTimer != nil {
		c.pauseTimer.Stop()
		c.pauseTimer = nil
	}
	if paused && c.pauseTimeout > 0 {
		c.pauseTimer = time.AfterFunc(c.pauseTimeout, func() {
			c.log.Info("closing connection idle past pause timeout")
			_ = c.Close()
		})
	}
}

// IsPaused reports the connection's current pause state.
func (c *Connection) IsPaused() bool { return atomic.LoadInt32(&c.paused) != 0 }

// SupportsSeek reports that live RTMP playback has no seek support.
func (c *Connection) SupportsSeek() bool { return false }

// Seek always fails: RTMP play streams in this server are live-only.
func (c *Connection) Seek(timestampMs int64) error {
	return errors.New("conn: seek not supported on a live RTMP connection")
}

// startReadLoop begins the dechunk → dispatch loop.
func (c *Connection) startReadLoop() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if c.onClose != nil {
				c.onClose()
			}
		}()
		r := chunk.NewReader(c.netConn, c.readChunkSize)
		c.log.Debug("readLoop started", "initial_chunk_size", c.readChunkSize)
		for {
			select {
			case <-c.ctx.Done():
				c.log.Debug("readLoop context cancelled")
				return
			default:
			}
			c.log.Debug("readLoop waiting for message")
			msg, err := r.ReadMessage()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
					return
				}
				// Distinguish expected termination (EOF) vs unexpected errors.
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					c.log.Debug("readLoop closed", "error", err)
				} else {
					c.log.Error("readLoop error", "error", err)
				}
				return
			}
			c.log.Debug("readLoop received message", "type_id", msg.TypeID, "msid", msg.MessageStreamID, "len", len(msg.Payload))
			if c.onMessage != nil {
				c.onMessage(msg)
			}
		}
	}()
}

// Helper to unify EOF detection without importing io here again in patch context.
func ioEOF(err error) error { return err }

// startWriteLoop consumes outboundQueue and writes chunked messages
// through a buffered writer, flushing only once minSendBytes worth of
// data has accumulated or the queue has momentarily drained — the
// watermark amortizes write syscalls under sustained throughput without
// adding latency when traffic is sparse.
func (c *Connection) startWriteLoop() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		watermark := c.minSendBytes
		if watermark <= 0 {
			watermark = defaultMinSendBytes
		}
		bw := bufio.NewWriterSize(c.netConn, watermark)
		w := chunk.NewWriter(bw, c.writeChunkSize)
		c.log.Debug("writeLoop started", "write_chunk_size", c.writeChunkSize, "min_send_bytes", watermark)
		for {
			select {
			case <-c.ctx.Done():
				c.log.Debug("writeLoop context cancelled")
				return
			case msg, ok := <-c.outboundQueue:
				if !ok {
					c.log.Debug("writeLoop queue closed")
					return
				}
				c.log.Debug("writeLoop sending message", "type_id", msg.TypeID, "csid", msg.CSID, "msid", msg.MessageStreamID, "len", len(msg.Payload))
				// Sync writer chunk size with potentially updated field.
				w.SetChunkSize(c.writeChunkSize)
				err := w.WriteMessage(msg)
				if c.maxOutbufSize > 0 {
					atomic.AddInt64(&c.queuedBytes, -int64(len(msg.Payload)))
				}
				if err != nil {
					c.log.Error("writeLoop write failed", "error", err)
					return
				}
				if bw.Buffered() >= watermark || len(c.outboundQueue) == 0 {
					if err := bw.Flush(); err != nil {
						c.log.Error("writeLoop flush failed", "error", err)
						return
					}
				}
				c.log.Debug("writeLoop message sent successfully", "type_id", msg.TypeID)
			}
		}
	}()
}

var connCounter uint64

// nextID generates a connection identifier: a monotonic per-process sequence
// number (cheap to read in logs) plus a uuid suffix so ids stay unique across
// restarts and processes, which matters once connection ids are correlated
// against external systems (hook payloads, RTSP session ids sharing the same
// namespace).
func nextID() string {
	return fmt.Sprintf("c%06d-%s", atomic.AddUint64(&connCounter, 1), uuid.NewString())
}

// Accept performs a blocking Accept() on the provided listener, runs the
// server-side RTMP handshake, and returns a *Connection on success. On
// handshake failure the underlying net.Conn is closed and the error returned.
//
// This function is intentionally synchronous; a typical server will wrap it
// inside an accept loop and launch a goroutine per successful connection.
func Accept(l net.Listener) (*Connection, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listener")
	}
	raw, err := l.Accept()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := handshake.ServerHandshake(raw); err != nil {
		// Handshake failure: ensure connection is closed and log context.
		_ = raw.Close()
		logger.Logger().Error("Handshake failed", "error", err, "remote", raw.RemoteAddr().String())
		return nil, err
	}
	dur := time.Since(start)

	id := nextID()
	lgr := logger.WithConn(logger.Logger(), id, raw.RemoteAddr().String())
	lgr.Info("Connection accepted", "handshake_ms", dur.Milliseconds())

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:                id,
		netConn:           raw,
		remoteAddr:        raw.RemoteAddr(),
		acceptedAt:        start,
		handshakeDuration: dur,
		log:               lgr,
		ctx:               ctx,
		cancel:            cancel,
		readChunkSize:     128,
		writeChunkSize:    128,
		windowAckSize:     windowAckSizeValue, // align with control burst constants
		chunkStreams:      make(map[uint32]*chunk.ChunkStreamState),
		outboundQueue:     make(chan *chunk.Message, 100),
	}

	// Start write loop first so control burst can be queued
	c.startWriteLoop()

	// Send control burst synchronously BEFORE starting read loop
	// This ensures the client receives the burst before we process any client messages
	if err := sendInitialControlBurst(c); err != nil {
		c.log.Error("Control burst failed", "error", err)
		_ = c.Close()
		return nil, fmt.Errorf("control burst: %w", err)
	}

	// NOTE: readLoop is NOT started here to avoid race condition with message handler setup.
	// Caller MUST call Start() after setting message handler via SetMessageHandler().

	return c, nil
}

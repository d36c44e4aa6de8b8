// Package failsafe implements a pull client for outbound RTMP imports: it
// holds a set of upstream peers, dispatches each request to the
// least-loaded live one, and retries a failed request against a different
// peer rather than giving up on the first connection error.
package failsafe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/alxayo/go-streamcore/internal/rtmp/client"
)

// ErrNoLivePeer is returned when every configured peer is currently backed
// off or has exhausted its retry budget for a request.
var ErrNoLivePeer = errors.New("failsafe: no live peer available")

// Config controls retry/backoff/requeue behavior.
type Config struct {
	MaxRetries     int           // per-request retry budget across distinct peers
	RequestTimeout time.Duration // total time budget for one Pull call, across retries
	Backoff        time.Duration // how long a peer that just failed is skipped
	RequeueEvery   time.Duration // how often the alarm re-checks backed-off peers
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.RequeueEvery <= 0 {
		c.RequeueEvery = time.Second
	}
}

type peer struct {
	addr string

	mu        sync.Mutex
	inFlight  int
	downUntil time.Time
	wasDown   bool
}

func (p *peer) live(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.After(p.downUntil) || now.Equal(p.downUntil)
}

func (p *peer) markDown(backoff time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downUntil = time.Now().Add(backoff)
	p.wasDown = true
}

func (p *peer) markUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downUntil = time.Time{}
	p.wasDown = false
}

// recoveredSinceBackoff reports and clears the wasDown flag once the
// backoff window has actually elapsed, so the requeue alarm can log a
// peer's return to service exactly once.
func (p *peer) recoveredSinceBackoff(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wasDown && now.After(p.downUntil) {
		p.wasDown = false
		return true
	}
	return false
}

func (p *peer) load() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

func (p *peer) acquire() {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
}

func (p *peer) release() {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
}

// Client dispatches pull requests across a fixed set of upstream RTMP
// peers, routing each one to the least-loaded live peer and retrying on
// failure against a different peer until MaxRetries is spent or
// RequestTimeout elapses.
type Client struct {
	cfg   Config
	log   *slog.Logger
	peers []*peer

	stopRequeue chan struct{}
	wg          sync.WaitGroup
}

// New builds a failsafe client pulling from the given "host:port" peers.
func New(peerAddrs []string, cfg Config, log *slog.Logger) *Client {
	cfg.applyDefaults()
	peers := make([]*peer, 0, len(peerAddrs))
	for _, a := range peerAddrs {
		peers = append(peers, &peer{addr: a})
	}
	fc := &Client{cfg: cfg, log: log.With("component", "failsafe_client"), peers: peers, stopRequeue: make(chan struct{})}
	fc.wg.Add(1)
	go fc.requeueAlarm()
	return fc
}

// requeueAlarm periodically notices a peer whose backoff window has
// elapsed since it was marked down, and logs its return to service. A
// recovered peer is already eligible for pickLeastLoaded on the next
// Pull; this just surfaces the transition instead of leaving it silent
// until traffic happens to probe that peer again.
func (fc *Client) requeueAlarm() {
	defer fc.wg.Done()
	t := time.NewTicker(fc.cfg.RequeueEvery)
	defer t.Stop()
	for {
		select {
		case <-fc.stopRequeue:
			return
		case <-t.C:
			now := time.Now()
			for _, p := range fc.peers {
				if p.recoveredSinceBackoff(now) {
					fc.log.Info("peer back in service", "peer", p.addr)
				}
			}
		}
	}
}

// Stop halts the requeue alarm goroutine.
func (fc *Client) Stop() {
	close(fc.stopRequeue)
	fc.wg.Wait()
}

// PullFunc is invoked with a live *client.Client already connected to the
// chosen peer; it should perform the play + message read loop and return
// any error encountered mid-stream.
type PullFunc func(ctx context.Context, c *client.Client) error

// Pull dispatches one pull request to the least-loaded live peer, retrying
// against a different peer on failure up to Config.MaxRetries times or
// until Config.RequestTimeout elapses, whichever comes first.
func (fc *Client) Pull(ctx context.Context, rtmpURL string, fn PullFunc) error {
	ctx, cancel := context.WithTimeout(ctx, fc.cfg.RequestTimeout)
	defer cancel()

	tried := make(map[*peer]bool)
	var lastErr error
	for attempt := 0; attempt <= fc.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("failsafe: request timeout after %d attempt(s): %w", attempt, lastErr)
			}
			return ctx.Err()
		default:
		}

		p := fc.pickLeastLoaded(tried)
		if p == nil {
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrNoLivePeer, lastErr)
			}
			return ErrNoLivePeer
		}
		tried[p] = true

		err := fc.attempt(ctx, p, rtmpURL, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		fc.log.Warn("pull attempt failed", "peer", p.addr, "attempt", attempt, "error", err)
		p.markDown(fc.cfg.Backoff)
	}
	return fmt.Errorf("failsafe: exhausted %d retries: %w", fc.cfg.MaxRetries, lastErr)
}

func (fc *Client) attempt(ctx context.Context, p *peer, rtmpURL string, fn PullFunc) error {
	p.acquire()
	defer p.release()

	u, err := url.Parse(rtmpURL)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	u.Host = p.addr // dial the chosen peer, keeping app/stream path from rtmpURL
	c, err := client.New(u.String())
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- c.Connect() }()
	select {
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("connect %s: %w", p.addr, err)
		}
	}
	defer c.Close()

	p.markUp()
	return fn(ctx, c)
}

// pickLeastLoaded returns the live peer (not in excluded, not backed off)
// with the fewest in-flight requests, or nil if none qualify.
func (fc *Client) pickLeastLoaded(excluded map[*peer]bool) *peer {
	now := time.Now()
	candidates := make([]*peer, 0, len(fc.peers))
	for _, p := range fc.peers {
		if excluded[p] || !p.live(now) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].load() < candidates[j].load() })
	return candidates[0]
}

package element

import (
	"sync"
	"time"
)

// AuthorizerRequest carries whatever a concrete Authorizer needs to decide
// access: the path being requested plus caller-supplied credentials. Real
// authorizers (e.g. an HTTP-backed one) type-assert or extend this via the
// Extra map rather than this package growing a field per scheme.
type AuthorizerRequest struct {
	MediaPath string
	UserAgent string
	RemoteIP  string
	Extra     map[string]string
}

// AuthorizerReply is the decision an Authorizer hands back.
type AuthorizerReply struct {
	Allowed  bool
	Reason   string
	ReauthIn time.Duration // <= 0 disables periodic re-auth
}

// Authorizer gates access to media by name. Authorize is
// asynchronous: completion runs once reply is populated.
type Authorizer interface {
	Type() string
	Name() string
	Initialize() error
	Authorize(req AuthorizerRequest, reply *AuthorizerReply, completion func())
}

// AllowAllAuthorizer is the trivial Authorizer used when a mapper has no
// auth configured; it never denies a request.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) Type() string     { return "allow-all" }
func (AllowAllAuthorizer) Name() string     { return "allow-all" }
func (AllowAllAuthorizer) Initialize() error { return nil }
func (AllowAllAuthorizer) Authorize(_ AuthorizerRequest, reply *AuthorizerReply, completion func()) {
	reply.Allowed = true
	completion()
}

// AuthorizeBlocking runs one Authorize call to completion and returns its
// reply, for callers (RTMP/RTSP request handlers) that need a synchronous
// allow/deny decision rather than AsyncAuthorizer's re-auth loop.
func AuthorizeBlocking(auth Authorizer, req AuthorizerRequest) AuthorizerReply {
	reply := AuthorizerReply{}
	done := make(chan struct{})
	auth.Authorize(req, &reply, func() { close(done) })
	<-done
	return reply
}

// AsyncAuthorizer drives first-auth and recurring re-auth against an
// Authorizer: it runs Authorize once, and if the reply asks for periodic
// re-auth (ReauthIn > 0), rearms a timer and re-authorizes forever until
// Stop is called or a re-auth comes back denied, at which point onFailed
// fires once.
type AsyncAuthorizer struct {
	mu        sync.Mutex
	auth      Authorizer
	req       AuthorizerRequest
	onFailed  func(reason string)
	stopped   bool
	reauthTmr *time.Timer
}

// NewAsyncAuthorizer returns an AsyncAuthorizer bound to auth and req.
// onFailed is called at most once, the first time a re-auth is denied.
func NewAsyncAuthorizer(auth Authorizer, req AuthorizerRequest, onFailed func(reason string)) *AsyncAuthorizer {
	return &AsyncAuthorizer{auth: auth, req: req, onFailed: onFailed}
}

// Start runs the first authorization and invokes onDone with its reply.
// If the reply is denied, onDone is called and no re-auth loop starts.
func (a *AsyncAuthorizer) Start(onDone func(AuthorizerReply)) {
	reply := &AuthorizerReply{}
	a.auth.Authorize(a.req, reply, func() {
		onDone(*reply)
		if reply.Allowed && reply.ReauthIn > 0 {
			a.armReauth(*reply)
		}
	})
}

func (a *AsyncAuthorizer) armReauth(last AuthorizerReply) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.reauthTmr = time.AfterFunc(last.ReauthIn, a.reauthorize)
}

func (a *AsyncAuthorizer) reauthorize() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	reply := &AuthorizerReply{}
	a.auth.Authorize(a.req, reply, func() {
		a.mu.Lock()
		stopped := a.stopped
		a.mu.Unlock()
		if stopped {
			return
		}
		if !reply.Allowed {
			if a.onFailed != nil {
				a.onFailed(reply.Reason)
			}
			return
		}
		if reply.ReauthIn > 0 {
			a.armReauth(*reply)
		}
	})
}

// Stop cancels any pending re-auth timer; safe to call multiple times.
func (a *AsyncAuthorizer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.reauthTmr != nil {
		a.reauthTmr.Stop()
		a.reauthTmr = nil
	}
}

package broker

import (
	"github.com/biomine3000/routingbroker/internal/debug"
	"github.com/biomine3000/routingbroker/session"
)

// registry is the bounded token->session mapping: token 0 is reserved,
// token 1 designates the listener, tokens >=2 are client sessions. It is
// touched only from the single goroutine that owns the reactor loop (epoll
// or fallback).
type registry struct {
	slots []*session.Session // index by token
	free  []session.Token    // stack of unused client tokens, >= 2
	count int
}

func newRegistry(maxSessions int) *registry {
	r := &registry{slots: make([]*session.Session, maxSessions)}
	for t := maxSessions - 1; t >= 2; t-- {
		r.free = append(r.free, session.Token(t))
	}
	return r
}

// alloc reserves the next free token for a just-accepted connection.
// Returns ok=false if the registry is full, in which case the caller
// closes the new peer.
func (r *registry) alloc() (session.Token, bool) {
	n := len(r.free)
	if n == 0 {
		return session.TokenNone, false
	}
	tok := r.free[n-1]
	r.free = r.free[:n-1]
	return tok, true
}

func (r *registry) put(tok session.Token, s *session.Session) {
	r.slots[tok] = s
	r.count++
}

func (r *registry) get(tok session.Token) *session.Session {
	if int(tok) < 0 || int(tok) >= len(r.slots) {
		return nil
	}
	return r.slots[tok]
}

// release removes a session from the registry and returns its token to the
// free pool, called on teardown.
func (r *registry) release(tok session.Token) {
	if r.slots[tok] == nil {
		return
	}
	debug.Assert(tok >= 2, "registry: released a reserved token")
	r.slots[tok] = nil
	r.free = append(r.free, tok)
	r.count--
	debug.Assert(r.count >= 0, "registry: session count went negative")
}

// forEachSubscribed invokes fn for every live session currently in the
// Subscribed state, used by dispatch's fan-out.
func (r *registry) forEachSubscribed(fn func(*session.Session)) {
	for _, s := range r.slots {
		if s != nil && s.State() == session.Subscribed {
			fn(s)
		}
	}
}

// Count returns the number of live sessions (any state).
func (r *registry) Count() int { return r.count }

// Package session is the per-connection state machine: read buffer,
// pending send queue, current subscription, last-activity timestamp, and
// readiness interest set.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"errors"
	ratomic "sync/atomic"

	"github.com/biomine3000/routingbroker/internal/cos"
	"github.com/biomine3000/routingbroker/internal/debug"
	"github.com/biomine3000/routingbroker/internal/mono"
	"github.com/biomine3000/routingbroker/internal/nlog"
	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/subscribe"
	"github.com/biomine3000/routingbroker/wire"
)

// State is the per-connection lifecycle: Unsubscribed -> Subscribed ->
// Disconnected. No other transitions exist.
type State int32

const (
	Unsubscribed State = iota
	Subscribed
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribed:
		return "subscribed"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Interest is a bitset of readiness flags a session wants the reactor to
// watch for. Initial interest on creation is hangup-only; Readable is
// added once registration completes after accept.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	Hangup
)

// Token identifies a session within the broker's registry: small integers
// assigned on accept, 0 reserved, 1 the listener, >=2 client sessions.
type Token int32

const (
	TokenNone     Token = 0
	TokenListener Token = 1
)

// Session is the broker's per-connection record.
type Session struct {
	Fd  int // raw file descriptor under epoll; the fallback backend stores the token here
	SID string
	Sub subscribe.Subscription

	decoder *wire.Decoder

	queue     []*object.Object // FIFO not-yet-serialized outbound objects
	pending   []byte           // partially written bytes of the queue head
	pendingAt int

	token     Token
	state     ratomic.Int32
	interest  ratomic.Int32
	lastActiv ratomic.Int64
	maxQueue  int
}

// New creates a session for a just-accepted connection in the Unsubscribed
// state with hangup-only interest.
func New(fd int, token Token, maxQueueDepth int) *Session {
	s := &Session{
		Fd:       fd,
		SID:      cos.GenCorrelationID(),
		token:    token,
		decoder:  wire.NewDecoder(),
		maxQueue: maxQueueDepth,
	}
	s.state.Store(int32(Unsubscribed))
	s.interest.Store(int32(Hangup))
	s.lastActiv.Store(mono.NanoTime())
	return s
}

func (s *Session) Token() Token { return s.token }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) SetState(st State) { s.state.Store(int32(st)) }

func (s *Session) Interest() Interest { return Interest(s.interest.Load()) }

func (s *Session) SetInterest(i Interest) { s.interest.Store(int32(i)) }

func (s *Session) AddInterest(i Interest) {
	for {
		cur := s.interest.Load()
		next := cur | int32(i)
		if s.interest.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (s *Session) ClearInterest(i Interest) {
	for {
		cur := s.interest.Load()
		next := cur &^ int32(i)
		if s.interest.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Touch updates LastActivity to now; called on every routable frame.
func (s *Session) Touch() { s.lastActiv.Store(mono.NanoTime()) }

func (s *Session) LastActivity() int64 { return s.lastActiv.Load() }

// QueueDepth reports the number of outbound objects not yet fully written,
// including a partially-written head, used by the broker's backpressure
// policy.
func (s *Session) QueueDepth() int {
	// the head stays in queue until Advance has written all of it, so a
	// partially-written head is already counted here
	return len(s.queue)
}

// ErrQueueOverflow is returned by Enqueue when the send queue has reached
// its configured maximum depth; the caller must disconnect the session.
var ErrQueueOverflow = errors.New("session: send queue overflow")

// Enqueue pushes obj onto the send queue and marks the session writable.
// Returns ErrQueueOverflow if the configured max depth (0 means unbounded)
// would be exceeded.
func (s *Session) Enqueue(obj *object.Object) error {
	if s.maxQueue > 0 && s.QueueDepth() >= s.maxQueue {
		return ErrQueueOverflow
	}
	s.queue = append(s.queue, obj)
	s.AddInterest(Writable)
	debug.Assert(s.maxQueue <= 0 || s.QueueDepth() <= s.maxQueue, "session: queue depth exceeds configured max")
	return nil
}

// OnReadable feeds newly read bytes through the frame codec and invokes fn
// for every complete object decoded. A non-nil error is fatal for this
// connection.
func (s *Session) OnReadable(b []byte, fn func(*object.Object)) error {
	s.decoder.Feed(b)
	return s.decoder.Drain(fn)
}

// PrepareWrite returns the bytes that should be attempted for the next
// non-blocking write call: either the remainder of a partially-sent frame,
// or (after serializing) the queue head. Returns ok=false if the queue is
// empty, in which case the caller must clear Writable interest.
func (s *Session) PrepareWrite() (buf []byte, ok bool, err error) {
	if s.pending != nil {
		return s.pending[s.pendingAt:], true, nil
	}
	if len(s.queue) == 0 {
		return nil, false, nil
	}
	head := s.queue[0]
	enc, err := wire.Encode(head)
	if err != nil {
		return nil, false, err
	}
	s.pending = enc
	s.pendingAt = 0
	return s.pending, true, nil
}

// Advance records that n bytes of the in-flight write succeeded. If the
// whole pending frame has now been sent, it is popped off the queue;
// Writable interest is cleared once the queue (and any pending frame) is
// fully empty.
func (s *Session) Advance(n int) {
	if s.pending == nil {
		return
	}
	s.pendingAt += n
	debug.Assert(s.pendingAt <= len(s.pending), "session: advanced past end of pending frame")
	if s.pendingAt >= len(s.pending) {
		s.pending = nil
		s.pendingAt = 0
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.ClearInterest(Writable)
		}
	}
}

// LogClose emits the structured teardown log entry keyed by token.
func (s *Session) LogClose(reason string) {
	nlog.Warningf("session %d (%s) closing: %s", s.token, s.SID, reason)
}

//go:build !linux

package broker

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/biomine3000/routingbroker/internal/cos"
	"github.com/biomine3000/routingbroker/internal/hk"
	"github.com/biomine3000/routingbroker/internal/mono"
	"github.com/biomine3000/routingbroker/internal/nlog"
	"github.com/biomine3000/routingbroker/internal/stats"
	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/session"
)

// fallbackReactor is the non-Linux event-driven connection core. It keeps
// all session state owned by a single goroutine not via OS-level readiness
// polling (there is no portable epoll equivalent in the
// standard library) but via message passing: one goroutine per connection
// blocks on Read and forwards bytes to a single dispatch goroutine that is
// the sole owner of the registry and all Session state, mirroring the
// epoll backend's single-owner discipline even though the OS — not this
// reactor — is what schedules each connection's readiness here.
type fallbackReactor struct {
	b       *Broker
	ln      net.Listener
	connsFd map[session.Token]net.Conn
	events  chan fallbackEvent
	limiter *rate.Limiter
	idleCh  chan struct{}
}

type fallbackEventKind int

const (
	evAccepted fallbackEventKind = iota
	evData
	evClosed
)

type fallbackEvent struct {
	conn net.Conn
	data []byte
	err  error
	tok  session.Token
	kind fallbackEventKind
}

// New constructs a Broker backed by the portable fallback reactor.
func New(cfg Config, st *stats.Tracker) (*Broker, error) {
	b := newBroker(cfg, st)
	r := &fallbackReactor{
		b:       b,
		connsFd: make(map[session.Token]net.Conn),
		events:  make(chan fallbackEvent, 256),
		limiter: rate.NewLimiter(rate.Limit(cfg.AcceptRatePS), cfg.AcceptBurst),
		idleCh:  make(chan struct{}, 1),
	}
	b.reactor = r
	return b, nil
}

func (r *fallbackReactor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.b.cfg.ListenAddr)
	if err != nil {
		return err
	}
	r.ln = ln
	defer ln.Close()

	nlog.Infof("broker: listening on %s (portable fallback)", r.b.cfg.ListenAddr)

	go r.acceptLoop(ctx)

	if r.b.cfg.IdleTeardown > 0 {
		hk.Reg("idle-teardown", r.requestIdleSweep, r.b.cfg.IdleTeardown)
		defer hk.Unreg("idle-teardown")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			r.handle(ev)
		case <-r.idleCh:
			// the housekeeper only requests a sweep; the scan and eviction
			// run here so registry and session state keep a single owner
			r.evictIdle()
		}
	}
}

func (r *fallbackReactor) acceptLoop(ctx context.Context) {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			nlog.Warningf("broker: accept: %v", err)
			continue
		}
		r.events <- fallbackEvent{kind: evAccepted, conn: conn}
	}
}

func (r *fallbackReactor) handle(ev fallbackEvent) {
	switch ev.kind {
	case evAccepted:
		r.onAccepted(ev.conn)
	case evData:
		r.onData(ev.tok, ev.data)
	case evClosed:
		r.onClosed(ev.tok, ev.err)
	}
}

func (r *fallbackReactor) onAccepted(conn net.Conn) {
	tok, ok := r.b.registry.alloc()
	if !ok {
		nlog.Warningf("broker: max sessions reached (%d live), rejecting new connection", r.b.registry.Count())
		conn.Close()
		return
	}
	s := session.New(int(tok), tok, r.b.cfg.MaxQueueDepth)
	r.b.registry.put(tok, s)
	r.connsFd[tok] = conn
	r.b.stats.IncGauge(stats.SessionsActive)
	r.b.stats.Inc(stats.SessionsAccepted)

	// hangup-only until registration; readable from here on
	s.AddInterest(session.Readable)
	go r.readLoop(tok, conn)
}

func (r *fallbackReactor) readLoop(tok session.Token, conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := append([]byte(nil), buf[:n]...)
			r.events <- fallbackEvent{kind: evData, tok: tok, data: cp}
		}
		if err != nil {
			r.events <- fallbackEvent{kind: evClosed, tok: tok, err: err}
			return
		}
	}
}

func (r *fallbackReactor) onData(tok session.Token, data []byte) {
	s := r.b.registry.get(tok)
	if s == nil {
		return
	}
	var routeErr error
	decodeErr := s.OnReadable(data, func(o *object.Object) {
		if routeErr != nil {
			return
		}
		if err := r.b.handleObject(s, o); err != nil {
			routeErr = err
		}
	})
	if decodeErr != nil {
		r.b.stats.Inc(stats.DecodeFail)
		r.b.disconnect(s, decodeErr.Error())
		return
	}
	if routeErr != nil {
		r.b.disconnect(s, routeErr.Error())
		return
	}
	r.flush(s)
}

func (r *fallbackReactor) onClosed(tok session.Token, err error) {
	s := r.b.registry.get(tok)
	if s == nil {
		return
	}
	reason := "peer hangup"
	if err != nil && !cos.IsEOF(err) && !errors.Is(err, errHangup) {
		reason = err.Error()
	}
	r.b.disconnect(s, reason)
}

// flush writes every queued frame synchronously; the fallback reactor has
// no readiness signal to wait on, so "non-blocking" here means "doesn't
// block the reactor longer than a direct blocking Write on an idle
// socket" rather than true O_NONBLOCK semantics — acceptable for a
// portable fallback backend.
func (r *fallbackReactor) flush(s *session.Session) {
	conn := r.connsFd[s.Token()]
	if conn == nil {
		return
	}
	for {
		buf, ok, err := s.PrepareWrite()
		if err != nil {
			r.b.disconnect(s, "encode failure")
			return
		}
		if !ok {
			return
		}
		n, werr := conn.Write(buf)
		if n > 0 {
			s.Advance(n)
		}
		if werr != nil {
			reason := "write error"
			if cos.IsRetriableConnErr(werr) {
				reason = "peer reset"
			}
			r.b.disconnect(s, reason)
			return
		}
	}
}

func (r *fallbackReactor) rearmWritable(s *session.Session) {
	r.flush(s)
}

func (r *fallbackReactor) closeSession(s *session.Session) {
	if conn := r.connsFd[s.Token()]; conn != nil {
		conn.Close()
		delete(r.connsFd, s.Token())
	}
}

// requestIdleSweep runs on the housekeeper's goroutine. It never touches
// registry or session state: it only posts a sweep request for the
// dispatch loop to act on.
func (r *fallbackReactor) requestIdleSweep() time.Duration {
	select {
	case r.idleCh <- struct{}{}:
	default:
	}
	return r.b.cfg.IdleTeardown
}

// evictIdle runs on the dispatch goroutine.
func (r *fallbackReactor) evictIdle() {
	cutoff := r.b.cfg.IdleTeardown
	var toDrop []*session.Session
	for _, s := range r.b.registry.slots {
		if s == nil || s.State() != session.Subscribed {
			continue
		}
		age := time.Duration(mono.NanoTime() - s.LastActivity())
		if age > cutoff {
			toDrop = append(toDrop, s)
		}
	}
	for _, s := range toDrop {
		r.b.disconnect(s, "idle timeout")
	}
	if n := len(toDrop); n > 0 {
		nlog.Infof("broker: evicted %d idle session%s", n, cos.Plural(n))
	}
}

var errHangup = errors.New("broker: peer closed connection")

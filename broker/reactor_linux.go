//go:build linux

package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/biomine3000/routingbroker/internal/cos"
	"github.com/biomine3000/routingbroker/internal/hk"
	"github.com/biomine3000/routingbroker/internal/mono"
	"github.com/biomine3000/routingbroker/internal/nlog"
	"github.com/biomine3000/routingbroker/internal/stats"
	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/session"
)

// errHangup signals a clean peer close (read returned 0, no error), which
// the reactor treats the same as an EPOLLHUP.
var errHangup = errors.New("broker: peer closed connection")

// epollReactor is the Linux event-driven connection core: a
// single-threaded, readiness-based I/O loop using edge-triggered, one-shot
// epoll registration. It owns the raw listening socket directly (not via
// net.Listen) so that readiness is observed exactly once per event and
// re-armed explicitly, rather than relying on the Go runtime's own
// internal netpoller.
type epollReactor struct {
	b        *Broker
	epfd     int
	listenFd int
	readBuf  []byte
	limiter  *rate.Limiter
	idleCh   chan struct{}
}

// New constructs a Broker backed by the Linux epoll reactor.
func New(cfg Config, st *stats.Tracker) (*Broker, error) {
	b := newBroker(cfg, st)
	r := &epollReactor{
		b:       b,
		readBuf: make([]byte, 64*1024),
		limiter: rate.NewLimiter(rate.Limit(cfg.AcceptRatePS), cfg.AcceptBurst),
		idleCh:  make(chan struct{}, 1),
	}
	b.reactor = r
	return b, nil
}

// Run starts the listener, registers it with epoll, and drives the event
// loop until ctx is cancelled.
func (r *epollReactor) Run(ctx context.Context) error {
	addr, err := resolveTCP(r.b.cfg.ListenAddr)
	if err != nil {
		return err
	}
	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("broker: socket: %w", err)
	}
	r.listenFd = lfd
	if err := unix.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("broker: setsockopt: %w", err)
	}
	if err := unix.Bind(lfd, addr); err != nil {
		return fmt.Errorf("broker: bind: %w", err)
	}
	if err := unix.Listen(lfd, 128); err != nil {
		return fmt.Errorf("broker: listen: %w", err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("broker: epoll_create1: %w", err)
	}
	r.epfd = epfd

	if err := r.epollAdd(lfd, unix.EPOLLIN|unix.EPOLLET); err != nil {
		return err
	}

	if r.b.cfg.IdleTeardown > 0 {
		hk.Reg("idle-teardown", r.requestIdleSweep, r.b.cfg.IdleTeardown)
		defer hk.Unreg("idle-teardown")
	}

	nlog.Infof("broker: listening on %s (epoll)", r.b.cfg.ListenAddr)

	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-ctx.Done():
			unix.Close(r.epfd)
			unix.Close(r.listenFd)
			return nil
		default:
		}
		n, err := unix.EpollWait(r.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("broker: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == r.listenFd {
				r.acceptLoop()
				continue
			}
			r.handleEvent(ev)
		}
		// the housekeeper only requests a sweep; the scan and eviction run
		// here so registry and session state keep a single owner (the wait
		// above times out, so a pending request is picked up promptly even
		// on an idle broker)
		select {
		case <-r.idleCh:
			r.evictIdle()
		default:
		}
	}
}

func (r *epollReactor) epollAdd(fd int, events uint32) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (r *epollReactor) epollMod(fd int, events uint32) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

// acceptLoop drains the listener's accept backlog; transient failures are
// logged and the listener stays armed.
func (r *epollReactor) acceptLoop() {
	for {
		if !r.limiter.Allow() {
			return
		}
		fd, _, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			nlog.Warningf("broker: accept: %v", err)
			return
		}
		tok, ok := r.b.registry.alloc()
		if !ok {
			nlog.Warningf("broker: max sessions reached (%d live), rejecting new connection", r.b.registry.Count())
			unix.Close(fd)
			continue
		}
		s := session.New(fd, tok, r.b.cfg.MaxQueueDepth)
		r.b.registry.put(tok, s)
		r.b.stats.IncGauge(stats.SessionsActive)
		r.b.stats.Inc(stats.SessionsAccepted)
		if err := r.epollAdd(fd, unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLET|unix.EPOLLONESHOT); err != nil {
			nlog.Warningf("broker: epoll_ctl add fd=%d: %v", fd, err)
			r.b.disconnect(s, "registration failure")
			continue
		}
		// hangup-only until registration; readable from here on
		s.AddInterest(session.Readable)
	}
}

func (r *epollReactor) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	tok := r.fdToToken(fd)
	s := r.b.registry.get(tok)
	if s == nil {
		return
	}
	if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		r.b.disconnect(s, "peer hangup or error")
		return
	}
	if ev.Events&unix.EPOLLIN != 0 {
		if err := r.readOnce(s); err != nil {
			r.b.disconnect(s, err.Error())
			return
		}
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		r.writeOnce(s)
	}
	// Edge-triggered, one-shot: always re-arm after handling, watching for
	// writable only when the session still has outbound data queued.
	r.rearm(s)
}

// fdToToken maps the raw fd back to a session token. Sessions are few
// (bounded by MaxSessions), so a linear scan is cheap and avoids a second
// map kept in sync with the registry.
func (r *epollReactor) fdToToken(fd int) session.Token {
	for i, s := range r.b.registry.slots {
		if s != nil && s.Fd == fd {
			return session.Token(i)
		}
	}
	return session.TokenNone
}

func (r *epollReactor) readOnce(s *session.Session) error {
	for {
		n, err := unix.Read(s.Fd, r.readBuf)
		if n == 0 && err == nil {
			return errHangup
		}
		if n > 0 {
			var routeErr error
			decodeErr := s.OnReadable(r.readBuf[:n], func(o *object.Object) {
				if routeErr != nil {
					return // stop routing further frames once one has failed
				}
				if err := r.b.handleObject(s, o); err != nil {
					routeErr = err
				}
			})
			if decodeErr != nil {
				r.b.stats.Inc(stats.DecodeFail)
				return decodeErr
			}
			if routeErr != nil {
				return routeErr
			}
		}
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
		if n < len(r.readBuf) {
			return nil
		}
	}
}

func (r *epollReactor) writeOnce(s *session.Session) {
	buf, ok, err := s.PrepareWrite()
	if err != nil {
		r.b.disconnect(s, "encode failure")
		return
	}
	if !ok {
		return
	}
	n, werr := unix.Write(s.Fd, buf)
	if n > 0 {
		s.Advance(n)
	}
	if werr != nil && werr != unix.EAGAIN {
		r.b.disconnect(s, "write error")
	}
}

func (r *epollReactor) rearm(s *session.Session) {
	events := uint32(unix.EPOLLHUP | unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT)
	if s.Interest()&session.Readable != 0 {
		events |= unix.EPOLLIN
	}
	if s.Interest()&session.Writable != 0 {
		events |= unix.EPOLLOUT
	}
	if err := r.epollMod(s.Fd, events); err != nil {
		r.b.disconnect(s, "re-registration failure")
	}
}

func (r *epollReactor) rearmWritable(s *session.Session) {
	r.rearm(s)
}

func (r *epollReactor) closeSession(s *session.Session) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, s.Fd, nil)
	unix.Close(s.Fd)
}

// requestIdleSweep runs on the housekeeper's goroutine. It never touches
// registry or session state: it only posts a sweep request for the event
// loop to act on.
func (r *epollReactor) requestIdleSweep() time.Duration {
	select {
	case r.idleCh <- struct{}{}:
	default:
	}
	return r.b.cfg.IdleTeardown
}

// evictIdle runs on the event-loop goroutine.
func (r *epollReactor) evictIdle() {
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

func resolveTCP(addr string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To4())
	return sa, nil
}

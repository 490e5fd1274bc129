package broker

import (
	"context"
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/biomine3000/routingbroker/internal/nlog"
	"github.com/biomine3000/routingbroker/internal/stats"
	"github.com/biomine3000/routingbroker/session"
)

// reactorOps is the seam between the platform-independent dispatch logic
// above and the platform-specific event-loop backend (epoll on Linux, a
// goroutine-based fallback elsewhere); both backends preserve the same
// per-session interest-flag discipline.
type reactorOps interface {
	Run(ctx context.Context) error
	rearmWritable(s *session.Session)
	closeSession(s *session.Session)
}

// Run starts the broker's event loop (accept + dispatch) and blocks until
// ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error { return b.reactor.Run(ctx) }

// Broker is the routing core: accept loop, registry, dispatch, teardown.
type Broker struct {
	cfg      Config
	registry *registry
	filter   *eventFilter
	stats    *stats.Tracker
	mirror   *buntdb.DB
	reactor  reactorOps
}

func newBroker(cfg Config, st *stats.Tracker) *Broker {
	if st == nil {
		st = stats.New()
	}
	db, err := buntdb.Open(":memory:")
	if err != nil {
		// :memory: can only fail on an already-open handle reused
		// incorrectly; never in normal operation.
		nlog.Errorf("broker: in-memory session mirror unavailable: %v", err)
	}
	return &Broker{
		cfg:      cfg,
		registry: newRegistry(cfg.MaxSessions),
		filter:   newEventFilter(1024),
		stats:    st,
		mirror:   db,
	}
}

// Stats exposes the broker's metrics tracker. No HTTP exposition is wired;
// a caller embedding this package can gather from it directly.
func (b *Broker) Stats() *stats.Tracker { return b.stats }

func (b *Broker) markWritable(s *session.Session) {
	if b.reactor != nil {
		b.reactor.rearmWritable(s)
	}
}

// disconnect tears a session down: it is removed from the registry (and
// the event-filter, and the mirror) and its socket closed. The listener is
// never torn down by a peer error.
func (b *Broker) disconnect(s *session.Session, reason string) {
	if s.State() == session.Disconnected {
		return
	}
	s.SetState(session.Disconnected)
	s.LogClose(reason)
	if s.Sub != nil {
		b.filter.Remove(s.Sub)
	}
	b.registry.release(s.Token())
	if b.mirror != nil {
		_ = b.mirror.Update(func(tx *buntdb.Tx) error {
			_, err := tx.Delete(mirrorKey(s.Token()))
			if err != nil && err != buntdb.ErrNotFound {
				return err
			}
			return nil
		})
	}
	b.stats.DecGauge(stats.SessionsActive)
	if b.reactor != nil {
		b.reactor.closeSession(s)
	}
}

func mirrorKey(tok session.Token) string {
	return "session:" + strconv.Itoa(int(tok))
}

// mirrorSnapshot writes a queryable record of a session's current state
// into the in-memory buntdb instance: operators get a pattern-matchable
// snapshot of live sessions without any on-disk persistence (":memory:"
// buntdb never touches disk).
func (b *Broker) mirrorSnapshot(s *session.Session) {
	if b.mirror == nil {
		return
	}
	val := s.State().String() + "|" + strconv.Itoa(s.QueueDepth())
	_ = b.mirror.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(mirrorKey(s.Token()), val, nil)
		return err
	})
}

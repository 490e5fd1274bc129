package broker

import (
	"context"
	"testing"

	"github.com/biomine3000/routingbroker/internal/stats"
	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/session"
)

// fakeReactor lets tests exercise dispatch logic without real sockets;
// it just records re-arm/close calls.
type fakeReactor struct {
	rearmed []session.Token
	closed  []session.Token
}

func (f *fakeReactor) rearmWritable(s *session.Session) { f.rearmed = append(f.rearmed, s.Token()) }
func (f *fakeReactor) closeSession(s *session.Session)  { f.closed = append(f.closed, s.Token()) }

func newTestBroker(cfg Config) (*Broker, *fakeReactor) {
	b := newBroker(cfg, stats.New())
	f := &fakeReactor{}
	b.reactor = testReactor{f}
	return b, f
}

// testReactor adapts fakeReactor (no Run method needed in unit tests) to
// satisfy reactorOps's Run requirement without spinning up real I/O.
type testReactor struct{ *fakeReactor }

func (testReactor) Run(context.Context) error { return nil }

func acceptTestSession(b *Broker) *session.Session {
	tok, ok := b.registry.alloc()
	if !ok {
		panic("registry full in test")
	}
	s := session.New(int(tok), tok, b.cfg.MaxQueueDepth)
	b.registry.put(tok, s)
	return s
}

func subscribeHandshake(t *testing.T, b *Broker, s *session.Session, rules ...any) {
	t.Helper()
	req := object.New()
	req.Event = "routing/subscribe"
	req.Metadata["subscriptions"] = rules
	if err := b.handleObject(s, req); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if s.State() != session.Subscribed {
		t.Fatalf("state = %v, want Subscribed", s.State())
	}
	// drain the subscribe/reply enqueued on this session so later queue
	// depth assertions aren't thrown off by it.
	for s.QueueDepth() > 0 {
		buf, ok, err := s.PrepareWrite()
		if err != nil || !ok {
			break
		}
		s.Advance(len(buf))
	}
}

func TestHandshakeRejectsWrongEvent(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	s := acceptTestSession(b)
	req := object.New()
	req.Event = "not-a-subscribe"
	if err := b.handleObject(s, req); err == nil {
		t.Fatalf("expected error for non-subscribe handshake")
	}
}

func TestHandshakeRejectsMissingKey(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	s := acceptTestSession(b)
	req := object.New()
	req.Event = "routing/subscribe"
	if err := b.handleObject(s, req); err == nil {
		t.Fatalf("expected error for missing subscriptions key")
	}
}

func TestEndToEndPingRouting(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	a := acceptTestSession(b)
	peer := acceptTestSession(b)

	subscribeHandshake(t, b, a, "*")
	subscribeHandshake(t, b, peer, "*")

	ping := object.New()
	ping.Event = "ping"
	if err := b.handleObject(a, ping); err != nil {
		t.Fatalf("route: %v", err)
	}
	if peer.QueueDepth() != 1 {
		t.Fatalf("peer queue depth = %d, want 1", peer.QueueDepth())
	}
}

func TestSelfEchoDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfEcho = false
	b, _ := newTestBroker(cfg)
	a := acceptTestSession(b)
	subscribeHandshake(t, b, a, "*")

	ping := object.New()
	ping.Event = "ping"
	if err := b.handleObject(a, ping); err != nil {
		t.Fatalf("route: %v", err)
	}
	if a.QueueDepth() != 0 {
		t.Fatalf("self-echo should be suppressed, queue depth = %d", a.QueueDepth())
	}
}

func TestSelfEchoEnabledByDefault(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	a := acceptTestSession(b)
	subscribeHandshake(t, b, a, "*")

	ping := object.New()
	ping.Event = "ping"
	if err := b.handleObject(a, ping); err != nil {
		t.Fatalf("route: %v", err)
	}
	if a.QueueDepth() != 1 {
		t.Fatalf("expected self-echo by default, queue depth = %d", a.QueueDepth())
	}
}

func TestEventOnlySubscriberFiltersOutNonMatchingEvent(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	pub := acceptTestSession(b)
	sub := acceptTestSession(b)
	subscribeHandshake(t, b, pub, "*")
	subscribeHandshake(t, b, sub, "@routing/*")

	msg := object.New()
	msg.Event = "services/discovery"
	if err := b.handleObject(pub, msg); err != nil {
		t.Fatalf("route: %v", err)
	}
	if sub.QueueDepth() != 0 {
		t.Fatalf("non-matching event must not be routed, queue depth = %d", sub.QueueDepth())
	}
}

func TestQueueOverflowDisconnectsSlowPeer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueueDepth = 1
	b, fr := newTestBroker(cfg)
	pub := acceptTestSession(b)
	slow := acceptTestSession(b)
	subscribeHandshake(t, b, pub, "*")
	subscribeHandshake(t, b, slow, "*")

	for i := 0; i < 3; i++ {
		msg := object.New()
		msg.Event = "e"
		_ = b.handleObject(pub, msg)
	}
	if slow.State() != session.Disconnected {
		t.Fatalf("slow peer should have been disconnected on overflow")
	}
	found := false
	for _, tok := range fr.closed {
		if tok == slow.Token() {
			found = true
		}
	}
	if !found {
		t.Fatalf("reactor.closeSession was not called for overflowed peer")
	}
}

// TestFastPathFilterMatchesAuthoritativeMatcher checks that a literal-event
// subscriber served by the cuckoo-filter fast path gets the outcome
// subscribe.Decide gives for its rule: the identical event is delivered, a
// sibling event is not.
func TestFastPathFilterMatchesAuthoritativeMatcher(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	literal := acceptTestSession(b)
	subscribeHandshake(t, b, literal, "@routing/announcement")
	pub := acceptTestSession(b)
	subscribeHandshake(t, b, pub, "*")

	matching := object.New()
	matching.Event = "routing/announcement"
	_ = b.handleObject(pub, matching)
	if literal.QueueDepth() != 1 {
		t.Fatalf("literal event subscriber should receive exact-match event, depth=%d", literal.QueueDepth())
	}

	nonMatching := object.New()
	nonMatching.Event = "routing/other"
	_ = b.handleObject(pub, nonMatching)
	if literal.QueueDepth() != 1 {
		t.Fatalf("literal event subscriber must not receive non-matching event, depth=%d", literal.QueueDepth())
	}
}

// TestFastPathFilterHonorsPrefixMatch pins the bug where the cuckoo-filter
// fast path treated a literal "@"-rule as requiring exact string equality
// instead of the matcher's prefix semantics: a literal rule like
// "app/sensors/temp" must also match the longer event
// "app/sensors/temp/room1".
func TestFastPathFilterHonorsPrefixMatch(t *testing.T) {
	b, _ := newTestBroker(DefaultConfig())
	literal := acceptTestSession(b)
	subscribeHandshake(t, b, literal, "@app/sensors/temp")
	pub := acceptTestSession(b)
	subscribeHandshake(t, b, pub, "*")

	longer := object.New()
	longer.Event = "app/sensors/temp/room1"
	_ = b.handleObject(pub, longer)
	if literal.QueueDepth() != 1 {
		t.Fatalf("literal event subscriber must receive event that is a prefix extension, depth=%d", literal.QueueDepth())
	}

	shorter := object.New()
	shorter.Event = "app/sensors"
	_ = b.handleObject(pub, shorter)
	if literal.QueueDepth() != 1 {
		t.Fatalf("literal event subscriber must not receive an event shorter than its rule, depth=%d", literal.QueueDepth())
	}
}

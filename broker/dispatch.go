package broker

import (
	"github.com/biomine3000/routingbroker/internal/nlog"
	"github.com/biomine3000/routingbroker/internal/stats"
	"github.com/biomine3000/routingbroker/object"
	"github.com/biomine3000/routingbroker/session"
	"github.com/biomine3000/routingbroker/subscribe"
)

// handleObject dispatches one decoded frame arriving on s. A non-nil error
// means the caller must tear s down.
func (b *Broker) handleObject(s *session.Session, o *object.Object) error {
	switch s.State() {
	case session.Unsubscribed:
		return b.handleHandshake(s, o)
	case session.Subscribed:
		b.route(s, o)
		return nil
	default:
		return nil // already disconnecting; drop
	}
}

// handleHandshake validates the first frame: it must be a routing/subscribe
// event carrying a parseable subscriptions value.
func (b *Broker) handleHandshake(s *session.Session, o *object.Object) error {
	sub, err := subscribe.ParseHandshake(o)
	if err != nil {
		b.stats.Inc(stats.HandshakeFail)
		return err
	}
	s.Sub = sub
	s.SetState(session.Subscribed)
	b.filter.Add(sub)

	reply := subscribe.Reply(sub, o)
	if err := s.Enqueue(reply); err != nil {
		// the queue is empty at this point, so only a pathological cap can
		// trip this; handled uniformly with every other overflow regardless.
		b.stats.Inc(stats.QueueOverflowDrop)
		return err
	}
	nlog.Infof("session %d (%s) subscribed", s.Token(), s.SID)
	b.mirrorSnapshot(s)
	return nil
}

// route fans o out to every currently-Subscribed peer whose subscription
// matches. The matcher runs per peer; a broker that fanned out
// unconditionally would be a broadcast bus, not pub/sub.
func (b *Broker) route(s *session.Session, o *object.Object) {
	s.Touch()

	decision := subscribe.Decision{
		Event:       o.Event,
		HasEvent:    o.Event != "",
		PayloadType: o.Type,
	}
	if raw, ok := o.Metadata["natures"]; ok {
		decision.Natures = toStringSlice(raw)
	}

	skipLiteralFastPath := decision.HasEvent && !b.filter.MightMatch(decision.Event)

	delivered := 0
	b.registry.forEachSubscribed(func(peer *session.Session) {
		if peer == s && !b.cfg.SelfEcho {
			return
		}
		if lit, ok := fastPathLiteral(peer.Sub); ok {
			if skipLiteralFastPath {
				return
			}
			if subscribe.Match(lit, decision.Event) {
				b.deliver(peer, o)
				delivered++
			}
			return
		}
		if subscribe.Decide(peer.Sub, decision) {
			b.deliver(peer, o)
			delivered++
		}
	})
	if delivered == 0 {
		b.stats.Inc(stats.FramesDropped)
	}
}

func (b *Broker) deliver(peer *session.Session, o *object.Object) {
	if err := peer.Enqueue(o.Clone()); err != nil {
		b.stats.Inc(stats.QueueOverflowDrop)
		b.disconnect(peer, "send queue overflow")
		return
	}
	b.markWritable(peer)
	b.stats.Inc(stats.FramesRouted)
	b.stats.Add(stats.FramesRoutedSize, int64(len(o.Payload)))
	b.mirrorSnapshot(peer)
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

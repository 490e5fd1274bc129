package subscribe

import "github.com/biomine3000/routingbroker/object"

// SubscribeEvent and SubscribeReplyEvent are the two reserved event names
// that drive the handshake state transition.
const (
	SubscribeEvent      = "routing/subscribe"
	SubscribeReplyEvent = "routing/subscribe/reply"

	subscriptionsKey = "subscriptions"
	inReplyToKey     = "in-reply-to"
	idKey            = "id"
)

// ParseHandshake validates that o is a well-formed routing/subscribe frame
// and parses its subscriptions payload — the first frame every connection
// must send before anything is routed to or from it.
func ParseHandshake(o *object.Object) (Subscription, error) {
	if o.Event != SubscribeEvent {
		return nil, ErrNotAnEvent
	}
	raw, ok := o.Metadata[subscriptionsKey]
	if !ok {
		return nil, ErrMissingSubscriptionsKey
	}
	return Parse(raw)
}

// Reply constructs the routing/subscribe/reply object for sub, echoing the
// accepted subscription and, if present, the request's metadata["id"] as
// in-reply-to.
func Reply(sub Subscription, request *object.Object) *object.Object {
	reply := object.New()
	reply.Event = SubscribeReplyEvent
	reply.Metadata[subscriptionsKey] = ToAny(sub)
	if id, ok := request.MetaString(idKey); ok {
		reply.Metadata[inReplyToKey] = id
	}
	return reply
}

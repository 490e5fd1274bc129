package broker

import (
	"strings"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/biomine3000/routingbroker/subscribe"
)

// eventFilter is the fan-out fast path: a cuckoo filter populated with the
// literal (wildcard-free) event rule of every subscribed peer's single
// "@"-rule. Because such a literal rule is
// still a hierarchical *prefix* match (e.g. the rule
// "app/sensors/temp" must also match the longer event
// "app/sensors/temp/room1"), a negative probe is only authoritative when it
// checks every path-prefix of the incoming event, not the event string
// alone — MightMatch does exactly that. Every other shape of subscription
// (negation, "#"/type rules, wildcard globs, multi-rule lists) always
// falls through to the authoritative matcher, so a false positive from the
// filter can never suppress a true match: the filter only ever saves work,
// never changes the routing decision.
type eventFilter struct {
	mu     sync.Mutex
	filter *cuckoo.Filter
	counts map[string]int // literal rule -> number of peers holding it, for safe removal
}

func newEventFilter(capacity uint) *eventFilter {
	return &eventFilter{
		filter: cuckoo.NewFilter(capacity),
		counts: make(map[string]int),
	}
}

// fastPathLiteral returns the literal event string and true if sub is
// exactly a single-rule List holding a non-negated, wildcard-free
// "@"-event rule — the only shape this filter can accelerate.
func fastPathLiteral(sub subscribe.Subscription) (string, bool) {
	list, ok := sub.(subscribe.List)
	if !ok || len(list) != 1 {
		return "", false
	}
	atom, ok := list[0].(subscribe.Atom)
	if !ok {
		return "", false
	}
	rule := string(atom)
	if !strings.HasPrefix(rule, "@") {
		return "", false
	}
	rule = rule[1:]
	if strings.Contains(rule, "*") {
		return "", false
	}
	return rule, true
}

// Add registers sub's fast-path literal (if any) in the filter.
func (ef *eventFilter) Add(sub subscribe.Subscription) {
	lit, ok := fastPathLiteral(sub)
	if !ok {
		return
	}
	ef.mu.Lock()
	defer ef.mu.Unlock()
	if ef.counts[lit] == 0 {
		ef.filter.InsertUnique([]byte(lit))
	}
	ef.counts[lit]++
}

// Remove un-registers sub's fast-path literal, called on session teardown.
func (ef *eventFilter) Remove(sub subscribe.Subscription) {
	lit, ok := fastPathLiteral(sub)
	if !ok {
		return
	}
	ef.mu.Lock()
	defer ef.mu.Unlock()
	ef.counts[lit]--
	if ef.counts[lit] <= 0 {
		delete(ef.counts, lit)
		ef.filter.Delete([]byte(lit))
	}
}

// MightMatch reports whether any peer's fast-path literal could match
// event. A literal rule matches per the matcher's prefix semantics when it
// equals event's token path truncated to the rule's own token count, so
// this probes every path-prefix of event (not just the full string) — a
// false result is authoritative (the filter never false-negatives on a
// literal it was asked to insert) only once every prefix has been checked;
// a true result requires the caller to fall back to a precise check.
func (ef *eventFilter) MightMatch(event string) bool {
	ef.mu.Lock()
	defer ef.mu.Unlock()
	for _, prefix := range eventPrefixes(event) {
		if ef.filter.Lookup([]byte(prefix)) {
			return true
		}
	}
	return false
}

// eventPrefixes returns every '/'-separated prefix of event, shortest
// first, e.g. "a/b/c" -> ["a", "a/b", "a/b/c"].
func eventPrefixes(event string) []string {
	tokens := strings.Split(event, "/")
	out := make([]string, len(tokens))
	for i := range tokens {
		out[i] = strings.Join(tokens[:i+1], "/")
	}
	return out
}

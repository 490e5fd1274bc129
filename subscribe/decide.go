package subscribe

import "strings"

// Decision is the input to the routing decision: the properties of an
// incoming message checked against a peer's subscription.
type Decision struct {
	Natures     []string
	Event       string
	PayloadType string
	HasEvent    bool
}

// Decide evaluates whether d passes sub. sub must be a List at the top
// level — anything else (an Atom, or a List containing a nested List)
// returns false: the broker never routes against a malformed or non-flat
// subscription. Rules apply in order, each overriding prior results when it
// fires, so negative rules can veto and later positive rules re-admit.
func Decide(sub Subscription, d Decision) bool {
	rules, ok := sub.(List)
	if !ok {
		return false
	}

	payloadType := d.PayloadType
	if idx := strings.IndexByte(payloadType, ';'); idx >= 0 {
		payloadType = strings.TrimSpace(payloadType[:idx])
	}

	pass := false
	for _, r := range rules {
		atom, ok := r.(Atom)
		if !ok {
			// a nested List inside the top-level List refuses the whole
			// decision
			return false
		}
		rule := string(atom)
		negative := false
		if strings.HasPrefix(rule, "!") {
			negative = true
			rule = rule[1:]
		}

		switch {
		case strings.HasPrefix(rule, "#"):
			nrule := rule[1:]
			for _, n := range d.Natures {
				if Match(nrule, n) {
					pass = !negative
					break
				}
			}
		case strings.HasPrefix(rule, "@"):
			if d.HasEvent && Match(rule[1:], d.Event) {
				pass = !negative
			}
		default:
			if rule == "*" || (payloadType != "" && Match(rule, payloadType)) {
				pass = !negative
			}
		}
	}
	return pass
}

// Package subscribe implements the subscription language:
// parsing a subscription expression out of its structured header form and
// evaluating the hierarchical glob/negation routing decision for an
// incoming message against it.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package subscribe

import (
	"strings"

	"github.com/pkg/errors"
)

// Subscription is the recursive sum type Atom | List: an interface with a
// private marker method closing the set of implementations, rather than a
// struct with an enum discriminant field.
type Subscription interface {
	isSubscription()
}

type (
	// Atom is a single subscription rule string, e.g. "@routing/*" or "!#debug".
	Atom string
	// List is a conjunction-like bundle of subscriptions applied in order.
	List []Subscription
)

func (Atom) isSubscription() {}
func (List) isSubscription() {}

var (
	// ErrNotAnEvent is returned when the decoded handshake frame's event
	// field isn't "routing/subscribe".
	ErrNotAnEvent = errors.New("subscribe: frame is not a routing/subscribe event")
	// ErrMissingSubscriptionsKey: metadata.subscriptions absent.
	ErrMissingSubscriptionsKey = errors.New("subscribe: missing metadata.subscriptions")
	// ErrBadShape: metadata.subscriptions present but not string/array-of-string(s).
	ErrBadShape = errors.New("subscribe: subscriptions value has unsupported shape")
)

// Parse builds a Subscription out of the structured metadata value found at
// metadata["subscriptions"]. The value is either a string (a single rule,
// an Atom) or an array; recursively nested Lists of Atoms are tolerated
// while parsing — only Decide enforces the flat top-level shape routing
// requires.
func Parse(v any) (Subscription, error) {
	switch t := v.(type) {
	case string:
		return Atom(t), nil
	case []any:
		out := make(List, 0, len(t))
		for _, elem := range t {
			sub, err := Parse(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, sub)
		}
		return out, nil
	default:
		return nil, ErrBadShape
	}
}

// ToAny renders a Subscription back to its structured form (string or
// []any of strings/nested arrays) for echoing in the subscribe reply.
func ToAny(s Subscription) any {
	switch t := s.(type) {
	case Atom:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, sub := range t {
			out[i] = ToAny(sub)
		}
		return out
	default:
		return nil
	}
}

// Match implements the hierarchical glob match: a prefix match over
// '/'-separated tokens with a '*' wildcard that swallows the rest of the
// input regardless of what remains.
func Match(pattern, input string) bool {
	pTok := strings.Split(pattern, "/")
	iTok := strings.Split(input, "/")
	for i, p := range pTok {
		if p == "*" {
			return true
		}
		if i >= len(iTok) {
			return false
		}
		if p != iTok[i] {
			return false
		}
	}
	return true
}

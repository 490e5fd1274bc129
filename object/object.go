// Package object is the in-memory representation of a business object: the
// self-describing message unit routed by the broker. An object carries three
// reserved header fields (event, type, size) promoted out of an otherwise
// free-form metadata mapping, plus an optional binary payload.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package object

import (
	"bytes"

	"github.com/biomine3000/routingbroker/internal/debug"
)

// reserved metadata keys promoted to named fields on decode and demoted back
// on encode; never appear inside Metadata.
const (
	KeyEvent = "event"
	KeyType  = "type"
	KeySize  = "size"
)

type (
	// Object is the broker's business object: header fields plus an
	// optional opaque payload. Metadata excludes the reserved keys above.
	Object struct {
		Event    string
		Type     string
		Metadata map[string]any
		Payload  []byte
		Size     int64
		HasSize  bool // true iff Size was present on the wire (possibly 0)
	}
)

// New returns an empty object with an initialized metadata map, so callers
// never receive a nil map they might range over and then try to write into.
func New() *Object {
	return &Object{Metadata: make(map[string]any, 4)}
}

// HasPayload reports whether a payload follows: a payload is present iff
// size is present and positive.
func (o *Object) HasPayload() bool { return o.HasSize && o.Size > 0 }

// AssertWellFormed checks that a declared size is matched by a payload of
// exactly that length, at the seam where a fully decoded Object is handed
// to a caller. Compiled out unless built with the debug tag.
func (o *Object) AssertWellFormed() {
	debug.Assert(!o.HasPayload() || int64(len(o.Payload)) == o.Size,
		"object: payload length does not match declared size")
}

// Equal compares Event, Type, Size, and Payload only — metadata is opaque
// routing context, not identity, per the object model's equality rule.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.Event != other.Event || o.Type != other.Type {
		return false
	}
	if o.HasSize != other.HasSize || o.Size != other.Size {
		return false
	}
	return bytes.Equal(o.Payload, other.Payload)
}

// Clone returns a value-independent copy of o suitable for enqueuing on more
// than one session's send queue: cross-session fan-out is by value-clone
// into each recipient's queue.
func (o *Object) Clone() *Object {
	c := &Object{
		Event:   o.Event,
		Type:    o.Type,
		Size:    o.Size,
		HasSize: o.HasSize,
	}
	if o.Payload != nil {
		c.Payload = append([]byte(nil), o.Payload...)
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// MetaString returns Metadata[key] coerced to string, and whether the key
// was present and held a string value.
func (o *Object) MetaString(key string) (string, bool) {
	v, ok := o.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
